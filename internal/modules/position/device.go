// README: Device abstraction over the platform location API and a push-fed implementation.
package position

import (
	"context"
	"errors"
	"sync"
	"time"
)

type Options struct {
	Timeout    time.Duration
	MaximumAge time.Duration
}

// Device is the platform location API: a one-shot fix and a watch stream.
type Device interface {
	Current(ctx context.Context, opts Options) (Reading, error)
	Watch(fn func(Reading, error)) (stop func())
}

// PushDevice is a Device fed by the client: the browser forwards every
// watchPosition callback (fix or error) to the API, which pushes it here.
type PushDevice struct {
	mu       sync.Mutex
	last     *Reading
	lastErr  error
	seq      uint64
	notify   chan struct{}
	watchers map[int]func(Reading, error)
	nextID   int
	now      func() time.Time
}

func NewPushDevice() *PushDevice {
	return &PushDevice{
		notify:   make(chan struct{}),
		watchers: make(map[int]func(Reading, error)),
		now:      time.Now,
	}
}

// Push records a new fix and delivers it to watchers.
func (d *PushDevice) Push(r Reading) {
	if r.CapturedAt.IsZero() {
		r.CapturedAt = d.now()
	}
	d.mu.Lock()
	d.last = &r
	d.lastErr = nil
	fns := d.advanceLocked()
	d.mu.Unlock()

	for _, fn := range fns {
		fn(r, nil)
	}
}

// PushError records a device error. A permission denial also forgets the last fix.
func (d *PushDevice) PushError(err error) {
	d.mu.Lock()
	d.lastErr = err
	if errors.Is(err, ErrPermissionDenied) {
		d.last = nil
	}
	fns := d.advanceLocked()
	d.mu.Unlock()

	for _, fn := range fns {
		fn(Reading{}, err)
	}
}

func (d *PushDevice) advanceLocked() []func(Reading, error) {
	d.seq++
	close(d.notify)
	d.notify = make(chan struct{})
	fns := make([]func(Reading, error), 0, len(d.watchers))
	for _, fn := range d.watchers {
		fns = append(fns, fn)
	}
	return fns
}

// Current returns the last fix when it is no older than opts.MaximumAge.
// Otherwise it waits for the next push, up to opts.Timeout.
func (d *PushDevice) Current(ctx context.Context, opts Options) (Reading, error) {
	d.mu.Lock()
	if d.last != nil && d.now().Sub(d.last.CapturedAt) <= opts.MaximumAge {
		r := *d.last
		d.mu.Unlock()
		return r, nil
	}
	if errors.Is(d.lastErr, ErrPermissionDenied) {
		err := d.lastErr
		d.mu.Unlock()
		return Reading{}, err
	}
	startSeq := d.seq
	ch := d.notify
	d.mu.Unlock()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Reading{}, ErrTimeout
			}
			return Reading{}, ctx.Err()
		case <-timer.C:
			return Reading{}, ErrTimeout
		case <-ch:
			d.mu.Lock()
			if d.seq > startSeq {
				if d.lastErr != nil {
					err := d.lastErr
					d.mu.Unlock()
					return Reading{}, err
				}
				if d.last != nil {
					r := *d.last
					d.mu.Unlock()
					return r, nil
				}
			}
			ch = d.notify
			d.mu.Unlock()
		}
	}
}

func (d *PushDevice) Watch(fn func(Reading, error)) (stop func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.watchers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.watchers, id)
		d.mu.Unlock()
	}
}
