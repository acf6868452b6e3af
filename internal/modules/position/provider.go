// README: Provider tracks the user's live position, permission state and manual override.
package position

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trail/internal/types"
)

type Config struct {
	Timeout    time.Duration
	MaximumAge time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second, MaximumAge: 5 * time.Minute}
}

// Provider owns the single shared UserPosition of one user. Readings replace
// the position atomically; subscribers receive each replacement in order.
// Subscribers must not call back into the provider's mutating methods.
type Provider struct {
	device Device
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// pubMu serialises mutate+publish so subscribers observe replacements in order.
	pubMu sync.Mutex

	mu        sync.RWMutex
	current   *Position
	manual    bool
	denied    bool
	lastErr   error
	stopWatch func()
	subs      map[int]func(*Position)
	nextSub   int
}

func NewProvider(device Device, cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		device: device,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(*Position)),
	}
}

// Start subscribes to device updates. Calling Start twice is a no-op.
func (p *Provider) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopWatch != nil {
		return
	}
	p.stopWatch = p.device.Watch(p.onDevice)
}

func (p *Provider) Stop() {
	p.mu.Lock()
	stop := p.stopWatch
	p.stopWatch = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// CurrentPosition requests a fresh fix, accepting a cached one up to
// MaximumAge old. While a manual override is active the manual position is
// returned without touching the device. Failures are never retried here.
func (p *Provider) CurrentPosition(ctx context.Context) (*Position, error) {
	p.mu.RLock()
	if p.manual && p.current != nil {
		pos := p.current
		p.mu.RUnlock()
		return pos, nil
	}
	p.mu.RUnlock()

	r, err := p.device.Current(ctx, Options{Timeout: p.cfg.Timeout, MaximumAge: p.cfg.MaximumAge})
	if err != nil {
		err = classify(err)
		p.fail(err)
		return nil, err
	}
	return p.accept(r), nil
}

// Position returns the current position or nil.
func (p *Provider) Position() *Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Provider) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{Denied: p.denied, Manual: p.manual, Position: p.current}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// SetManual installs a manual position. Automatic GPS updates are ignored
// until UseGPS is called.
func (p *Provider) SetManual(pt types.Point) (*Position, error) {
	if err := pt.Validate(); err != nil {
		return nil, err
	}
	pos := &Position{Point: pt, Source: SourceManual, CapturedAt: p.now()}

	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	p.current = pos
	p.manual = true
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.publish(subs, pos)
	return pos, nil
}

// UseGPS releases the manual override. The manual position stays current
// until the next GPS fix supersedes it.
func (p *Provider) UseGPS() {
	p.mu.Lock()
	p.manual = false
	p.mu.Unlock()
}

// Reset clears the position and any manual override.
func (p *Provider) Reset() {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	p.current = nil
	p.manual = false
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.publish(subs, nil)
}

// Subscribe registers fn for position replacements (nil when cleared).
func (p *Provider) Subscribe(fn func(*Position)) (unsubscribe func()) {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *Provider) onDevice(r Reading, err error) {
	if err != nil {
		p.fail(classify(err))
		return
	}
	p.accept(r)
}

// accept installs a GPS reading unless a manual override is active, and
// returns whatever position is current afterwards.
func (p *Provider) accept(r Reading) *Position {
	if err := r.Point.Validate(); err != nil {
		p.logger.Warn("discarding invalid gps reading", slog.Any("err", err))
		return p.Position()
	}

	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	if p.manual {
		cur := p.current
		p.mu.Unlock()
		p.logger.Debug("gps reading ignored during manual override")
		return cur
	}
	pos := &Position{Point: r.Point, Source: SourceGPS, CapturedAt: r.CapturedAt}
	if pos.CapturedAt.IsZero() {
		pos.CapturedAt = p.now()
	}
	p.current = pos
	p.denied = false
	p.lastErr = nil
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.publish(subs, pos)
	return pos
}

// fail records a device error. Permission denial is sticky and clears a GPS
// position; other errors are transient and leave the last position in place.
func (p *Provider) fail(err error) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	p.lastErr = err
	if !errors.Is(err, ErrPermissionDenied) {
		p.mu.Unlock()
		return
	}
	p.denied = true
	if p.manual || p.current == nil {
		p.mu.Unlock()
		return
	}
	p.current = nil
	subs := p.subscribersLocked()
	p.mu.Unlock()

	p.publish(subs, nil)
}

func (p *Provider) subscribersLocked() []func(*Position) {
	subs := make([]func(*Position), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (p *Provider) publish(subs []func(*Position), pos *Position) {
	for _, fn := range subs {
		fn(pos)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPositionUnavailable), errors.Is(err, ErrTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return err
	}
	return ErrPositionUnavailable
}
