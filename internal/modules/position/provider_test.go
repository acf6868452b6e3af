package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trail/internal/types"
)

func testConfig() Config {
	return Config{Timeout: 50 * time.Millisecond, MaximumAge: 5 * time.Minute}
}

type recorder struct {
	mu  sync.Mutex
	got []*Position
}

func (r *recorder) record(p *Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
}

func (r *recorder) all() []*Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Position(nil), r.got...)
}

func TestPushDevice_CurrentUsesFreshCache(t *testing.T) {
	dev := NewPushDevice()
	dev.Push(Reading{Point: types.Point{Lat: 59.43, Lng: 24.75}, CapturedAt: time.Now().Add(-time.Minute)})

	r, err := dev.Current(context.Background(), testConfig().toOptions())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if r.Point.Lat != 59.43 {
		t.Errorf("unexpected reading %+v", r)
	}
}

func TestPushDevice_CurrentWaitsForNextPush(t *testing.T) {
	dev := NewPushDevice()
	dev.Push(Reading{Point: types.Point{Lat: 1, Lng: 1}, CapturedAt: time.Now().Add(-time.Hour)})

	done := make(chan Reading, 1)
	go func() {
		r, err := dev.Current(context.Background(), Options{Timeout: time.Second, MaximumAge: 5 * time.Minute})
		if err != nil {
			t.Errorf("Current: %v", err)
		}
		done <- r
	}()

	time.Sleep(10 * time.Millisecond)
	dev.Push(Reading{Point: types.Point{Lat: 2, Lng: 2}})

	select {
	case r := <-done:
		if r.Point.Lat != 2 {
			t.Errorf("expected fresh reading, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Current did not return after push")
	}
}

func TestPushDevice_CurrentTimesOut(t *testing.T) {
	dev := NewPushDevice()
	_, err := dev.Current(context.Background(), Options{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestPushDevice_PermissionDeniedIsSticky(t *testing.T) {
	dev := NewPushDevice()
	dev.Push(Reading{Point: types.Point{Lat: 1, Lng: 1}})
	dev.PushError(ErrPermissionDenied)

	_, err := dev.Current(context.Background(), Options{Timeout: time.Second, MaximumAge: time.Hour})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestProvider_PublishesReadings(t *testing.T) {
	dev := NewPushDevice()
	p := NewProvider(dev, testConfig(), nil)
	p.Start()
	defer p.Stop()

	var rec recorder
	unsub := p.Subscribe(rec.record)

	dev.Push(Reading{Point: types.Point{Lat: 10, Lng: 20}})
	dev.Push(Reading{Point: types.Point{Lat: 11, Lng: 21}})
	unsub()
	dev.Push(Reading{Point: types.Point{Lat: 12, Lng: 22}})

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 published positions, got %d", len(got))
	}
	if got[0].Lat != 10 || got[1].Lat != 11 || got[1].Source != SourceGPS {
		t.Errorf("unexpected positions: %+v %+v", got[0], got[1])
	}
	if p.Position().Lat != 12 {
		t.Errorf("provider should keep tracking after unsubscribe, got %+v", p.Position())
	}
	if got[0] == got[1] {
		t.Error("each reading must be a new Position value")
	}
}

func TestProvider_ManualOverrideSuppressesGPS(t *testing.T) {
	dev := NewPushDevice()
	p := NewProvider(dev, testConfig(), nil)
	p.Start()
	defer p.Stop()

	if _, err := p.SetManual(types.Point{Lat: 59.0, Lng: 24.0}); err != nil {
		t.Fatalf("SetManual: %v", err)
	}
	dev.Push(Reading{Point: types.Point{Lat: 1, Lng: 1}})

	pos := p.Position()
	if pos.Source != SourceManual || pos.Lat != 59.0 {
		t.Fatalf("manual position replaced by gps: %+v", pos)
	}

	got, err := p.CurrentPosition(context.Background())
	if err != nil || got.Source != SourceManual {
		t.Fatalf("CurrentPosition during override = %+v, %v", got, err)
	}

	p.UseGPS()
	if p.Position().Source != SourceManual {
		t.Error("manual position should remain until the next gps fix")
	}
	dev.Push(Reading{Point: types.Point{Lat: 2, Lng: 2}})
	if pos := p.Position(); pos.Source != SourceGPS || pos.Lat != 2 {
		t.Errorf("expected gps position after UseGPS, got %+v", pos)
	}
}

func TestProvider_SetManualRejectsInvalid(t *testing.T) {
	p := NewProvider(NewPushDevice(), testConfig(), nil)
	if _, err := p.SetManual(types.Point{Lat: 91, Lng: 0}); err == nil {
		t.Fatal("expected validation error")
	}
	if p.Position() != nil {
		t.Error("invalid manual position must not be installed")
	}
}

func TestProvider_PermissionDenied(t *testing.T) {
	dev := NewPushDevice()
	p := NewProvider(dev, testConfig(), nil)
	p.Start()
	defer p.Stop()

	var rec recorder
	p.Subscribe(rec.record)

	dev.Push(Reading{Point: types.Point{Lat: 5, Lng: 5}})
	dev.PushError(ErrPermissionDenied)

	st := p.Status()
	if !st.Denied {
		t.Fatal("expected sticky denied state")
	}
	if p.Position() != nil {
		t.Error("position should be cleared on permission revocation")
	}
	got := rec.all()
	if len(got) != 2 || got[1] != nil {
		t.Fatalf("expected clear to be published, got %v", got)
	}

	// A transient error afterwards does not lift the denied state.
	dev.PushError(ErrPositionUnavailable)
	if !p.Status().Denied {
		t.Error("transient error must not reset denied state")
	}

	// A successful fix (permission granted again) does.
	dev.Push(Reading{Point: types.Point{Lat: 6, Lng: 6}})
	if p.Status().Denied {
		t.Error("fresh fix should clear denied state")
	}
}

func TestProvider_CurrentPositionTimeout(t *testing.T) {
	p := NewProvider(NewPushDevice(), testConfig(), nil)
	_, err := p.CurrentPosition(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if p.Status().Denied {
		t.Error("timeout must not be reported as denial")
	}
	if p.Status().LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestProvider_Reset(t *testing.T) {
	dev := NewPushDevice()
	p := NewProvider(dev, testConfig(), nil)
	if _, err := p.SetManual(types.Point{Lat: 1, Lng: 1}); err != nil {
		t.Fatal(err)
	}
	p.Reset()
	if p.Position() != nil || p.Status().Manual {
		t.Errorf("expected cleared provider, got %+v", p.Status())
	}
}

func TestErrorFromCode(t *testing.T) {
	for code, want := range map[string]error{
		CodePermissionDenied:    ErrPermissionDenied,
		CodePositionUnavailable: ErrPositionUnavailable,
		CodeTimeout:             ErrTimeout,
	} {
		got, ok := ErrorFromCode(code)
		if !ok || got != want {
			t.Errorf("ErrorFromCode(%s) = %v, %v", code, got, ok)
		}
	}
	if _, ok := ErrorFromCode("BOGUS"); ok {
		t.Error("unknown code should not map")
	}
}

func (c Config) toOptions() Options {
	return Options{Timeout: c.Timeout, MaximumAge: c.MaximumAge}
}
