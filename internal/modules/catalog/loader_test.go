package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"trail/internal/apperr"
	"trail/internal/types"
)

type stubSource struct {
	raws  []json.RawMessage
	err   error
	calls int
}

func (s *stubSource) FetchTaskLocations(_ context.Context, _ types.ID) ([]json.RawMessage, error) {
	s.calls++
	return s.raws, s.err
}

func rawList(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = json.RawMessage(it)
	}
	return out
}

func TestLoader_DropsUnparseableAndKeepsOrder(t *testing.T) {
	src := &stubSource{raws: rawList(
		`{"_id":"l1","lat":1,"long":1}`,
		`{"_id":"broken"}`,
		`{"_id":"l2","coordinates":{"lat":2,"lng":2}}`,
		`{"_id":"l3","location":"3,3"}`,
	)}
	l := NewLoader(src, nil, nil)

	locs, err := l.Load(context.Background(), "task1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("expected 3 locations, got %d", len(locs))
	}
	for i, want := range []types.ID{"l1", "l2", "l3"} {
		if locs[i].ID != want {
			t.Errorf("locs[%d] = %s, want %s", i, locs[i].ID, want)
		}
	}
}

func TestLoader_CachesUntilForgotten(t *testing.T) {
	src := &stubSource{raws: rawList(`{"_id":"l1","lat":1,"long":1}`)}
	l := NewLoader(src, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.Load(ctx, "task1"); err != nil {
			t.Fatal(err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", src.calls)
	}

	l.Forget(ctx, "task1")
	if _, err := l.Load(ctx, "task1"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("expected refetch after forget, got %d calls", src.calls)
	}
}

func TestLoader_ForgetKeepsSharedTier(t *testing.T) {
	src := &stubSource{raws: rawList(`{"_id":"l1","lat":1,"long":1}`)}
	shared := NewMemoryCache()
	l := NewLoader(src, shared, nil)
	ctx := context.Background()

	if _, err := l.Load(ctx, "task1"); err != nil {
		t.Fatal(err)
	}
	l.Forget(ctx, "task1")

	if _, ok, _ := shared.Get(ctx, "task1"); !ok {
		t.Fatal("shared entry should survive forget")
	}
	locs, err := l.Load(ctx, "task1")
	if err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 || len(locs) != 1 {
		t.Errorf("expected shared hit, got %d fetches and %d locations", src.calls, len(locs))
	}
}

func TestLoader_SharedCacheHit(t *testing.T) {
	shared := NewMemoryCache()
	_ = shared.Set(context.Background(), "task1", []TaskLocation{{ID: "cached", Point: types.Point{Lat: 1, Lng: 1}}})
	src := &stubSource{}
	l := NewLoader(src, shared, nil)

	locs, err := l.Load(context.Background(), "task1")
	if err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 || len(locs) != 1 || locs[0].ID != "cached" {
		t.Errorf("expected shared cache hit, got %v (calls=%d)", locs, src.calls)
	}
}

func TestLoader_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"not found", apperr.E(apperr.KindNotFound, "entity.get", "missing", nil), apperr.KindNotFound},
		{"network", apperr.E(apperr.KindTransient, "entity.get", "timeout", nil), apperr.KindTransient},
		{"unclassified", errors.New("boom"), apperr.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(&stubSource{err: tt.err}, nil, nil)
			_, err := l.Load(context.Background(), "task1")
			if got := apperr.KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	redisAddr := os.Getenv("TRAIL_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("TRAIL_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	ctx := context.Background()
	cache := NewRedisCache(rdb, time.Minute)
	taskID := types.ID("cache_test_" + time.Now().Format("150405.000000"))
	defer cache.Delete(ctx, taskID)

	if _, ok, err := cache.Get(ctx, taskID); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	want := []TaskLocation{{ID: "l1", Name: "Gate", Point: types.Point{Lat: 59.4, Lng: 24.7}}}
	if err := cache.Set(ctx, taskID, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cache.Get(ctx, taskID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].ID != "l1" || got[0].Point.Lat != 59.4 {
		t.Errorf("unexpected cached catalog %+v", got)
	}
}
