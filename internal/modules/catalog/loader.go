// README: Loader fetches and normalizes a task's candidate locations, caching per task.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"

	"trail/internal/apperr"
	"trail/internal/types"
)

// Source is the external store call that lists a task's raw locations.
type Source interface {
	FetchTaskLocations(ctx context.Context, taskID types.ID) ([]json.RawMessage, error)
}

type Loader struct {
	source Source
	local  Cache
	shared Cache
	logger *slog.Logger
}

// NewLoader builds a loader. shared may be nil when no Redis is configured.
func NewLoader(source Source, shared Cache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{source: source, local: NewMemoryCache(), shared: shared, logger: logger}
}

// Load returns the normalized catalog of a task in upstream order. Entries
// without a parseable coordinate are dropped. Store failures are returned
// as NotFound or TransientNetwork errors.
func (l *Loader) Load(ctx context.Context, taskID types.ID) ([]TaskLocation, error) {
	const op = "catalog.load"

	if locs, ok, _ := l.local.Get(ctx, taskID); ok {
		return locs, nil
	}
	if l.shared != nil {
		locs, ok, err := l.shared.Get(ctx, taskID)
		if err != nil {
			l.logger.Warn("shared catalog cache read failed", slog.String("task_id", taskID.String()), slog.Any("err", err))
		} else if ok {
			_ = l.local.Set(ctx, taskID, locs)
			return locs, nil
		}
	}

	raws, err := l.source.FetchTaskLocations(ctx, taskID)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.KindNotFound && kind != apperr.KindPermission {
			kind = apperr.KindTransient
		}
		return nil, apperr.E(kind, op, "loading task locations", err)
	}

	locs := make([]TaskLocation, 0, len(raws))
	for i, raw := range raws {
		loc, err := Normalize(raw)
		if err != nil {
			l.logger.Debug("dropping task location",
				slog.String("task_id", taskID.String()),
				slog.Int("index", i),
				slog.Any("err", err))
			continue
		}
		locs = append(locs, loc)
	}

	_ = l.local.Set(ctx, taskID, locs)
	if l.shared != nil {
		if err := l.shared.Set(ctx, taskID, locs); err != nil {
			l.logger.Warn("shared catalog cache write failed", slog.String("task_id", taskID.String()), slog.Any("err", err))
		}
	}
	return locs, nil
}

// Forget drops the in-process copy of a task's catalog. The shared tier is
// left to expire by its TTL since other users and replicas still read it.
func (l *Loader) Forget(ctx context.Context, taskID types.ID) {
	_ = l.local.Delete(ctx, taskID)
}
