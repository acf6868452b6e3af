// README: Ranker orders the catalog by distance from the live position with jitter suppression.
package ranking

import (
	"sync"

	"trail/internal/modules/catalog"
	"trail/internal/modules/geo"
	"trail/internal/modules/position"
)

// Rank decorates the catalog with distance and visited flags. Without a
// position the catalog order is preserved and distances are nil; with one,
// entries are sorted ascending by distance, ties keeping catalog order.
func Rank(locs []catalog.TaskLocation, pos *position.Position, visited Visited) []RankedLocation {
	out := make([]RankedLocation, len(locs))
	for i, loc := range locs {
		out[i] = RankedLocation{TaskLocation: loc}
		if visited != nil {
			out[i].Visited = visited.IsVisited(loc.ID)
		}
		if pos != nil {
			d := geo.DistanceMeters(pos.Point, loc.Point)
			out[i].DistanceMeters = &d
			out[i].DistanceLabel = geo.FormatDistance(d)
		}
	}
	if pos != nil {
		geo.SortByDistance(out, func(r RankedLocation) float64 { return *r.DistanceMeters })
	}
	return out
}

// Ranker caches the current Ranking and replaces it only on significant
// position changes or visited-set changes.
type Ranker struct {
	cfg     Config
	catalog []catalog.TaskLocation
	visited Visited

	pubMu sync.Mutex

	mu      sync.RWMutex
	anchor  *position.Position
	current *Ranking
	subs    map[int]func(*Ranking)
	nextSub int
}

func NewRanker(locs []catalog.TaskLocation, visited Visited, cfg Config) *Ranker {
	r := &Ranker{
		cfg:     cfg,
		catalog: locs,
		visited: visited,
		subs:    make(map[int]func(*Ranking)),
	}
	r.current = &Ranking{Items: Rank(locs, nil, visited), Version: 1}
	return r
}

// Current returns the cached ranking.
func (r *Ranker) Current() *Ranking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// UpdatePosition re-ranks for a new position. It reports false and returns
// the cached ranking unchanged when the move since the last re-rank is
// below the significance threshold.
func (r *Ranker) UpdatePosition(pos *position.Position) (*Ranking, bool) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if !r.significantLocked(pos) {
		cur := r.current
		r.mu.Unlock()
		return cur, false
	}
	r.anchor = pos
	next := r.rerankLocked()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	publish(subs, next)
	return next, true
}

// Refresh re-ranks unconditionally with the anchored position, used when
// the visited set changed.
func (r *Ranker) Refresh() *Ranking {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	next := r.rerankLocked()
	subs := r.subscribersLocked()
	r.mu.Unlock()

	publish(subs, next)
	return next
}

// ClosestUnvisited returns the first n unvisited entries of the current
// ranking; n <= 0 uses the configured default.
func (r *Ranker) ClosestUnvisited(n int) []RankedLocation {
	if n <= 0 {
		n = r.cfg.ClosestN
	}
	return closestUnvisited(r.Current(), n)
}

func (r *Ranker) Subscribe(fn func(*Ranking)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Ranker) significantLocked(pos *position.Position) bool {
	switch {
	case pos == nil:
		return r.anchor != nil
	case r.anchor == nil:
		return true
	}
	return !pos.Point.WithinDelta(r.anchor.Point, r.cfg.ThresholdDegrees)
}

func (r *Ranker) rerankLocked() *Ranking {
	next := &Ranking{
		Items:    Rank(r.catalog, r.anchor, r.visited),
		Position: r.anchor,
		Version:  r.current.Version + 1,
	}
	r.current = next
	return next
}

func (r *Ranker) subscribersLocked() []func(*Ranking) {
	subs := make([]func(*Ranking), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	return subs
}

func publish(subs []func(*Ranking), rk *Ranking) {
	for _, fn := range subs {
		fn(rk)
	}
}

func closestUnvisited(rk *Ranking, n int) []RankedLocation {
	out := make([]RankedLocation, 0, n)
	for _, item := range rk.Items {
		if len(out) == n {
			break
		}
		if !item.Visited {
			out = append(out, item)
		}
	}
	return out
}
