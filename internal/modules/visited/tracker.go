// README: Tracker holds the visited set with optimistic marks and authoritative reconciliation.
package visited

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"trail/internal/apperr"
	"trail/internal/types"
)

// Tracker is the visited set of one task session. MarkVisited and Revert are
// local and synchronous; only Load talks to the store.
type Tracker struct {
	source Source
	logger *slog.Logger

	pubMu sync.Mutex

	mu       sync.RWMutex
	taskID   types.ID
	refs     map[types.ID]struct{}
	progress Progress
	// pending holds one entry per unconfirmed mark, recording whether that
	// mark added the ref to the set, so Revert can undo exactly that mark.
	pending map[types.ID][]bool
	subs    map[int]func(Progress)
	nextSub int
}

func NewTracker(source Source, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		source:  source,
		logger:  logger,
		refs:    make(map[types.ID]struct{}),
		pending: make(map[types.ID][]bool),
		subs:    make(map[int]func(Progress)),
	}
}

// Load replaces the set with the user's completed responses for taskID in
// a single store call. The counters are seeded from progress, the same
// task-wide source Reconcile receives after a submission.
func (t *Tracker) Load(ctx context.Context, taskID, userID types.ID, progress Progress) error {
	const op = "visited.load"

	responses, err := t.source.FetchUserCompletedResponses(ctx, taskID, userID)
	if err != nil {
		kind := apperr.KindOf(err)
		if kind != apperr.KindNotFound && kind != apperr.KindPermission {
			kind = apperr.KindTransient
		}
		return apperr.E(kind, op, "loading completed responses", err)
	}

	refs := make(map[types.ID]struct{}, len(responses))
	for _, r := range responses {
		if r.LocationRef != "" {
			refs[r.LocationRef] = struct{}{}
		}
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	t.taskID = taskID
	t.refs = refs
	t.pending = make(map[types.ID][]bool)
	t.progress = Progress{Actual: progress.Actual, Expected: progress.Expected}
	p := t.progress
	subs := t.subscribersLocked()
	t.mu.Unlock()

	t.logger.Debug("visited set loaded",
		slog.String("task_id", taskID.String()),
		slog.String("user_id", userID.String()),
		slog.Int("visited", len(refs)),
		slog.Int("responses", len(responses)))
	publish(subs, p)
	return nil
}

func (t *Tracker) TaskID() types.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.taskID
}

func (t *Tracker) IsVisited(ref types.ID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.refs[ref]
	return ok
}

// Visited returns the visited refs in sorted order.
func (t *Tracker) Visited() []types.ID {
	t.mu.RLock()
	out := make([]types.ID, 0, len(t.refs))
	for ref := range t.refs {
		out = append(out, ref)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetProgress returns the counters. A positive expected overrides the
// stored expected count.
func (t *Tracker) GetProgress(expected int) Progress {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.progress
	if expected > 0 {
		p.Expected = expected
	}
	return p
}

// MarkVisited optimistically adds ref and increments Actual. An empty ref
// only increments the counter.
func (t *Tracker) MarkVisited(ref types.ID) Progress {
	return t.mutate(func() {
		added := false
		if ref != "" {
			if _, ok := t.refs[ref]; !ok {
				t.refs[ref] = struct{}{}
				added = true
			}
		}
		t.pending[ref] = append(t.pending[ref], added)
		t.progress.Actual++
	})
}

// Revert undoes the latest unconfirmed mark of ref. Reverting a ref with no
// pending mark is a no-op.
func (t *Tracker) Revert(ref types.ID) Progress {
	return t.mutate(func() {
		marks := t.pending[ref]
		if len(marks) == 0 {
			return
		}
		added := marks[len(marks)-1]
		if len(marks) == 1 {
			delete(t.pending, ref)
		} else {
			t.pending[ref] = marks[:len(marks)-1]
		}
		if added {
			delete(t.refs, ref)
		}
		if t.progress.Actual > 0 {
			t.progress.Actual--
		}
	})
}

// Reconcile replaces the counters with authoritative values and confirms
// every pending mark.
func (t *Tracker) Reconcile(p Progress) Progress {
	return t.mutate(func() {
		t.pending = make(map[types.ID][]bool)
		t.progress = Progress{Actual: p.Actual, Expected: p.Expected}
	})
}

func (t *Tracker) Subscribe(fn func(Progress)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSub++
	id := t.nextSub
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) mutate(fn func()) Progress {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	fn()
	t.progress.Unconfirmed = len(t.pending) > 0
	p := t.progress
	subs := t.subscribersLocked()
	t.mu.Unlock()

	publish(subs, p)
	return p
}

func (t *Tracker) subscribersLocked() []func(Progress) {
	subs := make([]func(Progress), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}

func publish(subs []func(Progress), p Progress) {
	for _, fn := range subs {
		fn(p)
	}
}
