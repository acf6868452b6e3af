// README: Coordinator drives one task's submission state machine with optimistic progress.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"trail/internal/apperr"
	"trail/internal/modules/response"
	"trail/internal/types"
)

// Deps are the collaborators of a Coordinator. Journal, Guard and Geocoder
// are optional.
type Deps struct {
	Store    Store
	Visits   Visits
	Drafts   Drafts
	Journal  Journal
	Guard    Guard
	Geocoder Geocoder
	Logger   *slog.Logger
}

type Coordinator struct {
	deps   Deps
	cfg    Config
	userID types.ID
	taskID types.ID
	logger *slog.Logger

	pubMu sync.Mutex

	mu        sync.Mutex
	state     State
	busy      bool
	detached  bool
	idleTimer *time.Timer
	// pending keeps the files whose upload failed, against pendingFor.
	pending    []response.File
	pendingFor types.ID

	states  listeners[State]
	uploads listeners[UploadEvent]
	wg      sync.WaitGroup
}

func NewCoordinator(userID, taskID types.ID, deps Deps, cfg Config) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadParallelism < 1 {
		cfg.UploadParallelism = 1
	}
	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		userID: userID,
		taskID: taskID,
		logger: logger.With(slog.String("task_id", taskID.String()), slog.String("user_id", userID.String())),
		state:  State{Phase: PhaseIdle},
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit starts a submission of the current draft. It returns once the
// state is submitting and the optimistic mark is applied; the store calls
// continue in the background and are not cancelled with ctx.
func (c *Coordinator) Submit(ctx context.Context) error {
	return c.submit(ctx, false)
}

// Retry re-submits the preserved draft after a retryable failure. Permission
// and validation failures need a fresh Submit once the input has changed.
func (c *Coordinator) Retry(ctx context.Context) error {
	return c.submit(ctx, true)
}

// Dismiss returns a terminal state to idle. The draft is left as is.
func (c *Coordinator) Dismiss() error {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()
	_, err := c.transition(PhaseIdle, 0, func(s *State) {
		if len(s.FailedUploads) == 0 {
			s.ResponseID = ""
		}
	})
	return err
}

// Detach marks the coordinator inactive. In-flight store calls still
// complete, but no longer touch progress, draft or state.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detached = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// Wait blocks until background submissions have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) Subscribe(fn func(State)) (unsubscribe func()) {
	return c.states.add(fn)
}

func (c *Coordinator) SubscribeUploads(fn func(UploadEvent)) (unsubscribe func()) {
	return c.uploads.add(fn)
}

// RetryUploads re-uploads only the files that failed against the created
// response and returns the failures that remain.
func (c *Coordinator) RetryUploads(ctx context.Context) ([]UploadFailure, error) {
	c.mu.Lock()
	switch {
	case c.detached:
		c.mu.Unlock()
		return nil, ErrDetached
	case c.busy || c.state.Phase == PhaseSubmitting:
		c.mu.Unlock()
		return nil, ErrInFlight
	case len(c.pending) == 0:
		c.mu.Unlock()
		return nil, ErrNoFailedUploads
	}
	files, responseID := c.pending, c.pendingFor
	c.busy = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.SubmitTimeout)
	defer cancel()
	failures, remaining := c.uploadAll(ctx, responseID, files)

	c.mu.Lock()
	c.busy = false
	c.pending = remaining
	c.mu.Unlock()

	c.amend(func(s *State) {
		s.FailedUploads = failures
		s.Reason = partialReason(failures, len(files))
	})
	return failures, nil
}

func (c *Coordinator) submit(ctx context.Context, retry bool) error {
	c.mu.Lock()
	switch {
	case c.detached:
		c.mu.Unlock()
		return ErrDetached
	case c.busy || c.state.Phase == PhaseSubmitting:
		c.mu.Unlock()
		return ErrInFlight
	case retry && c.state.Phase != PhaseFailed:
		c.mu.Unlock()
		return ErrInvalidState
	case retry && c.state.Reason != nil && !c.state.Reason.Retryable:
		c.mu.Unlock()
		return ErrInvalidState
	case !CanTransition(c.state.Phase, PhaseSubmitting):
		c.mu.Unlock()
		return ErrInvalidState
	}
	draft := c.deps.Drafts.Snapshot()
	if !draft.IsSubmittable() {
		c.mu.Unlock()
		return ErrNotSubmittable
	}
	c.busy = true
	c.mu.Unlock()

	release, err := c.acquire(ctx)
	if err != nil {
		c.setBusy(false)
		return err
	}

	if _, err := c.transition(PhaseSubmitting, 0, func(s *State) {
		s.ResponseID = ""
		s.FailedUploads = nil
	}); err != nil {
		release()
		c.setBusy(false)
		return err
	}
	c.mu.Lock()
	c.pending, c.pendingFor = nil, ""
	c.mu.Unlock()

	c.deps.Visits.MarkVisited(draft.LocationID)

	c.wg.Add(1)
	go c.run(context.WithoutCancel(ctx), draft, release)
	return nil
}

func (c *Coordinator) run(ctx context.Context, draft response.Draft, release func()) {
	defer c.wg.Done()
	defer release()
	defer c.setBusy(false)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req := CreateRequest{
		TaskID:     c.taskID,
		UserID:     c.userID,
		Text:       draft.Text,
		LocationID: draft.LocationID,
		Coordinate: draft.Coordinate,
		Address:    c.address(ctx, draft.Coordinate),
	}
	responseID, err := c.deps.Store.CreateResponse(ctx, req)
	if err != nil {
		c.logger.Warn("create response failed", slog.Any("err", err))
		if !c.active() {
			return
		}
		c.deps.Visits.Revert(draft.LocationID)
		reason := reasonFor(err)
		if _, err := c.transition(PhaseFailed, 0, func(s *State) { s.Reason = reason }); err != nil {
			c.logger.Error("failed transition rejected", slog.Any("err", err))
		}
		return
	}

	log := c.logger.With(slog.String("response_id", responseID.String()))
	log.Info("response created")

	failures, remaining := c.uploadAll(ctx, responseID, draft.Files)
	if !c.active() {
		log.Info("task detached before submission completed")
		return
	}

	progress, err := c.deps.Store.FetchTaskProgress(ctx, c.taskID)
	if err != nil {
		log.Warn("progress reconciliation failed", slog.Any("err", err))
	} else {
		c.deps.Visits.Reconcile(progress)
	}
	c.deps.Drafts.Reset()

	c.mu.Lock()
	c.pending, c.pendingFor = remaining, responseID
	c.mu.Unlock()

	next, err := c.transition(PhaseSucceeded, 0, func(s *State) {
		s.ResponseID = responseID
		s.FailedUploads = failures
		s.Reason = partialReason(failures, len(draft.Files))
	})
	if err != nil {
		log.Error("success transition rejected", slog.Any("err", err))
		return
	}
	c.scheduleIdle(next.Version)
}

func (c *Coordinator) scheduleIdle(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.cfg.SuccessDisplay, func() {
		if _, err := c.transition(PhaseIdle, version, nil); err != nil && !errors.Is(err, ErrInvalidState) {
			c.logger.Warn("auto idle failed", slog.Any("err", err))
		}
	})
}

// address reverse-geocodes the device coordinate. Failures only drop the
// address.
func (c *Coordinator) address(ctx context.Context, pt *types.Point) string {
	if pt == nil || c.deps.Geocoder == nil {
		return ""
	}
	addr, err := c.deps.Geocoder.ReverseGeocode(ctx, *pt)
	if err != nil {
		c.logger.Debug("reverse geocoding failed", slog.Any("err", err))
		return ""
	}
	return addr
}

func (c *Coordinator) acquire(ctx context.Context) (func(), error) {
	if c.deps.Guard == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf("submit:%s:%s", c.userID, c.taskID)
	release, ok, err := c.deps.Guard.Acquire(ctx, key, c.cfg.SubmitTimeout+c.cfg.SuccessDisplay)
	if err != nil {
		// A broken guard store must not block submissions; the local check still holds.
		c.logger.Warn("submission guard unavailable", slog.Any("err", err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrInFlight
	}
	return release, nil
}

func (c *Coordinator) uploadAll(ctx context.Context, responseID types.ID, files []response.File) ([]UploadFailure, []response.File) {
	if len(files) == 0 {
		return nil, nil
	}
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(c.cfg.UploadParallelism)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			errs[i] = c.uploadOne(ctx, responseID, f)
			return nil
		})
	}
	_ = g.Wait()

	var failures []UploadFailure
	var remaining []response.File
	for i, err := range errs {
		if err == nil {
			continue
		}
		failures = append(failures, UploadFailure{
			FileID:    files[i].ID,
			Name:      files[i].Name,
			Message:   err.Error(),
			Retryable: apperr.Retryable(err) || apperr.KindOf(err) == apperr.KindUnknown,
		})
		remaining = append(remaining, files[i])
	}
	return failures, remaining
}

func (c *Coordinator) uploadOne(ctx context.Context, responseID types.ID, f response.File) error {
	ev := UploadEvent{ResponseID: responseID, FileID: f.ID, Name: f.Name, Stage: UploadStarted}
	c.uploads.publish(ev)

	target, err := c.deps.Store.RequestFileUploadTarget(ctx, responseID, f)
	if err == nil {
		err = c.deps.Store.UploadFile(ctx, target, f)
	}
	if err != nil {
		c.logger.Warn("file upload failed",
			slog.String("response_id", responseID.String()),
			slog.String("file", f.Name),
			slog.Any("err", err))
		ev.Stage, ev.Error = UploadFailed, err.Error()
		c.uploads.publish(ev)
		return err
	}
	ev.Stage = UploadDone
	c.uploads.publish(ev)
	return nil
}

// transition moves to phase to when allowed. A non-zero version makes the
// move conditional on the current state version.
func (c *Coordinator) transition(to Phase, version uint64, apply func(*State)) (State, error) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	from := c.state
	if (version != 0 && from.Version != version) || !CanTransition(from.Phase, to) {
		c.mu.Unlock()
		return from, ErrInvalidState
	}
	next := from
	next.Phase = to
	next.Reason = nil
	if apply != nil {
		apply(&next)
	}
	next.Version++
	c.state = next
	c.mu.Unlock()

	c.journal(from.Phase, next)
	c.states.publish(next)
	return next, nil
}

// amend replaces the state without a phase change.
func (c *Coordinator) amend(apply func(*State)) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	next := c.state
	apply(&next)
	next.Version++
	c.state = next
	c.mu.Unlock()

	c.states.publish(next)
}

func (c *Coordinator) journal(from Phase, s State) {
	if c.deps.Journal == nil {
		return
	}
	e := Event{
		UserID:    c.userID,
		TaskID:    c.taskID,
		FromPhase: from,
		ToPhase:   s.Phase,
		CreatedAt: time.Now().UTC(),
	}
	if s.ResponseID != "" {
		id := s.ResponseID
		e.ResponseID = &id
	}
	if s.Reason != nil {
		msg := s.Reason.Kind + ": " + s.Reason.Message
		e.Reason = &msg
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Journal.Append(ctx, e); err != nil {
		c.logger.Warn("journal append failed", slog.Any("err", err))
	}
}

func (c *Coordinator) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.detached
}

func (c *Coordinator) setBusy(v bool) {
	c.mu.Lock()
	c.busy = v
	c.mu.Unlock()
}

func reasonFor(err error) *Reason {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown || kind == apperr.KindNotFound {
		kind = apperr.KindTransient
	}
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	return &Reason{
		Kind:      kind.String(),
		Message:   msg,
		Fields:    apperr.FieldsOf(err),
		Retryable: kind == apperr.KindTransient,
	}
}

func partialReason(failures []UploadFailure, total int) *Reason {
	if len(failures) == 0 {
		return nil
	}
	return &Reason{
		Kind:      apperr.KindPartial.String(),
		Message:   fmt.Sprintf("%d of %d attachments failed to upload", len(failures), total),
		Retryable: true,
	}
}
