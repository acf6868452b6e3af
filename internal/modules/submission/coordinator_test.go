package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trail/internal/apperr"
	"trail/internal/modules/response"
	"trail/internal/modules/visited"
	"trail/internal/types"
)

type fakeStore struct {
	mu          sync.Mutex
	gate        chan struct{}
	createCalls int
	createErrs  []error
	uploadErrs  map[string]error
	uploaded    []string
	progress    visited.Progress
	progressErr error
	requests    []CreateRequest
}

func (f *fakeStore) CreateResponse(ctx context.Context, req CreateRequest) (types.ID, error) {
	f.mu.Lock()
	f.createCalls++
	f.requests = append(f.requests, req)
	var err error
	if len(f.createErrs) > 0 {
		err, f.createErrs = f.createErrs[0], f.createErrs[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "resp-1", nil
}

func (f *fakeStore) RequestFileUploadTarget(_ context.Context, responseID types.ID, file response.File) (UploadTarget, error) {
	return UploadTarget{URL: "https://upload.test/" + string(responseID) + "/" + file.Name, Method: "PUT"}, nil
}

func (f *fakeStore) UploadFile(_ context.Context, _ UploadTarget, file response.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, file.Name)
	return f.uploadErrs[file.Name]
}

func (f *fakeStore) FetchTaskProgress(context.Context, types.ID) (visited.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress, f.progressErr
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type noResponses struct{}

func (noResponses) FetchUserCompletedResponses(context.Context, types.ID, types.ID) ([]visited.CompletedResponse, error) {
	return nil, nil
}

type fakeJournal struct {
	mu     sync.Mutex
	events []Event
}

func (j *fakeJournal) Append(_ context.Context, e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

type busyGuard struct{}

func (busyGuard) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type fixture struct {
	store    *fakeStore
	tracker  *visited.Tracker
	composer *response.Composer
	journal  *fakeJournal
	coord    *Coordinator
}

func newFixture(t *testing.T, store *fakeStore, cfg Config) *fixture {
	t.Helper()
	tracker := visited.NewTracker(noResponses{}, nil)
	if err := tracker.Load(context.Background(), "task-1", "user-1", visited.Progress{Expected: 3}); err != nil {
		t.Fatal(err)
	}
	composer := response.NewComposer("task-1", response.DefaultConfig())
	journal := &fakeJournal{}
	coord := NewCoordinator("user-1", "task-1", Deps{
		Store:   store,
		Visits:  tracker,
		Drafts:  composer,
		Journal: journal,
	}, cfg)
	return &fixture{store: store, tracker: tracker, composer: composer, journal: journal, coord: coord}
}

func slowIdle() Config {
	cfg := DefaultConfig()
	cfg.SuccessDisplay = time.Hour
	return cfg
}

func waitPhase(t *testing.T, c *Coordinator, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State().Phase == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase = %s, want %s", c.State().Phase, want)
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseSubmitting, true},
		{PhaseSubmitting, PhaseSucceeded, true},
		{PhaseSubmitting, PhaseFailed, true},
		{PhaseFailed, PhaseSubmitting, true},
		{PhaseFailed, PhaseIdle, true},
		{PhaseSucceeded, PhaseIdle, true},
		{PhaseIdle, PhaseSucceeded, false},
		{PhaseSubmitting, PhaseIdle, false},
		{PhaseSucceeded, PhaseSubmitting, false},
		{PhaseSubmitting, PhaseSubmitting, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSubmit_ScenarioB(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), progress: visited.Progress{Actual: 1, Expected: 3}}
	cfg := DefaultConfig()
	cfg.SuccessDisplay = 20 * time.Millisecond
	f := newFixture(t, store, cfg)
	f.composer.SetText("visited!")

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Optimistic progress is visible before the store answers.
	if p := f.tracker.GetProgress(0); p.Actual != 1 || !p.Unconfirmed {
		t.Fatalf("optimistic progress = %+v", p)
	}
	if f.coord.State().Phase != PhaseSubmitting {
		t.Fatalf("phase = %s", f.coord.State().Phase)
	}

	close(store.gate)
	f.coord.Wait()

	st := f.coord.State()
	if st.Phase != PhaseSucceeded || st.ResponseID != "resp-1" || st.Reason != nil {
		t.Fatalf("state = %+v", st)
	}
	if d := f.composer.Snapshot(); !d.IsEmpty() {
		t.Errorf("draft not cleared: %+v", d)
	}
	if p := f.tracker.GetProgress(0); p != (visited.Progress{Actual: 1, Expected: 3}) {
		t.Errorf("reconciled progress = %+v", p)
	}
	if req := store.requests[0]; req.Text != "visited!" || req.LocationID != "" || req.UserID != "user-1" {
		t.Errorf("create request = %+v", req)
	}

	waitPhase(t, f.coord, PhaseIdle)
}

func TestSubmit_ScenarioC(t *testing.T) {
	store := &fakeStore{
		createErrs: []error{apperr.E(apperr.KindTransient, "store.create", "request timed out", context.DeadlineExceeded)},
		progress:   visited.Progress{Actual: 1, Expected: 3},
	}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("visited!")
	f.composer.SelectLocation("loc-1")
	before := f.tracker.GetProgress(0)

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	st := f.coord.State()
	if st.Phase != PhaseFailed || st.Reason == nil || !st.Reason.Retryable || st.Reason.Kind != "network" {
		t.Fatalf("state = %+v reason=%+v", st, st.Reason)
	}
	if d := f.composer.Snapshot(); d.Text != "visited!" || d.LocationID != "loc-1" {
		t.Errorf("draft not preserved: %+v", d)
	}
	if p := f.tracker.GetProgress(0); p.Actual != before.Actual || p.Unconfirmed {
		t.Errorf("progress = %+v, want rolled back to %+v", p, before)
	}
	if f.tracker.IsVisited("loc-1") {
		t.Error("optimistic visited mark not reverted")
	}

	if err := f.coord.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	f.coord.Wait()
	if st := f.coord.State(); st.Phase != PhaseSucceeded {
		t.Fatalf("retry state = %+v", st)
	}
	if store.calls() != 2 {
		t.Errorf("create calls = %d, want 2", store.calls())
	}
	if !f.tracker.IsVisited("loc-1") {
		t.Error("location should be visited after successful retry")
	}
}

func TestSubmit_FailureReasons(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      string
		retryable bool
		fields    bool
	}{
		{"permission", apperr.E(apperr.KindPermission, "store", "not allowed to respond", nil), "permission", false, false},
		{"validation", apperr.Invalid("store", "invalid response", map[string]string{"text": "too long"}), "validation", false, true},
		{"unknown", errors.New("boom"), "network", true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeStore{createErrs: []error{tc.err}}, slowIdle())
			f.composer.SetText("x")
			if err := f.coord.Submit(context.Background()); err != nil {
				t.Fatal(err)
			}
			f.coord.Wait()
			r := f.coord.State().Reason
			if r == nil || r.Kind != tc.kind || r.Retryable != tc.retryable || (len(r.Fields) > 0) != tc.fields {
				t.Fatalf("reason = %+v", r)
			}
		})
	}
}

func TestRetry_RejectsNonRetryableFailure(t *testing.T) {
	store := &fakeStore{createErrs: []error{apperr.E(apperr.KindPermission, "store", "not allowed to respond", nil)}}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("x")

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
	if st := f.coord.State(); st.Phase != PhaseFailed || st.Reason == nil || st.Reason.Retryable {
		t.Fatalf("state = %+v", st)
	}

	if err := f.coord.Retry(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Retry err = %v, want ErrInvalidState", err)
	}
	if store.calls() != 1 {
		t.Fatalf("create calls = %d, want 1", store.calls())
	}

	// A new submission from failed is still allowed.
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("Submit after failure: %v", err)
	}
	f.coord.Wait()
	if st := f.coord.State(); st.Phase != PhaseSucceeded || store.calls() != 2 {
		t.Errorf("state = %+v, create calls = %d", st, store.calls())
	}
}

func TestSubmit_Idempotent(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("once")

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Submit(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Fatalf("second submit err = %v, want ErrInFlight", err)
	}
	close(store.gate)
	f.coord.Wait()

	if store.calls() != 1 {
		t.Fatalf("create calls = %d, want 1", store.calls())
	}
}

func TestSubmit_ConcurrentCallersCreateOnce(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("race")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.coord.Submit(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	close(store.gate)
	f.coord.Wait()

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInFlight) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || store.calls() != 1 {
		t.Fatalf("successes = %d, create calls = %d", success, store.calls())
	}
}

func TestSubmit_EmptyDraftIsNoop(t *testing.T) {
	store := &fakeStore{}
	f := newFixture(t, store, slowIdle())
	if err := f.coord.Submit(context.Background()); !errors.Is(err, ErrNotSubmittable) {
		t.Fatalf("err = %v", err)
	}
	if f.coord.State().Phase != PhaseIdle || store.calls() != 0 || f.tracker.GetProgress(0).Actual != 0 {
		t.Error("empty submit must not change anything")
	}
}

func TestSubmit_GuardHeldElsewhere(t *testing.T) {
	store := &fakeStore{}
	f := newFixture(t, store, slowIdle())
	f.coord.deps.Guard = busyGuard{}
	f.composer.SetText("x")

	if err := f.coord.Submit(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v", err)
	}
	if f.coord.State().Phase != PhaseIdle || f.tracker.GetProgress(0).Actual != 0 {
		t.Error("guarded submit must leave state untouched")
	}
	f.coord.deps.Guard = nil
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatalf("local state must not stay busy: %v", err)
	}
	f.coord.Wait()
}

func TestSubmit_PartialUploadFailure(t *testing.T) {
	store := &fakeStore{uploadErrs: map[string]error{
		"b.png": apperr.E(apperr.KindTransient, "upload", "connection reset", nil),
	}}
	cfg := slowIdle()
	cfg.UploadParallelism = 2
	f := newFixture(t, store, cfg)
	if _, err := f.composer.AddFile("a.png", pngBytes); err != nil {
		t.Fatal(err)
	}
	if _, err := f.composer.AddFile("b.png", pngBytes); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	stages := map[string][]UploadStage{}
	f.coord.SubscribeUploads(func(ev UploadEvent) {
		mu.Lock()
		stages[ev.Name] = append(stages[ev.Name], ev.Stage)
		mu.Unlock()
	})

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	st := f.coord.State()
	if st.Phase != PhaseSucceeded || st.ResponseID != "resp-1" {
		t.Fatalf("partial failure must still succeed: %+v", st)
	}
	if len(st.FailedUploads) != 1 || st.FailedUploads[0].Name != "b.png" || !st.FailedUploads[0].Retryable {
		t.Fatalf("failed uploads = %+v", st.FailedUploads)
	}
	if st.Reason == nil || st.Reason.Kind != "partial_failure" {
		t.Errorf("reason = %+v", st.Reason)
	}
	if !f.composer.Snapshot().IsEmpty() {
		t.Error("draft should be cleared once the record exists")
	}
	mu.Lock()
	if got := stages["a.png"]; len(got) != 2 || got[1] != UploadDone {
		t.Errorf("a.png stages = %v", got)
	}
	if got := stages["b.png"]; len(got) != 2 || got[1] != UploadFailed {
		t.Errorf("b.png stages = %v", got)
	}
	mu.Unlock()

	store.mu.Lock()
	store.uploadErrs = nil
	store.uploaded = nil
	store.mu.Unlock()

	failures, err := f.coord.RetryUploads(context.Background())
	if err != nil || len(failures) != 0 {
		t.Fatalf("RetryUploads = %v, %v", failures, err)
	}
	if len(store.uploaded) != 1 || store.uploaded[0] != "b.png" {
		t.Errorf("retry re-uploaded %v, want only b.png", store.uploaded)
	}
	if st := f.coord.State(); len(st.FailedUploads) != 0 || st.Reason != nil {
		t.Errorf("state after retry = %+v", st)
	}
	if _, err := f.coord.RetryUploads(context.Background()); !errors.Is(err, ErrNoFailedUploads) {
		t.Errorf("second retry err = %v", err)
	}
}

func TestSubmit_ReconcileFailureLeavesUnconfirmed(t *testing.T) {
	store := &fakeStore{progressErr: errors.New("timeout")}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("x")
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
	if f.coord.State().Phase != PhaseSucceeded {
		t.Fatalf("phase = %s", f.coord.State().Phase)
	}
	if p := f.tracker.GetProgress(0); p.Actual != 1 || !p.Unconfirmed {
		t.Errorf("progress = %+v, want unconfirmed optimistic count", p)
	}
}

func TestDetach_SkipsLateCompletion(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), progress: visited.Progress{Actual: 5, Expected: 5}}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("late")

	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Detach()
	close(store.gate)
	f.coord.Wait()

	if store.calls() != 1 {
		t.Fatalf("record should still be created, calls = %d", store.calls())
	}
	if f.coord.State().Phase != PhaseSubmitting {
		t.Errorf("detached coordinator must not change state, got %s", f.coord.State().Phase)
	}
	if f.composer.Snapshot().Text != "late" {
		t.Error("detached coordinator must not clear the draft")
	}
	if p := f.tracker.GetProgress(0); p.Actual == 5 {
		t.Error("detached coordinator must not reconcile progress")
	}
	if err := f.coord.Submit(context.Background()); !errors.Is(err, ErrDetached) {
		t.Errorf("submit after detach err = %v", err)
	}
}

func TestSubmit_ContextCancellationDoesNotAbort(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{})}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("x")

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.coord.Submit(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(store.gate)
	f.coord.Wait()

	if st := f.coord.State(); st.Phase != PhaseSucceeded {
		t.Fatalf("request cancellation must not abort the submission: %+v", st)
	}
}

func TestDismissAndJournal(t *testing.T) {
	store := &fakeStore{createErrs: []error{errors.New("offline")}}
	f := newFixture(t, store, slowIdle())
	f.composer.SetText("x")

	if err := f.coord.Dismiss(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("dismiss from idle err = %v", err)
	}
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()
	if err := f.coord.Dismiss(); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if st := f.coord.State(); st.Phase != PhaseIdle || st.Reason != nil {
		t.Errorf("state = %+v", st)
	}
	if f.composer.Snapshot().Text != "x" {
		t.Error("dismiss must keep the draft")
	}

	want := [][2]Phase{{PhaseIdle, PhaseSubmitting}, {PhaseSubmitting, PhaseFailed}, {PhaseFailed, PhaseIdle}}
	if len(f.journal.events) != len(want) {
		t.Fatalf("journal = %+v", f.journal.events)
	}
	for i, w := range want {
		e := f.journal.events[i]
		if e.FromPhase != w[0] || e.ToPhase != w[1] || e.UserID != "user-1" || e.TaskID != "task-1" {
			t.Errorf("event %d = %+v", i, e)
		}
	}
	if f.journal.events[1].Reason == nil {
		t.Error("failed transition should journal its reason")
	}
}

func TestSubscribeSeesOrderedStates(t *testing.T) {
	f := newFixture(t, &fakeStore{}, slowIdle())
	f.composer.SetText("x")

	var mu sync.Mutex
	var phases []Phase
	f.coord.Subscribe(func(s State) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	if err := f.coord.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[0] != PhaseSubmitting || phases[1] != PhaseSucceeded {
		t.Fatalf("phases = %v", phases)
	}
}
