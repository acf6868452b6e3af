// README: Manager keeps one position provider per user and at most one active task session.
package session

import (
	"context"
	"log/slog"
	"sync"

	"trail/internal/apperr"
	"trail/internal/modules/catalog"
	"trail/internal/modules/position"
	"trail/internal/modules/ranking"
	"trail/internal/modules/response"
	"trail/internal/modules/submission"
	"trail/internal/modules/visited"
	"trail/internal/types"
)

// Store is the external store surface a session needs.
type Store interface {
	visited.Source
	submission.Store
	CheckResponsePermission(ctx context.Context, taskID, userID types.ID) (bool, error)
}

type Config struct {
	Position   position.Config
	Ranking    ranking.Config
	Response   response.Config
	Submission submission.Config
}

func DefaultConfig() Config {
	return Config{
		Position:   position.DefaultConfig(),
		Ranking:    ranking.DefaultConfig(),
		Response:   response.DefaultConfig(),
		Submission: submission.DefaultConfig(),
	}
}

// Deps are the collaborators shared by every session. Journal, Guard and
// Geocoder are optional.
type Deps struct {
	Store    Store
	Loader   *catalog.Loader
	Journal  submission.Journal
	Guard    submission.Guard
	Geocoder submission.Geocoder
	Logger   *slog.Logger
}

type user struct {
	// mu serialises opening and closing the user's session.
	mu       sync.Mutex
	device   *position.PushDevice
	provider *position.Provider
	bus      *Bus
	session  *Session
	// evicted is set under mu once the user has left Manager.users.
	evicted bool
}

type Manager struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	users map[types.ID]*user
}

func NewManager(deps Deps, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{deps: deps, cfg: cfg, logger: logger, users: make(map[types.ID]*user)}
}

func (m *Manager) user(userID types.ID) *user {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userLocked(userID)
}

func (m *Manager) userLocked(userID types.ID) *user {
	u, ok := m.users[userID]
	if ok {
		return u
	}
	device := position.NewPushDevice()
	provider := position.NewProvider(device, m.cfg.Position, m.logger.With(slog.String("user_id", userID.String())))
	bus := NewBus()
	provider.Subscribe(func(*position.Position) {
		bus.Publish(Event{Type: EventPosition, Payload: provider.Status()})
	})
	provider.Start()

	u = &user{device: device, provider: provider, bus: bus}
	m.users[userID] = u
	return u
}

// lockUser returns the user's live record with its mu held.
func (m *Manager) lockUser(userID types.ID) *user {
	for {
		u := m.user(userID)
		u.mu.Lock()
		if !u.evicted {
			return u
		}
		u.mu.Unlock()
	}
}

// release drops the user's record once it has neither a session nor an
// event subscriber. The position is lost with it.
func (m *Manager) release(userID types.ID) {
	m.mu.Lock()
	u, ok := m.users[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	u.mu.Lock()
	idle := u.session == nil && u.bus.Subscribers() == 0
	if idle {
		u.evicted = true
		delete(m.users, userID)
	}
	u.mu.Unlock()
	m.mu.Unlock()

	if idle {
		u.provider.Stop()
		m.logger.Debug("user state released", slog.String("user_id", userID.String()))
	}
}

// Device returns the user's device feed and position provider. They outlive
// task sessions.
func (m *Manager) Device(userID types.ID) (*position.PushDevice, *position.Provider) {
	u := m.user(userID)
	return u.device, u.provider
}

// Subscribe registers fn on the user's event bus and returns the latest
// replayable events, read after subscribing. Unsubscribing the last
// listener of a user without a session releases the user's state.
func (m *Manager) Subscribe(userID types.ID, fn func(Event)) (latest []Event, unsubscribe func()) {
	m.mu.Lock()
	u := m.userLocked(userID)
	unsub := u.bus.Subscribe(fn)
	m.mu.Unlock()

	var once sync.Once
	return u.bus.Latest(), func() {
		once.Do(func() {
			unsub()
			m.release(userID)
		})
	}
}

// PublishPosition republishes the user's position status, used after
// changes that do not replace the position itself.
func (m *Manager) PublishPosition(userID types.ID) {
	u := m.user(userID)
	u.bus.Publish(Event{Type: EventPosition, Payload: u.provider.Status()})
}

func (m *Manager) Get(userID types.ID) (*Session, error) {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return nil, ErrNoSession
	}
	return u.session, nil
}

// Open makes taskID the user's active task. Any previous session is closed
// first and its in-process catalog copy dropped.
func (m *Manager) Open(ctx context.Context, userID, taskID types.ID) (*Session, error) {
	const op = "session.open"

	u := m.lockUser(userID)
	defer u.mu.Unlock()

	if prev := u.session; prev != nil {
		u.session = nil
		m.closeLocked(ctx, u, prev)
	}

	canRespond, err := m.deps.Store.CheckResponsePermission(ctx, taskID, userID)
	if err != nil {
		return nil, classify(op, "checking response permission", err)
	}
	locs, err := m.deps.Loader.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	progress, err := m.deps.Store.FetchTaskProgress(ctx, taskID)
	if err != nil {
		return nil, classify(op, "loading task progress", err)
	}

	logger := m.logger.With(slog.String("task_id", taskID.String()), slog.String("user_id", userID.String()))
	tracker := visited.NewTracker(m.deps.Store, logger)
	if err := tracker.Load(ctx, taskID, userID, progress); err != nil {
		return nil, err
	}
	ranker := ranking.NewRanker(locs, tracker, m.cfg.Ranking)
	// Subscribe before seeding so a fix arriving in between is not missed.
	unsubPosition := u.provider.Subscribe(func(pos *position.Position) { ranker.UpdatePosition(pos) })
	ranker.UpdatePosition(u.provider.Position())
	composer := response.NewComposer(taskID, m.cfg.Response)
	coordinator := submission.NewCoordinator(userID, taskID, submission.Deps{
		Store:    m.deps.Store,
		Visits:   tracker,
		Drafts:   composer,
		Journal:  m.deps.Journal,
		Guard:    m.deps.Guard,
		Geocoder: m.deps.Geocoder,
		Logger:   m.logger,
	}, m.cfg.Submission)

	s := &Session{
		UserID:      userID,
		TaskID:      taskID,
		canRespond:  canRespond,
		locations:   make(map[types.ID]catalog.TaskLocation, len(locs)),
		provider:    u.provider,
		tracker:     tracker,
		ranker:      ranker,
		composer:    composer,
		coordinator: coordinator,
		closestN:    m.cfg.Ranking.ClosestN,
	}
	for _, loc := range locs {
		s.locations[loc.ID] = loc
	}

	bus := u.bus
	publish := func(t EventType, payload any) {
		bus.Publish(Event{Type: t, TaskID: taskID, Payload: payload})
	}
	s.unsubs = []func(){
		unsubPosition,
		tracker.Subscribe(func(p visited.Progress) {
			ranker.Refresh()
			publish(EventProgress, p)
		}),
		ranker.Subscribe(func(rk *ranking.Ranking) { publish(EventRanking, rk) }),
		composer.Subscribe(func(d response.Draft) { publish(EventDraft, d) }),
		coordinator.Subscribe(func(st submission.State) { publish(EventSubmission, st) }),
		coordinator.SubscribeUploads(func(ev submission.UploadEvent) { publish(EventUpload, ev) }),
	}
	u.session = s

	view := s.View()
	publish(EventRanking, view.Ranking)
	publish(EventProgress, view.Progress)
	publish(EventDraft, view.Draft)
	publish(EventSubmission, view.Submission)

	logger.Info("task session opened", slog.Int("locations", len(locs)), slog.Bool("can_respond", canRespond))
	return s, nil
}

// Close ends the user's active session, if any.
func (m *Manager) Close(ctx context.Context, userID types.ID) error {
	m.mu.Lock()
	u, ok := m.users[userID]
	m.mu.Unlock()
	if !ok {
		return ErrNoSession
	}

	u.mu.Lock()
	s := u.session
	if s == nil {
		u.mu.Unlock()
		return ErrNoSession
	}
	u.session = nil
	m.closeLocked(ctx, u, s)
	u.mu.Unlock()

	m.release(userID)
	return nil
}

// ResetPosition clears the user's position and manual override.
func (m *Manager) ResetPosition(userID types.ID) {
	m.user(userID).provider.Reset()
}

// Shutdown closes every session and stops every provider, then waits for
// in-flight submissions until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	users := make([]*user, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.mu.Unlock()

	var coordinators []*submission.Coordinator
	for _, u := range users {
		u.mu.Lock()
		if s := u.session; s != nil {
			u.session = nil
			coordinators = append(coordinators, s.coordinator)
			m.closeLocked(ctx, u, s)
		}
		u.mu.Unlock()
		u.provider.Stop()
	}

	done := make(chan struct{})
	go func() {
		for _, c := range coordinators {
			c.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) closeLocked(ctx context.Context, u *user, s *Session) {
	s.close()
	m.deps.Loader.Forget(ctx, s.TaskID)
	u.bus.Publish(Event{Type: EventClosed, TaskID: s.TaskID})
	m.logger.Info("task session closed",
		slog.String("task_id", s.TaskID.String()),
		slog.String("user_id", s.UserID.String()))
}

func classify(op, msg string, err error) error {
	kind := apperr.KindOf(err)
	if kind != apperr.KindNotFound && kind != apperr.KindPermission {
		kind = apperr.KindTransient
	}
	return apperr.E(kind, op, msg, err)
}
