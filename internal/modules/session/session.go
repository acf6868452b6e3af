// README: Session binds one user's active task: catalog ranking, visited set, draft and submission.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/paulmach/orb/geojson"

	"trail/internal/apperr"
	"trail/internal/modules/catalog"
	"trail/internal/modules/position"
	"trail/internal/modules/ranking"
	"trail/internal/modules/response"
	"trail/internal/modules/submission"
	"trail/internal/modules/visited"
	"trail/internal/types"
)

var (
	ErrNoSession    = errors.New("no active task session")
	ErrNoPermission = apperr.E(apperr.KindPermission, "session", "no permission to respond to this task", nil)
	ErrNoPosition   = apperr.E(apperr.KindNotFound, "session", "no current position", nil)
)

// View is a consistent read of everything the client renders for a task.
type View struct {
	TaskID     types.ID         `json:"task_id"`
	CanRespond bool             `json:"can_respond"`
	Position   position.Status  `json:"position"`
	Progress   visited.Progress `json:"progress"`
	Visited    []types.ID       `json:"visited"`
	Ranking    *ranking.Ranking `json:"ranking"`
	Draft      response.Draft   `json:"draft"`
	Submission submission.State `json:"submission"`
}

type Session struct {
	UserID     types.ID
	TaskID     types.ID
	canRespond bool

	locations   map[types.ID]catalog.TaskLocation
	provider    *position.Provider
	tracker     *visited.Tracker
	ranker      *ranking.Ranker
	composer    *response.Composer
	coordinator *submission.Coordinator
	closestN    int

	mu     sync.Mutex
	closed bool
	unsubs []func()
}

func (s *Session) CanRespond() bool { return s.canRespond }

func (s *Session) View() View {
	return View{
		TaskID:     s.TaskID,
		CanRespond: s.canRespond,
		Position:   s.provider.Status(),
		Progress:   s.tracker.GetProgress(0),
		Visited:    s.tracker.Visited(),
		Ranking:    s.ranker.Current(),
		Draft:      s.composer.Snapshot(),
		Submission: s.coordinator.State(),
	}
}

func (s *Session) Ranking() *ranking.Ranking {
	return s.ranker.Current()
}

func (s *Session) ClosestUnvisited(n int) []ranking.RankedLocation {
	return s.ranker.ClosestUnvisited(n)
}

func (s *Session) MapView(n int) *geojson.FeatureCollection {
	if n <= 0 {
		n = s.closestN
	}
	return ranking.MapView(s.ranker.Current(), n)
}

// Location returns one catalog entry of the task.
func (s *Session) Location(id types.ID) (catalog.TaskLocation, error) {
	loc, ok := s.locations[id]
	if !ok {
		return catalog.TaskLocation{}, apperr.E(apperr.KindNotFound, "session.location", "location is not part of this task", nil)
	}
	return loc, nil
}

func (s *Session) Position() *position.Position {
	return s.provider.Position()
}

func (s *Session) Draft() response.Draft {
	return s.composer.Snapshot()
}

func (s *Session) SetText(text string) error {
	if err := s.writable(); err != nil {
		return err
	}
	s.composer.SetText(text)
	return nil
}

// SelectLocation picks a catalog location for the response; an empty ref
// clears the choice.
func (s *Session) SelectLocation(ref types.ID) error {
	if err := s.writable(); err != nil {
		return err
	}
	if ref != "" {
		if _, ok := s.locations[ref]; !ok {
			return apperr.Invalid("session.select_location", "unknown location", map[string]string{"location_id": "not part of this task"})
		}
	}
	s.composer.SelectLocation(ref)
	return nil
}

// SetDeviceCoordinate attaches pt to the draft; nil clears it.
func (s *Session) SetDeviceCoordinate(pt *types.Point) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.composer.SetDeviceCoordinate(pt)
}

// AttachCurrentPosition copies the user's current position into the draft.
func (s *Session) AttachCurrentPosition() error {
	if err := s.writable(); err != nil {
		return err
	}
	pos := s.provider.Position()
	if pos == nil {
		return ErrNoPosition
	}
	pt := pos.Point
	return s.composer.SetDeviceCoordinate(&pt)
}

func (s *Session) AddFile(name string, content []byte) (response.File, error) {
	if err := s.writable(); err != nil {
		return response.File{}, err
	}
	return s.composer.AddFile(name, content)
}

func (s *Session) RemoveFile(id types.ID) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.composer.RemoveFile(id)
}

func (s *Session) ResetDraft() error {
	if err := s.writable(); err != nil {
		return err
	}
	s.composer.Reset()
	return nil
}

func (s *Session) Submit(ctx context.Context) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.coordinator.Submit(ctx)
}

func (s *Session) Retry(ctx context.Context) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.coordinator.Retry(ctx)
}

func (s *Session) Dismiss() error {
	return s.coordinator.Dismiss()
}

func (s *Session) RetryUploads(ctx context.Context) ([]submission.UploadFailure, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	return s.coordinator.RetryUploads(ctx)
}

func (s *Session) SubmissionState() submission.State {
	return s.coordinator.State()
}

func (s *Session) writable() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	switch {
	case closed:
		return ErrNoSession
	case !s.canRespond:
		return ErrNoPermission
	}
	return nil
}

// close detaches the session. In-flight submissions finish against the
// store without touching this session's state.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.coordinator.Detach()
	for _, fn := range unsubs {
		fn()
	}
}
