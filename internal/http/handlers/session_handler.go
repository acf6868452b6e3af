// README: Task session handlers: open/close, ranked locations, map view, walking estimate, history.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"trail/internal/modules/session"
	"trail/internal/modules/submission"
	"trail/internal/types"
)

// HistoryLister reads journaled submission transitions.
type HistoryLister interface {
	List(ctx context.Context, userID, taskID types.ID, limit int) ([]submission.Event, error)
}

// WalkEstimator estimates walking time between two points.
type WalkEstimator interface {
	WalkingEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error)
}

type SessionHandler struct {
	sessions *session.Manager
	history  HistoryLister
	walker   WalkEstimator
}

// NewSessionHandler builds the handler; history and walker may be nil when
// the journal or maps integration is disabled.
func NewSessionHandler(sessions *session.Manager, history HistoryLister, walker WalkEstimator) *SessionHandler {
	return &SessionHandler{sessions: sessions, history: history, walker: walker}
}

func (h *SessionHandler) Open(c *gin.Context) {
	taskID := c.Param("id")
	if !isValidID(taskID) {
		writeError(c, http.StatusBadRequest, "invalid task id")
		return
	}
	s, err := h.sessions.Open(c.Request.Context(), callerID(c), types.ID(taskID))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, s.View())
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.View())
}

func (h *SessionHandler) Close(c *gin.Context) {
	if err := h.sessions.Close(c.Request.Context(), callerID(c)); err != nil {
		writeAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Locations returns the full ranking, or the N closest unvisited locations
// when ?closest=N is given.
func (h *SessionHandler) Locations(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if raw := c.Query("closest"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "closest must be a non-negative integer")
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"items": s.ClosestUnvisited(n)})
		return
	}
	writeJSON(c, http.StatusOK, s.Ranking())
}

func (h *SessionHandler) Map(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	n, _ := strconv.Atoi(c.Query("closest"))
	writeJSON(c, http.StatusOK, s.MapView(n))
}

// Walk estimates the walking time from the current position to one location.
func (h *SessionHandler) Walk(c *gin.Context) {
	if h.walker == nil {
		writeError(c, http.StatusNotImplemented, "walking estimates are not configured")
		return
	}
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	loc, err := s.Location(types.ID(c.Param("locationId")))
	if err != nil {
		writeAppError(c, err)
		return
	}
	pos := s.Position()
	if pos == nil {
		writeAppError(c, session.ErrNoPosition)
		return
	}
	d, text, err := h.walker.WalkingEstimate(c.Request.Context(), pos.Point, loc.Point)
	if err != nil {
		writeError(c, http.StatusBadGateway, "walking estimate unavailable")
		_ = c.Error(err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"location_id":      loc.ID,
		"duration_seconds": int(d.Seconds()),
		"distance":         text,
	})
}

type historyEntry struct {
	ResponseID *types.ID        `json:"response_id,omitempty"`
	From       submission.Phase `json:"from"`
	To         submission.Phase `json:"to"`
	Reason     *string          `json:"reason,omitempty"`
	At         time.Time        `json:"at"`
}

// History lists recent submission transitions of the active task.
func (h *SessionHandler) History(c *gin.Context) {
	if h.history == nil {
		writeError(c, http.StatusNotImplemented, "submission history is not configured")
		return
	}
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.history.List(c.Request.Context(), s.UserID, s.TaskID, limit)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "history unavailable")
		_ = c.Error(err)
		return
	}
	out := make([]historyEntry, 0, len(events))
	for _, e := range events {
		out = append(out, historyEntry{ResponseID: e.ResponseID, From: e.FromPhase, To: e.ToPhase, Reason: e.Reason, At: e.CreatedAt})
	}
	writeJSON(c, http.StatusOK, gin.H{"items": out})
}
