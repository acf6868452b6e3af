// README: Submission handlers: submit, retry, dismiss and upload retry.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trail/internal/modules/session"
)

type SubmissionHandler struct {
	sessions *session.Manager
}

func NewSubmissionHandler(sessions *session.Manager) *SubmissionHandler {
	return &SubmissionHandler{sessions: sessions}
}

// Submit starts a submission. It returns 202 once the state is submitting;
// the outcome arrives as submission events.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if err := s.Submit(c.Request.Context()); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, s.SubmissionState())
}

func (h *SubmissionHandler) Retry(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if err := s.Retry(c.Request.Context()); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, s.SubmissionState())
}

func (h *SubmissionHandler) Dismiss(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	if err := s.Dismiss(); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.SubmissionState())
}

// RetryUploads re-sends files that failed after the response was created.
func (h *SubmissionHandler) RetryUploads(c *gin.Context) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return
	}
	failed, err := s.RetryUploads(c.Request.Context())
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"failed": failed, "state": s.SubmissionState()})
}
