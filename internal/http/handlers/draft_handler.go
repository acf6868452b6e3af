// README: Draft handlers: text, location, device coordinate and file attachments.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"trail/internal/apperr"
	"trail/internal/modules/response"
	"trail/internal/modules/session"
	"trail/internal/types"
)

type DraftHandler struct {
	sessions *session.Manager
	maxBytes int64
}

// NewDraftHandler builds the handler. maxBytes bounds how much of each
// uploaded part is read; the composer enforces the real limit.
func NewDraftHandler(sessions *session.Manager, maxBytes int64) *DraftHandler {
	return &DraftHandler{sessions: sessions, maxBytes: maxBytes}
}

func (h *DraftHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(callerID(c))
	if err != nil {
		writeAppError(c, err)
		return nil, false
	}
	return s, true
}

type textReq struct {
	Text string `json:"text"`
}

func (h *DraftHandler) SetText(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req textReq
	if !bindJSON(c, &req) {
		return
	}
	if err := s.SetText(req.Text); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Draft())
}

type locationReq struct {
	LocationID string `json:"location_id"`
}

// SelectLocation sets the response location; an empty id clears it.
func (h *DraftHandler) SelectLocation(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req locationReq
	if !bindJSON(c, &req) {
		return
	}
	if err := s.SelectLocation(types.ID(req.LocationID)); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Draft())
}

type draftCoordinateReq struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Accuracy    *float64 `json:"accuracy"`
	UsePosition bool     `json:"use_position"`
}

// SetCoordinate attaches a coordinate to the draft: explicit lat/lng, the
// current position with use_position, or none to clear.
func (h *DraftHandler) SetCoordinate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req draftCoordinateReq
	if !bindJSON(c, &req) {
		return
	}

	var err error
	switch {
	case req.UsePosition:
		err = s.AttachCurrentPosition()
	case req.Lat == nil && req.Lng == nil:
		err = s.SetDeviceCoordinate(nil)
	case req.Lat == nil || req.Lng == nil:
		err = apperr.Invalid("draft.coordinate", "lat and lng must be given together", map[string]string{"coordinate": "incomplete"})
	default:
		err = s.SetDeviceCoordinate(&types.Point{Lat: *req.Lat, Lng: *req.Lng, Accuracy: req.Accuracy})
	}
	if err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Draft())
}

type fileResult struct {
	Added    []response.File   `json:"added"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// AddFiles attaches every "files" part. Each part is validated on its own:
// valid files are kept even when others are rejected.
func (h *DraftHandler) AddFiles(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, http.StatusBadRequest, "expected multipart form")
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		writeError(c, http.StatusBadRequest, "no files")
		return
	}

	res := fileResult{Added: []response.File{}, Rejected: map[string]string{}}
	for _, fh := range parts {
		f, err := fh.Open()
		if err != nil {
			res.Rejected[fh.Filename] = "unreadable"
			continue
		}
		var r io.Reader = f
		if h.maxBytes > 0 {
			// One byte past the limit is enough for the composer to reject it.
			r = io.LimitReader(f, h.maxBytes+1)
		}
		content, err := io.ReadAll(r)
		_ = f.Close()
		if err != nil {
			res.Rejected[fh.Filename] = "unreadable"
			continue
		}
		added, err := s.AddFile(fh.Filename, content)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindValidation:
				for _, msg := range apperr.FieldsOf(err) {
					res.Rejected[fh.Filename] = msg
				}
			default:
				writeAppError(c, err)
				return
			}
			continue
		}
		res.Added = append(res.Added, added)
	}

	status := http.StatusCreated
	if len(res.Added) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(c, status, res)
}

func (h *DraftHandler) RemoveFile(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.RemoveFile(types.ID(c.Param("fileId"))); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Draft())
}

func (h *DraftHandler) Reset(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.ResetDraft(); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.Draft())
}
