// README: Position handlers: device readings and errors, manual override, reset.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trail/internal/modules/position"
	"trail/internal/modules/session"
	"trail/internal/types"
)

type PositionHandler struct {
	sessions *session.Manager
}

func NewPositionHandler(sessions *session.Manager) *PositionHandler {
	return &PositionHandler{sessions: sessions}
}

type coordinateReq struct {
	Lat      *float64 `json:"lat" binding:"required"`
	Lng      *float64 `json:"lng" binding:"required"`
	Accuracy *float64 `json:"accuracy"`
}

func (r coordinateReq) point() types.Point {
	return types.Point{Lat: *r.Lat, Lng: *r.Lng, Accuracy: r.Accuracy}
}

type readingReq struct {
	coordinateReq
	CapturedAt time.Time `json:"captured_at"`
}

// Push forwards one device reading.
func (h *PositionHandler) Push(c *gin.Context) {
	var req readingReq
	if !bindJSON(c, &req) {
		return
	}
	pt := req.point()
	if err := pt.Validate(); err != nil {
		writeAppError(c, err)
		return
	}
	device, provider := h.sessions.Device(callerID(c))
	device.Push(position.Reading{Point: pt, CapturedAt: req.CapturedAt})
	writeJSON(c, http.StatusOK, provider.Status())
}

type deviceErrorReq struct {
	Code string `json:"code" binding:"required"`
}

// PushError forwards a device geolocation error code.
func (h *PositionHandler) PushError(c *gin.Context) {
	var req deviceErrorReq
	if !bindJSON(c, &req) {
		return
	}
	err, ok := position.ErrorFromCode(req.Code)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown error code")
		return
	}
	uid := callerID(c)
	device, provider := h.sessions.Device(uid)
	device.PushError(err)
	h.sessions.PublishPosition(uid)
	writeJSON(c, http.StatusOK, provider.Status())
}

// Get returns the position status. With ?fresh=true it requests a fix,
// waiting up to the configured timeout for the device.
func (h *PositionHandler) Get(c *gin.Context) {
	uid := callerID(c)
	_, provider := h.sessions.Device(uid)
	if c.Query("fresh") == "true" {
		if _, err := provider.CurrentPosition(c.Request.Context()); err != nil {
			h.sessions.PublishPosition(uid)
			writeAppError(c, err)
			return
		}
	}
	writeJSON(c, http.StatusOK, provider.Status())
}

func (h *PositionHandler) SetManual(c *gin.Context) {
	var req coordinateReq
	if !bindJSON(c, &req) {
		return
	}
	_, provider := h.sessions.Device(callerID(c))
	if _, err := provider.SetManual(req.point()); err != nil {
		writeAppError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, provider.Status())
}

// ClearManual returns to GPS tracking; the manual position stays until the next fix.
func (h *PositionHandler) ClearManual(c *gin.Context) {
	uid := callerID(c)
	_, provider := h.sessions.Device(uid)
	provider.UseGPS()
	h.sessions.PublishPosition(uid)
	writeJSON(c, http.StatusOK, provider.Status())
}

func (h *PositionHandler) Reset(c *gin.Context) {
	h.sessions.ResetPosition(callerID(c))
	c.Status(http.StatusNoContent)
}
