// README: Base handler utilities (JSON helpers, error mapping, caller identity).
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"trail/internal/apperr"
	"trail/internal/http/middleware"
	"trail/internal/modules/session"
	"trail/internal/modules/submission"
	"trail/internal/types"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// isValidID accepts entity store ids: non-empty, bounded, no path or query characters.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeAppError maps module errors onto HTTP statuses.
func writeAppError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, session.ErrNoSession):
		writeError(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, submission.ErrInFlight),
		errors.Is(err, submission.ErrInvalidState),
		errors.Is(err, submission.ErrDetached),
		errors.Is(err, submission.ErrNoFailedUploads):
		writeError(c, http.StatusConflict, err.Error())
		return
	case errors.Is(err, submission.ErrNotSubmittable):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	kind := apperr.KindOf(err)
	resp := errorResponse{Error: err.Error(), Kind: kind.String()}
	switch kind {
	case apperr.KindValidation:
		resp.Fields = apperr.FieldsOf(err)
		writeJSON(c, http.StatusUnprocessableEntity, resp)
	case apperr.KindPermission:
		writeJSON(c, http.StatusForbidden, resp)
	case apperr.KindNotFound:
		writeJSON(c, http.StatusNotFound, resp)
	case apperr.KindTransient:
		writeJSON(c, http.StatusServiceUnavailable, resp)
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// bindJSON decodes the body and runs its binding tags, writing 400 for
// malformed JSON and 422 for failed constraints.
func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	writeJSON(c, http.StatusUnprocessableEntity, errorResponse{
		Error:  "invalid request",
		Kind:   apperr.KindValidation.String(),
		Fields: fields,
	})
	return false
}
