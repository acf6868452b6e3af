// README: API gateway; registers gin routes and delegates to the session manager.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"trail/internal/http/handlers"
	"trail/internal/http/middleware"
	"trail/internal/infra"
	"trail/internal/modules/session"
)

// ServerDeps wires the API. History and Walker are optional.
type ServerDeps struct {
	Sessions       *session.Manager
	Verifier       infra.TokenVerifier
	History        handlers.HistoryLister
	Walker         handlers.WalkEstimator
	Logger         *slog.Logger
	MaxUploadBytes int64
	AllowOrigin    func(*http.Request) bool
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Logger), middleware.Logging(s.deps.Logger))
	// Multipart parts beyond this spill to temp files.
	r.MaxMultipartMemory = 32 << 20

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	sessionHandler := handlers.NewSessionHandler(s.deps.Sessions, s.deps.History, s.deps.Walker)
	api.POST("/tasks/:id/session", sessionHandler.Open)
	api.GET("/session", sessionHandler.Get)
	api.DELETE("/session", sessionHandler.Close)
	api.GET("/session/locations", sessionHandler.Locations)
	api.GET("/session/locations/:locationId/walk", sessionHandler.Walk)
	api.GET("/session/map", sessionHandler.Map)
	api.GET("/session/history", sessionHandler.History)

	positionHandler := handlers.NewPositionHandler(s.deps.Sessions)
	api.PUT("/position", positionHandler.Push)
	api.POST("/position/error", positionHandler.PushError)
	api.GET("/position", positionHandler.Get)
	api.PUT("/position/manual", positionHandler.SetManual)
	api.DELETE("/position/manual", positionHandler.ClearManual)
	api.DELETE("/position", positionHandler.Reset)

	draftHandler := handlers.NewDraftHandler(s.deps.Sessions, s.deps.MaxUploadBytes)
	api.PUT("/session/draft/text", draftHandler.SetText)
	api.PUT("/session/draft/location", draftHandler.SelectLocation)
	api.PUT("/session/draft/coordinate", draftHandler.SetCoordinate)
	api.POST("/session/draft/files", draftHandler.AddFiles)
	api.DELETE("/session/draft/files/:fileId", draftHandler.RemoveFile)
	api.DELETE("/session/draft", draftHandler.Reset)

	submissionHandler := handlers.NewSubmissionHandler(s.deps.Sessions)
	api.POST("/session/submit", submissionHandler.Submit)
	api.POST("/session/retry", submissionHandler.Retry)
	api.POST("/session/dismiss", submissionHandler.Dismiss)
	api.POST("/session/uploads/retry", submissionHandler.RetryUploads)

	eventsHandler := handlers.NewEventsHandler(s.deps.Sessions, s.deps.Logger, s.deps.AllowOrigin)
	api.GET("/session/events", eventsHandler.Stream)

	return r
}
