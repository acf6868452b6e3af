// README: Entry point; loads config, wires the entity store client, caches and session manager, starts HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"trail/internal/config"
	"trail/internal/entity"
	httptransport "trail/internal/http"
	"trail/internal/http/handlers"
	"trail/internal/infra"
	"trail/internal/maps"
	"trail/internal/modules/catalog"
	"trail/internal/modules/position"
	"trail/internal/modules/ranking"
	"trail/internal/modules/response"
	"trail/internal/modules/session"
	"trail/internal/modules/submission"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)
	if cfg.Log.Level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier := infra.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	store := entity.NewClient(cfg.Entity.BaseURL, &http.Client{Timeout: cfg.Entity.Timeout}, logger)

	deps := session.Deps{Store: store, Logger: logger}
	var history handlers.HistoryLister
	var walker handlers.WalkEstimator
	var shared catalog.Cache

	if cfg.DB.DSN != "" {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
		journal := submission.NewPGJournal(dbPool)
		deps.Journal = journal
		history = journal
	} else {
		logger.Info("TRAIL_DB_DSN not set; submission journal disabled")
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal(err)
		}
		defer redisClient.Close()
		shared = catalog.NewRedisCache(redisClient, cfg.Catalog.CacheTTL)
		deps.Guard = submission.NewRedisGuard(redisClient)
	} else {
		logger.Info("TRAIL_REDIS_ADDR not set; shared catalog cache and submit guard disabled")
	}

	if cfg.Maps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		deps.Geocoder = maps.NewGeocoder(mapsClient, cfg.Maps.Language)
		walker = maps.NewRouteService(mapsClient)
	}

	deps.Loader = catalog.NewLoader(store, shared, logger)
	sessions := session.NewManager(deps, session.Config{
		Position: position.Config{
			Timeout:    cfg.Position.Timeout,
			MaximumAge: cfg.Position.MaximumAge,
		},
		Ranking: ranking.Config{
			ThresholdDegrees: cfg.Ranking.ThresholdDegrees,
			ClosestN:         cfg.Ranking.ClosestN,
		},
		Response: response.Config{
			MaxFileBytes: cfg.Upload.MaxFileBytes,
			AllowedTypes: cfg.Upload.AllowedTypes,
		},
		Submission: submission.Config{
			UploadParallelism: cfg.Upload.Parallelism,
			SubmitTimeout:     cfg.Submission.Timeout,
			SuccessDisplay:    cfg.Submission.SuccessDisplay,
		},
	})

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Sessions:       sessions,
		Verifier:       verifier,
		History:        history,
		Walker:         walker,
		Logger:         logger,
		MaxUploadBytes: cfg.Upload.MaxFileBytes,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes(), ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Submission.Timeout+5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("err", err))
		}
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			logger.Warn("submissions still in flight at shutdown", slog.Any("err", err))
		}
	}()

	logger.Info("trail api listening", slog.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-done
}
