package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"

	"github.com/castscan/castscan/flagging"
	"github.com/castscan/castscan/graph"
	"github.com/castscan/castscan/moderation"
	"github.com/castscan/castscan/moderation/cachestore"
	"github.com/castscan/castscan/scanner"
)

type Server struct {
	echo    *echo.Echo
	httpd   *http.Server
	logger  *slog.Logger
	scanner *scanner.Scanner
	mod     *moderation.Client
}

type Config struct {
	GraphHost          string
	GraphAPIKey        string
	ModerationHost     string
	ModerationAPIKey   string
	RedisURL           string
	Bind               string
	ScanTimeout        time.Duration
	ScoreCacheTTL      time.Duration
	ThresholdOverrides map[string]float64
	Logger             *slog.Logger
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	// missing credentials are fatal at startup, not at first request
	if config.GraphAPIKey == "" {
		return nil, fmt.Errorf("follow-graph provider API key is not configured")
	}
	if config.ModerationAPIKey == "" {
		return nil, fmt.Errorf("moderation provider API key is not configured")
	}

	ttl := config.ScoreCacheTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	var cache cachestore.CacheStore
	if config.RedisURL != "" {
		rc, err := cachestore.NewRedisCacheStore(config.RedisURL, ttl)
		if err != nil {
			return nil, fmt.Errorf("initializing redis score cache: %w", err)
		}
		cache = rc
		logger.Info("using redis score cache", "ttl", ttl)
	} else {
		cache = cachestore.NewMemCacheStore(50_000, ttl)
	}

	graphClient := graph.NewClient(config.GraphHost, config.GraphAPIKey)
	graphClient.Logger = logger.With("subsystem", "graph")

	modClient := moderation.NewClient(config.ModerationHost, config.ModerationAPIKey, cache)
	modClient.Logger = logger.With("subsystem", "moderation")

	thresholds := flagging.DefaultThresholds().Merge(config.ThresholdOverrides)

	records := scanner.NewMemRecordStore(100_000, 24*time.Hour)
	sc := scanner.New(graphClient, modClient, thresholds, records)
	sc.Logger = logger.With("subsystem", "scanner")
	if config.ScanTimeout > 0 {
		sc.ScanTimeout = config.ScanTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	srv := &Server{
		echo:    e,
		logger:  logger,
		scanner: sc,
		mod:     modClient,
	}
	srv.httpd = &http.Server{
		Handler:        e,
		Addr:           config.Bind,
		WriteTimeout:   time.Minute,
		ReadTimeout:    time.Minute,
		MaxHeaderBytes: 1 << 20,
	}

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/scan", srv.HandleScan)
	e.POST("/moderation/scores", srv.HandleModerationScores)

	return srv, nil
}

func (srv *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exitSignals
	srv.logger.Info("received OS exit signal", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(ctx)
}
