package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/evidenceflow/refscreen/config"
	"github.com/evidenceflow/refscreen/internal/llm"
	"github.com/evidenceflow/refscreen/internal/runner"
	"github.com/evidenceflow/refscreen/internal/runtime"
	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/search"
	"github.com/evidenceflow/refscreen/internal/session"
	"github.com/evidenceflow/refscreen/internal/store"
	"github.com/evidenceflow/refscreen/internal/telemetry"
)

// Run wires the full service and starts the HTTP listener.
func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	metrics := telemetry.New()

	provider, err := llm.NewOpenAIProvider(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}
	instrumented := &llm.InstrumentedProvider{
		Next:     provider,
		Latency:  metrics.ReviewerLatency,
		Failures: metrics.ReviewerFailures,
	}

	invoker := &screening.Invoker{Provider: instrumented}
	coord := screening.NewCoordinator(invoker, st, log.New(log.Writer(), "[DUAL] ", log.LstdFlags))
	coord.ReviewerGap = cfg.Screening.ReviewerGap
	coord.OnResult = func(res screening.Result) {
		metrics.ReferencesProcessed.WithLabelValues(res.FinalStatus).Inc()
		if !res.Agreement {
			metrics.ConflictsDetected.Inc()
		}
	}

	sessions := session.NewManager(store.SessionStore{S: st}, st, log.New(log.Writer(), "[SESSION] ", log.LstdFlags))
	sessions.Staleness = cfg.Screening.StalenessWindow

	run := runner.New(coord, sessions, st, log.New(log.Writer(), "[RUNNER] ", log.LstdFlags), nil, nil)
	run.BatchSize = cfg.Screening.BatchSize
	run.BatchPacing = cfg.Screening.BatchPacing
	run.ParallelPacing = cfg.Screening.ParallelPacing

	idx, err := search.NewIndex()
	if err != nil {
		return err
	}
	if err := rebuildIndex(ctx, st, idx); err != nil {
		baseLogger.Printf("warn: rebuild search index: %v", err)
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("", runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"user_id": c.Get("user_id").(string)})
	})

	projects := api.Group("/projects", runtime.EchoAuthMiddleware(secret))
	ph := &ProjectsHandler{Store: st, Search: idx}
	ph.Register(projects)

	sh := &ScreeningHandler{
		Store:      st,
		Sessions:   sessions,
		Runner:     run,
		Metrics:    metrics,
		RunTimeout: cfg.Screening.RunTimeout,
		Logger:     log.New(log.Writer(), "[SCREEN] ", log.LstdFlags),
	}
	sh.Register(projects)

	// redis is optional; without it the cron scheduler stays off
	if addr := cfg.Storage.Redis.Addr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", addr, err)
		}
		sched := &Scheduler{Store: st, Runner: run, Rdb: rdb, Stop: make(chan struct{})}
		sched.Start()
	} else {
		baseLogger.Printf("redis not configured, scheduled runs disabled")
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10020"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func rebuildIndex(ctx context.Context, st *store.Store, idx *search.Index) error {
	projects, err := st.ListAllProjects(ctx)
	if err != nil {
		return err
	}
	for _, p := range projects {
		refs, err := st.ListReferences(ctx, p.ID, "")
		if err != nil {
			return err
		}
		if err := idx.AddAll(refs); err != nil {
			return err
		}
	}
	return nil
}
