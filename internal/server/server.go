package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/engine"
	"github.com/mohammad-safakhou/deepresearch/internal/provider"
	"github.com/mohammad-safakhou/deepresearch/internal/registry"
	"github.com/mohammad-safakhou/deepresearch/internal/session"
	redisstore "github.com/mohammad-safakhou/deepresearch/internal/session/redis"
	"github.com/mohammad-safakhou/deepresearch/internal/telemetry"
	"github.com/mohammad-safakhou/deepresearch/tools/docs"
	webfetch "github.com/mohammad-safakhou/deepresearch/tools/web_fetch"
	websearch "github.com/mohammad-safakhou/deepresearch/tools/web_search"
)

// Server wires the turn engine and its collaborators behind an echo app.
type Server struct {
	Echo   *echo.Echo
	Engine *engine.Engine
	Store  engine.SessionStore
	Sched  *Scheduler
	cfg    *appconfig.Config
}

// New builds the full dependency graph from config.
func New(ctx context.Context, cfg *appconfig.Config) (*Server, error) {
	tele := telemetry.New(prometheus.DefaultRegisterer)

	prov, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	reg, dataTools, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	st, err := session.NewStore(ctx, session.StoreType(cfg.Session.Store), session.Options{
		TTL:           cfg.Session.TTL,
		RedisAddr:     cfg.Session.Redis.Addr(),
		RedisPassword: cfg.Session.Redis.Password,
		RedisDB:       cfg.Session.Redis.DB,
		PostgresDSN:   cfg.Session.Postgres.DSN(),
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	engLogger := log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	eng := engine.New(engine.Config{
		DefaultModel:            cfg.LLM.Routing.Orchestrator,
		DefaultDataTools:        dataTools,
		MaxSpecialistIterations: cfg.Agents.MaxSpecialistIterations,
	}, prov, reg, st, engLogger, tele)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
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
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	srv := &Server{Echo: e, Engine: eng, Store: st, cfg: cfg}

	api := e.Group("/api/research")
	if mw := authMiddleware(cfg.Server); mw != nil {
		api.Use(mw)
	}
	th := &TurnHandler{Engine: eng, Logger: log.New(log.Writer(), "[TURN] ", log.LstdFlags)}
	th.Register(api)
	sh := &SessionHandler{Store: st}
	sh.Register(api)

	if cfg.Session.Sweep.Enabled {
		srv.Sched = newScheduler(cfg.Session.Sweep, st)
		if rs, ok := st.(*redisstore.Store); ok {
			srv.Sched.Rdb = rs.Client()
		}
	}
	return srv, nil
}

// Run starts the scheduler and blocks serving HTTP.
func (s *Server) Run(addr string) error {
	if addr == "" {
		addr = s.cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	if s.Sched != nil {
		s.Sched.Start()
		defer s.Sched.Close()
	}
	log.Printf("listening on %s", addr)
	return s.Echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.Sched != nil {
		s.Sched.Close()
	}
	return s.Echo.Shutdown(ctx)
}

func buildProvider(cfg *appconfig.Config) (provider.Provider, error) {
	for name, pc := range cfg.LLM.Providers {
		if pc.APIKey == "" {
			continue
		}
		ptype := pc.Type
		if ptype == "" {
			ptype = name
		}
		timeout := pc.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		return provider.NewProvider(provider.Client(ptype), provider.Options{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Timeout: timeout,
		})
	}
	return nil, fmt.Errorf("no llm provider configured with an api key (llm.providers)")
}

func buildRegistry(cfg *appconfig.Config) (*registry.Registry, []string, error) {
	reg := registry.New()

	var dataTools []string
	if cfg.Tools.WebSearch.APIKey != "" {
		searcher, err := websearch.NewWebSearcher(websearch.Provider(cfg.Tools.WebSearch.Provider), cfg.Tools.WebSearch.APIKey)
		if err != nil {
			return nil, nil, err
		}
		reg.RegisterTool(websearch.Tool{Searcher: searcher, MaxResults: cfg.Tools.WebSearch.MaxResults})
		dataTools = append(dataTools, "web_search")
	}

	fetcher, err := webfetch.NewWebFetcher(webfetch.ChromedpFetcherType, cfg.Tools.WebFetch.Timeout, cfg.Tools.WebFetch.MaxChars)
	if err != nil {
		return nil, nil, err
	}
	reg.RegisterTool(webfetch.Tool{Fetcher: fetcher})
	dataTools = append(dataTools, "web_extract")

	if cfg.Tools.Docs.Dir != "" {
		idx, err := docs.NewIndex(cfg.Tools.Docs.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("docs index: %w", err)
		}
		reg.RegisterTool(docs.Tool{Index: idx})
		dataTools = append(dataTools, "docs_lookup")
	}

	// agents.default_data_tools narrows what the orchestrator advertises,
	// but never past the set of tools actually registered.
	if len(cfg.Agents.DefaultDataTools) > 0 {
		registered := make(map[string]bool, len(dataTools))
		for _, name := range dataTools {
			registered[name] = true
		}
		var filtered []string
		for _, name := range cfg.Agents.DefaultDataTools {
			if registered[name] {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) > 0 {
			dataTools = filtered
		}
	}

	routing := registry.Routing{
		Orchestrator:  cfg.LLM.Routing.Orchestrator,
		Research:      cfg.LLM.Routing.Research,
		Report:        cfg.LLM.Routing.Report,
		Clarification: cfg.LLM.Routing.Clarification,
	}
	for _, model := range []*string{&routing.Orchestrator, &routing.Research, &routing.Report, &routing.Clarification} {
		if *model == "" {
			*model = cfg.LLM.Routing.Fallback
		}
	}
	for _, card := range registry.DefaultAgentCards(routing, dataTools) {
		reg.RegisterAgent(card)
	}
	return reg, dataTools, nil
}
