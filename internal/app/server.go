package app

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/benefitworks/costimator/internal/circuitbreaker"
	"github.com/benefitworks/costimator/internal/engine"
	"github.com/benefitworks/costimator/internal/estimate"
	"github.com/benefitworks/costimator/internal/httpapi"
	"github.com/benefitworks/costimator/internal/logging"
	"github.com/benefitworks/costimator/internal/metrics"
	"github.com/benefitworks/costimator/internal/pcp"
	"github.com/benefitworks/costimator/internal/rates"
	"github.com/benefitworks/costimator/internal/token"
	"github.com/benefitworks/costimator/internal/tracing"
	"github.com/benefitworks/costimator/internal/upstream"
)

type Server struct {
	cfg Config

	r *chi.Mux

	rates  *rates.Store
	logger *slog.Logger

	stopPCP       context.CancelFunc
	traceShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "costimator",
	})
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	m := metrics.New()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecure {
		logger.Warn("upstream TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	httpClient := &http.Client{
		Timeout:   cfg.UpstreamTimeout,
		Transport: tracing.HTTPTransport(transport),
	}

	issuer := token.NewIssuer(cfg.TokenURL, cfg.TokenClientID, cfg.TokenClientSecret, httpClient, logger)
	issuer.OnRefresh = m.TokenRefreshes.Inc

	breakers := circuitbreaker.NewRegistry(
		circuitbreaker.WithThreshold(cfg.CircuitThreshold),
		circuitbreaker.WithCooldown(cfg.CircuitCooldown),
	)

	client := upstream.NewClient(httpClient, issuer, breakers, upstream.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffMin:  cfg.BackoffMin,
		BackoffMax:  cfg.BackoffMax,
	}, logger)
	client.ObserveLatency = func(endpoint, status string, elapsed time.Duration) {
		m.UpstreamLatency.WithLabelValues(endpoint, status).Observe(float64(elapsed.Milliseconds()))
	}

	rateStore, err := rates.NewSQLite(cfg.RatesDSN)
	if err != nil {
		return nil, err
	}
	if err := rateStore.Migrate(context.Background()); err != nil {
		_ = rateStore.Close()
		return nil, err
	}
	logger.Info("rate store initialized", slog.String("dsn", cfg.RatesDSN))

	pcpCtx, stopPCP := context.WithCancel(context.Background())
	pcpCache, err := pcp.NewCache(pcpCtx, pcp.StaticLoader(cfg.PCPSpecialties), cfg.PCPRefresh, logger)
	if err != nil {
		stopPCP()
		_ = rateStore.Close()
		return nil, err
	}
	go pcpCache.Run(pcpCtx)

	// A wiring mistake in the handler chain is a start-up failure.
	chain, err := engine.New()
	if err != nil {
		stopPCP()
		_ = rateStore.Close()
		return nil, err
	}

	orch := estimate.New(estimate.Deps{
		Benefits: upstream.NewBenefitsFetcher(client, cfg.BenefitsURL),
		Accums:   upstream.NewAccumulatorsFetcher(client, cfg.AccumulatorsURL),
		Rates:    rateStore,
		PCP:      pcpCache,
		Chain:    chain,
		Logger:   logger,
	})

	s := &Server{
		cfg:           cfg,
		r:             r,
		rates:         rateStore,
		logger:        logger,
		stopPCP:       stopPCP,
		traceShutdown: traceShutdown,
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Estimator:       orch,
		Rates:           rateStore,
		Metrics:         m,
		Breakers:        breakers,
		Logger:          logger,
		RequestDeadline: cfg.RequestDeadline,
	})

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the subset of configuration that can change at runtime.
// Endpoints, breakers, and stores are fixed for the process lifetime.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

func (s *Server) Close() error {
	if s.stopPCP != nil {
		s.stopPCP()
	}
	if s.traceShutdown != nil {
		_ = s.traceShutdown(context.Background())
	}
	if s.rates != nil {
		return s.rates.Close()
	}
	return nil
}
