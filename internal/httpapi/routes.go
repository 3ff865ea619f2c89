package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/benefitworks/costimator/internal/circuitbreaker"
	"github.com/benefitworks/costimator/internal/estimate"
	"github.com/benefitworks/costimator/internal/metrics"
	"github.com/benefitworks/costimator/internal/rates"
)

// Estimator is the orchestrator surface the HTTP layer consumes.
type Estimator interface {
	Estimate(ctx context.Context, req estimate.Request) (*estimate.Response, error)
	EstimateSingle(ctx context.Context, req estimate.Request) (*estimate.Response, error)
}

// RateWriter is the admin surface for loading negotiated rates.
type RateWriter interface {
	Upsert(ctx context.Context, q rates.Query, amount decimal.Decimal, kind rates.Kind) error
}

type Dependencies struct {
	Estimator Estimator
	Rates     RateWriter
	Metrics   *metrics.Registry
	Breakers  *circuitbreaker.Registry
	Logger    *slog.Logger

	// RequestDeadline bounds one estimate request end to end; zero disables
	// the per-request deadline.
	RequestDeadline time.Duration
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		states := map[string]string{}
		healthy := true
		if d.Breakers != nil {
			for endpoint, st := range d.Breakers.States() {
				states[endpoint] = st.String()
				if st == circuitbreaker.Open {
					healthy = false
				}
			}
		}
		status := "ok"
		if !healthy {
			// Open breakers mean upstreams are failing; report degraded but
			// keep answering 200 so the process is not restarted for an
			// upstream outage.
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   status,
			"breakers": states,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/estimate", EstimateHandler(d))
		r.Post("/estimate/single", EstimateSingleHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Put("/rates", RatesUpsertHandler(d))
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}
