package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/benefitworks/costimator/internal/circuitbreaker"
	"github.com/benefitworks/costimator/internal/estimate"
	"github.com/benefitworks/costimator/internal/rates"
	"github.com/benefitworks/costimator/internal/upstream"
)

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// requestContext applies the configured per-request deadline.
func (d Dependencies) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if d.RequestDeadline <= 0 {
		return r.Context(), func() {}
	}
	return context.WithTimeout(r.Context(), d.RequestDeadline)
}

// observe records request metrics and refreshes the breaker-state gauge.
func (d Dependencies) observe(mode string, status int, start time.Time) {
	if d.Metrics == nil {
		return
	}
	d.Metrics.EstimatesTotal.WithLabelValues(mode, strconv.Itoa(status)).Inc()
	d.Metrics.EstimateLatency.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
	if d.Breakers != nil {
		for endpoint, st := range d.Breakers.States() {
			var v float64
			switch st {
			case circuitbreaker.Open:
				v = 1
			case circuitbreaker.HalfOpen:
				v = 2
			}
			d.Metrics.BreakerState.WithLabelValues(endpoint).Set(v)
		}
	}
}

// EstimateHandler serves multi-provider estimates. Per-provider failures are
// embedded in the response; the request itself answers 200 unless the body
// is malformed.
func EstimateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req estimate.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			d.observe("multi", http.StatusBadRequest, start)
			return
		}

		ctx, cancel := d.requestContext(r)
		defer cancel()

		resp, err := d.Estimator.Estimate(ctx, req)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			d.observe("multi", http.StatusBadRequest, start)
			return
		}

		writeJSON(w, http.StatusOK, resp)
		d.observe("multi", http.StatusOK, start)
	}
}

// EstimateSingleHandler serves single-provider estimates: a typed upstream
// failure becomes the request's status code.
func EstimateSingleHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req estimate.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			d.observe("single", http.StatusBadRequest, start)
			return
		}

		ctx, cancel := d.requestContext(r)
		defer cancel()

		resp, err := d.Estimator.EstimateSingle(ctx, req)
		if err != nil {
			var te *upstream.Error
			if errors.As(err, &te) {
				status := upstream.HTTPStatus(te.Kind)
				writeJSON(w, status, map[string]string{
					"code":         string(te.Kind),
					"message":      te.Message,
					"querySummary": te.Query,
				})
				d.observe("single", status, start)
				return
			}
			jsonError(w, err.Error(), http.StatusBadRequest)
			d.observe("single", http.StatusBadRequest, start)
			return
		}

		writeJSON(w, http.StatusOK, resp)
		d.observe("single", http.StatusOK, start)
	}
}

// RateUpsertRequest is the JSON body for PUT /admin/v1/rates.
type RateUpsertRequest struct {
	ServiceCode    string          `json:"serviceCode"`
	PlaceOfService string          `json:"placeOfService"`
	ProviderID     string          `json:"providerId"`
	NetworkID      string          `json:"networkId"`
	SpecialtyCode  string          `json:"specialtyCode"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           string          `json:"kind"`
}

// RatesUpsertHandler loads one negotiated rate into the rate store.
func RatesUpsertHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RateUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.ServiceCode == "" || req.ProviderID == "" {
			jsonError(w, "serviceCode and providerId required", http.StatusBadRequest)
			return
		}
		kind := rates.Kind(req.Kind)
		if kind != rates.KindAmount && kind != rates.KindPercentage {
			jsonError(w, "kind must be AMOUNT or PERCENTAGE", http.StatusBadRequest)
			return
		}
		if req.Amount.IsNegative() {
			jsonError(w, "amount must not be negative", http.StatusBadRequest)
			return
		}

		q := rates.Query{
			ServiceCode:    req.ServiceCode,
			PlaceOfService: req.PlaceOfService,
			ProviderID:     req.ProviderID,
			NetworkID:      req.NetworkID,
			SpecialtyCode:  req.SpecialtyCode,
		}
		if err := d.Rates.Upsert(r.Context(), q, req.Amount, kind); err != nil {
			d.Logger.Error("rate upsert failed", "error", err)
			jsonError(w, "rate store unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
	}
}
