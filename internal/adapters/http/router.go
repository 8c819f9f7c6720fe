package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/policy-router/internal/core/domain"
	"github.com/kirillkom/policy-router/internal/core/ports"
)

const maxBodyBytes = 1 << 20

type Options struct {
	AuthToken      string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger

	// Metrics, when set, wraps every route and counts rejected requests.
	Metrics HTTPMetrics
	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
}

type HTTPMetrics interface {
	Middleware(service string, next http.Handler) http.Handler
	RecordRejected(service, reason string)
}

type Router struct {
	answerer  ports.PolicyAnswerer
	plans     ports.PlanReader
	verticals ports.VerticalCatalog
	feedback  ports.FeedbackService
	opts      Options
	validator routers.Router
}

func NewRouter(
	answerer ports.PolicyAnswerer,
	plans ports.PlanReader,
	verticals ports.VerticalCatalog,
	feedback ports.FeedbackService,
	opts Options,
) (*Router, error) {
	validator, err := loadOpenAPIRouter()
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{
		answerer:  answerer,
		plans:     plans,
		verticals: verticals,
		feedback:  feedback,
		opts:      opts,
		validator: validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	const service = "policy-api"
	var onReject func(string)
	if rt.opts.Metrics != nil {
		onReject = func(reason string) { rt.opts.Metrics.RecordRejected(service, reason) }
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.opts.Logger))
	if rt.opts.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler { return rt.opts.Metrics.Middleware(service, next) })
	}

	r.Get("/healthz", rt.healthz)
	if rt.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(bearerAuthMiddleware(rt.opts.AuthToken))
		r.Use(rateLimitMiddleware(rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, onReject))
		r.Use(backpressureMiddleware(rt.opts.MaxInFlight, rt.opts.QueueWait, onReject))
		r.Use(requestValidationMiddleware(rt.validator))

		r.Post("/answer", rt.answer)
		r.Get("/plans/{planID}", rt.getPlan)
		r.Get("/verticals", rt.listVerticals)
		r.Post("/feedback", rt.submitFeedback)
	})
	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req domain.PolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.RequestID = requestIDFromContext(r.Context())

	ctx := r.Context()
	if rt.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := rt.answerer.Answer(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) getPlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	plan, found, err := rt.plans.GetPlan(r.Context(), planID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:     fmt.Sprintf("plan %s not found", planID),
			RequestID: requestIDFromContext(r.Context()),
		})
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (rt *Router) listVerticals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"verticals": rt.verticals.Verticals()})
}

func (rt *Router) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var fb domain.Feedback
	if err := decodeJSON(w, r, &fb); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := rt.feedback.Submit(r.Context(), fb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.WrapError(domain.ErrInvalidInput, "decode request", fmt.Errorf("empty body"))
		}
		return domain.WrapError(domain.ErrInvalidInput, "decode request", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
