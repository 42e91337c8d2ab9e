// Package transport is RelayCore's HTTP surface: a thin chi router that
// decodes requests, calls into internal/pipeline, and encodes the result.
// It owns none of the routing/budget/cache decisions itself.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relaycore/relaycore/internal/idempotency"
	"github.com/relaycore/relaycore/internal/logging"
	"github.com/relaycore/relaycore/internal/metrics"
	"github.com/relaycore/relaycore/internal/pipeline"
	"github.com/relaycore/relaycore/internal/priorityqueue"
	"github.com/relaycore/relaycore/internal/ratelimit"
	"github.com/relaycore/relaycore/internal/rcerrors"
	"github.com/relaycore/relaycore/internal/steering"
	"github.com/relaycore/relaycore/internal/tracing"
)

// Config configures the HTTP surface.
type Config struct {
	CORSOrigins  []string
	RateLimitRPS int
	RateLimit    int // burst
	OTelEnabled  bool
}

// Server wraps a chi.Mux bound to a Pipeline.
type Server struct {
	mux      *chi.Mux
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// New builds the HTTP surface. rl and idem may be nil to disable rate
// limiting / idempotent replay respectively.
func New(p *pipeline.Pipeline, m *metrics.Registry, logger *slog.Logger, cfg Config, rl *ratelimit.Limiter, idem *idempotency.Cache) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipeline: p, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.OTelEnabled {
		r.Use(tracing.Middleware())
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(rl.Middleware)
		}
		if idem != nil {
			r.Use(idempotency.Middleware(idem))
		}
		r.Post("/v1/chat", s.handleChat)
	})

	s.mux = r
	return s
}

// Router returns the underlying http.Handler.
func (s *Server) Router() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// chatRequest is the wire envelope for POST /v1/chat.
type chatRequest struct {
	ID             string                 `json:"id,omitempty"`
	UserID         string                 `json:"user_id"`
	TeamID         string                 `json:"team_id,omitempty"`
	ProjectID      string                 `json:"project_id,omitempty"`
	SystemSource   string                 `json:"system_source,omitempty"`
	Messages       []chatMessage          `json:"messages"`
	RequestedModel string                 `json:"model,omitempty"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	ProfileID      string                 `json:"profile_id,omitempty"`
	CostPreference string                 `json:"cost_preference,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
	Parameters     map[string]any         `json:"parameters,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	RequestID  string          `json:"request_id"`
	ProviderID string          `json:"provider_id"`
	ModelID    string          `json:"model_id"`
	Body       json.RawMessage `json:"body"`
	CostUSD    float64         `json:"cost_usd"`
	CacheHit   bool            `json:"cache_hit"`
	LatencyMs  float64         `json:"latency_ms"`
	Reason     string          `json:"reason,omitempty"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, rcerrors.New(rcerrors.InvalidConfig, "malformed request body"))
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, rcerrors.New(rcerrors.InvalidConfig, "messages must not be empty"))
		return
	}

	req := pipeline.Request{
		ID:             requestID(body.ID, r),
		UserID:         body.UserID,
		TeamID:         body.TeamID,
		ProjectID:      body.ProjectID,
		SystemSource:   body.SystemSource,
		Messages:       toPipelineMessages(body.Messages),
		RequestedModel: body.RequestedModel,
		MaxTokens:      body.MaxTokens,
		ProfileID:      body.ProfileID,
		CostPref:       steering.CostPreference(body.CostPreference),
		Priority:       priorityqueue.Priority(body.Priority),
		Parameters:     body.Parameters,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp, err := s.pipeline.Handle(ctx, req)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{
		RequestID:  resp.RequestID,
		ProviderID: resp.ProviderID,
		ModelID:    resp.ModelID,
		Body:       resp.Body,
		CostUSD:    resp.CostUSD,
		CacheHit:   resp.CacheHit,
		LatencyMs:  resp.LatencyMs,
		Reason:     resp.Decision.Reason,
	})
}

func requestID(provided string, r *http.Request) string {
	if provided != "" {
		return provided
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func toPipelineMessages(msgs []chatMessage) []pipeline.Message {
	out := make([]pipeline.Message, len(msgs))
	for i, m := range msgs {
		out[i] = pipeline.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func statusForErr(err error) int {
	kind, ok := rcerrors.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case rcerrors.InvalidConfig:
		return http.StatusBadRequest
	case rcerrors.BudgetExceeded, rcerrors.BudgetNotFound:
		return http.StatusPaymentRequired
	case rcerrors.QueueFull:
		return http.StatusTooManyRequests
	case rcerrors.CircuitOpen, rcerrors.AllProvidersFailed, rcerrors.ProviderFailure, rcerrors.ProviderTimeout:
		return http.StatusBadGateway
	case rcerrors.Cancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	kind, ok := rcerrors.KindOf(err)
	if !ok {
		kind = rcerrors.ProviderFailure
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Kind: string(kind), Message: err.Error()})
}
