// Package pipeline wires RelayCore's subsystems — the steering rules
// engine, the budget subsystem, the cost predictor, the semantic cache, the
// priority queue, and the provider circuit breakers — into the single
// request-handling path a transport (HTTP, gRPC, whatever fronts it) calls
// into. It owns the priority queue's dispatch loop and is the one place
// that understands the full request lifecycle end to end.
package pipeline

import (
	"encoding/json"
	"log/slog"

	"github.com/relaycore/relaycore/internal/budget"
	"github.com/relaycore/relaycore/internal/cachemanager"
	"github.com/relaycore/relaycore/internal/circuitbreaker"
	"github.com/relaycore/relaycore/internal/costpredict"
	"github.com/relaycore/relaycore/internal/dispatch"
	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/health"
	"github.com/relaycore/relaycore/internal/metrics"
	"github.com/relaycore/relaycore/internal/neuroweaver"
	"github.com/relaycore/relaycore/internal/priorityqueue"
	"github.com/relaycore/relaycore/internal/router"
	"github.com/relaycore/relaycore/internal/semanticcache"
	"github.com/relaycore/relaycore/internal/stats"
	"github.com/relaycore/relaycore/internal/steering"
)

// Message is one chat turn in an incoming Request.
type Message struct {
	Role    string
	Content string
}

// Request is the pipeline's entry-point envelope. A transport builds one of
// these from whatever wire format it speaks.
type Request struct {
	ID             string
	UserID         string
	TeamID         string
	ProjectID      string
	SystemSource   string
	Messages       []Message
	RequestedModel string
	MaxTokens      int
	ProfileID      string
	CostPref       steering.CostPreference
	Priority       priorityqueue.Priority
	Parameters     map[string]any
}

// Response is what Handle returns on success.
type Response struct {
	RequestID  string
	ProviderID string
	ModelID    string
	Body       json.RawMessage
	CostUSD    float64
	CacheHit   bool
	LatencyMs  float64
	Decision   steering.Decision
}

// Deps bundles every subsystem the pipeline orchestrates. All fields except
// Adapters, ModelProviders, and Logger may be left nil/empty to disable the
// corresponding concern (e.g. a nil Cache just means every request misses).
type Deps struct {
	Steering  *steering.Engine
	Budget    *budget.Manager
	Ledger    *budget.Integration
	Predictor *costpredict.Predictor
	Cache     *semanticcache.Cache
	// L1 is an exact-match cache tier checked before Cache's similarity
	// search, for identical prompts that don't need embedding at all.
	L1       *cachemanager.Manager
	Stats    *stats.Collector
	Breakers *circuitbreaker.Manager
	Health   *health.Tracker
	Feedback *neuroweaver.Client
	Metrics  *metrics.Registry
	Bus      *events.Bus
	Logger   *slog.Logger

	// Adapters maps a providerID to the Sender that talks to it.
	Adapters map[string]router.Sender

	// ModelProviders maps a model id to the providerID that serves it,
	// letting costpredict.OptimizeModelSelection substitute a model across
	// providers without the steering engine needing to know every model's
	// host. Models absent from this map fall back to steering's own
	// ProviderID.
	ModelProviders map[string]string

	// FailoverOrder lists, for a primary providerID, the ordered candidate
	// providers circuitbreaker.Manager.ExecuteWithFailover should try next.
	// Absent entries mean no failover candidates beyond the primary.
	FailoverOrder map[string][]string

	// Dispatch, when set, routes each queued request's attempt through a
	// Temporal workflow whose activity retries survive a process restart.
	// A workflow that still fails is returned to the priority queue, whose
	// own in-process retry/backoff loop then re-enqueues the request as for
	// any other dispatch error. Nil means the in-process path
	// (Pipeline.Attempt called directly) is used.
	Dispatch *dispatch.Manager
}

// dispatchPayload is the priorityqueue.Request.Payload the pipeline's
// Dispatcher type-asserts back out.
type dispatchPayload struct {
	providerID string
	modelID    string
	routerReq  router.Request
}
