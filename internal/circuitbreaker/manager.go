package circuitbreaker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/relaycore/relaycore/internal/events"
	"github.com/relaycore/relaycore/internal/rcerrors"
)

// Candidate describes one failover target considered by ExecuteWithFailover.
// Priority is ascending (lower tried first); HealthScore is descending
// (higher tried first among equal priority), typically sourced from
// internal/health.Tracker's error rate and latency.
type Candidate struct {
	ProviderID  string
	Priority    int
	HealthScore float64
}

// ProviderOp is a provider-specific operation invoked during failover.
type ProviderOp func(ctx context.Context) error

// Manager owns one Breaker per provider and coordinates failover across
// them.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
	bus      *events.Bus
}

// NewManager creates a Manager whose breakers are all constructed with the
// given options. bus may be nil, in which case failover events are dropped.
func NewManager(bus *events.Bus, opts ...Option) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		opts:     opts,
		bus:      bus,
	}
}

// BreakerFor returns (creating if necessary) the breaker for a provider.
func (m *Manager) BreakerFor(providerID string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[providerID]
	if !ok {
		b = New(m.opts...)
		m.breakers[providerID] = b
	}
	return b
}

// IsAvailable reports whether the provider's breaker considers it healthy.
func (m *Manager) IsAvailable(providerID string) bool {
	return m.BreakerFor(providerID).IsHealthy()
}

// ExecuteWithFailover tries the primary provider's operation first. On
// failure it iterates candidates filtered by IsAvailable, sorted by
// ascending Priority then descending HealthScore, invoking each one's
// operation from ops until one succeeds. Returns the provider id that
// ultimately succeeded, or a rcerrors.AllProvidersFailed error aggregating
// every attempt if none did.
func (m *Manager) ExecuteWithFailover(
	ctx context.Context,
	primaryID string,
	primaryOp ProviderOp,
	candidates []Candidate,
	ops map[string]ProviderOp,
) (string, error) {
	var attempted []string
	var errs []string

	primaryErr := m.BreakerFor(primaryID).Execute(ctx, primaryOp)
	attempted = append(attempted, primaryID)
	if primaryErr == nil {
		return primaryID, nil
	}
	errs = append(errs, fmt.Sprintf("%s: %v", primaryID, primaryErr))

	ordered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ProviderID == primaryID {
			continue
		}
		if !m.IsAvailable(c.ProviderID) {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].HealthScore > ordered[j].HealthScore
	})

	for _, c := range ordered {
		op, ok := ops[c.ProviderID]
		if !ok {
			continue
		}
		attempted = append(attempted, c.ProviderID)
		if err := m.BreakerFor(c.ProviderID).Execute(ctx, op); err == nil {
			m.publish(events.Event{
				Type:               events.EventFailoverSuccess,
				ProviderID:         c.ProviderID,
				AttemptedProviders: attempted,
			})
			return c.ProviderID, nil
		} else {
			errs = append(errs, fmt.Sprintf("%s: %v", c.ProviderID, err))
		}
	}

	m.publish(events.Event{
		Type:               events.EventAllProvidersFailed,
		AttemptedProviders: attempted,
		ErrorMsg:           strings.Join(errs, "; "),
	})
	return "", rcerrors.New(rcerrors.AllProvidersFailed, "all providers failed: "+strings.Join(errs, "; ")).
		WithDetails(rcerrors.Details{AttemptedProviders: attempted})
}

func (m *Manager) publish(e events.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
