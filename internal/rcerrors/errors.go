// Package rcerrors defines the typed error kinds RelayCore's pipeline and
// subsystems use to classify failures, per the error handling design.
// Callers distinguish kinds with errors.As, never by matching message text.
package rcerrors

import "fmt"

// Kind identifies a class of failure and how the pipeline should propagate it.
type Kind string

const (
	// InvalidConfig means a rule file or config value failed validation.
	// Fatal at startup.
	InvalidConfig Kind = "invalid_config"
	// BudgetNotFound means a referenced budget id does not exist.
	BudgetNotFound Kind = "budget_not_found"
	// BudgetExceeded means a constraint check forbids the request.
	BudgetExceeded Kind = "budget_exceeded"
	// QueueFull means the priority queue rejected an enqueue.
	QueueFull Kind = "queue_full"
	// ProviderTimeout means a breaker-wrapped call exceeded its timeout.
	ProviderTimeout Kind = "provider_timeout"
	// ProviderFailure means a non-timeout upstream error occurred.
	ProviderFailure Kind = "provider_failure"
	// CircuitOpen means a breaker rejected the call outright.
	CircuitOpen Kind = "circuit_open"
	// AllProvidersFailed means the primary and every failover candidate failed.
	AllProvidersFailed Kind = "all_providers_failed"
	// TransientStoreError means a DB/KV outage occurred.
	TransientStoreError Kind = "transient_store_error"
	// Cancelled means the caller's context was cancelled or its deadline passed.
	Cancelled Kind = "cancelled"
)

// Details carries the optional user-visible failure context.
type Details struct {
	BudgetID            string   `json:"budgetId,omitempty"`
	AttemptedProviders  []string `json:"attemptedProviders,omitempty"`
	SuggestedActions    []string `json:"suggestedActions,omitempty"`
}

// RelayError is the user-visible failure shape: {kind, message, details?}.
type RelayError struct {
	Kind    Kind
	Message string
	Details *Details
	Err     error // wrapped cause, if any
}

func (e *RelayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Err }

// New creates a RelayError with no wrapped cause.
func New(kind Kind, message string) *RelayError {
	return &RelayError{Kind: kind, Message: message}
}

// Wrap creates a RelayError wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *RelayError {
	return &RelayError{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches Details and returns the same error for chaining.
func (e *RelayError) WithDetails(d Details) *RelayError {
	e.Details = &d
	return e
}

// KindOf extracts the Kind from err if it is (or wraps) a *RelayError.
// Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var re *RelayError
	if asRelayError(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// asRelayError is a small errors.As wrapper kept here to avoid importing
// errors in call sites that only need KindOf.
func asRelayError(err error, target **RelayError) bool {
	for err != nil {
		if re, ok := err.(*RelayError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
