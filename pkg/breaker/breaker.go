// Package breaker provides named circuit breakers guarding every external
// edge (stt, tts, l1, l2, ambiguity, dispatch). State is in-memory and
// per-name; reads and writes are atomic inside gobreaker.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a call is short-circuited by an open breaker.
var ErrOpen = errors.New("circuit breaker open")

// Settings configures one named breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from closed to open.
	FailureThreshold uint32
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a single half-open probe.
	RecoveryTimeout time.Duration
}

// defaults are the per-service breaker settings. Services not listed fall
// back to fallbackSettings.
var defaults = map[string]Settings{
	"stt":       {FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
	"tts":       {FailureThreshold: 5, RecoveryTimeout: 30 * time.Second},
	"l1":        {FailureThreshold: 3, RecoveryTimeout: 60 * time.Second},
	"l2":        {FailureThreshold: 3, RecoveryTimeout: 60 * time.Second},
	"ambiguity": {FailureThreshold: 4, RecoveryTimeout: 45 * time.Second},
	"dispatch":  {FailureThreshold: 3, RecoveryTimeout: 120 * time.Second},
}

var fallbackSettings = Settings{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}

// Registry hands out one breaker per service name, creating it on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// get returns the breaker for name, creating it with per-service defaults.
func (r *Registry) get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	st, ok := defaults[name]
	if !ok {
		st = fallbackSettings
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Single probe in half-open.
		MaxRequests: 1,
		Timeout:     st.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change",
				"service", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[name] = cb
	return cb
}

// Execute runs fn under the named breaker. When the breaker is open the call
// short-circuits with ErrOpen so stages can substitute their defined default
// result instead of waiting on a dead dependency.
func (r *Registry) Execute(name string, fn func() error) error {
	_, err := r.get(name).Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the current state string for a named breaker ("closed",
// "open", "half-open").
func (r *Registry) State(name string) string {
	return r.get(name).State().String()
}
