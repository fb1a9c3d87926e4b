package swap

import (
	"sync"
)

// TradeProgress is the payload delivered to progress handlers on every state
// change. Intermediate states are observable but not separately
// error-reportable; the terminal outcome is what ExecuteTrade returns.
type TradeProgress struct {
	// TradeID correlates updates belonging to one ExecuteTrade call.
	TradeID string

	// Account is the trade's source account.
	Account string

	// State is the state just entered.
	State State

	// Detail is a human-readable note ("creating trustline for USDC", ...).
	Detail string
}

// ProgressHandler is a callback invoked on trade state changes.
type ProgressHandler func(TradeProgress)

// ProgressRegistry manages progress handlers for trade state changes.
// UI or bot callers register callbacks to render updates like
// "creating trustline…" while a trade runs.
//
// Handlers are stored per state and execute sequentially in registration
// order. The registry is thread-safe for concurrent registration and
// triggering. Handlers should be quick, non-blocking operations.
type ProgressRegistry struct {
	handlers map[State][]ProgressHandler
	all      []ProgressHandler
	mu       sync.RWMutex
}

// NewProgressRegistry creates a new progress registry.
func NewProgressRegistry() *ProgressRegistry {
	return &ProgressRegistry{
		handlers: make(map[State][]ProgressHandler),
	}
}

// On registers a handler for a specific state. Multiple handlers can be
// registered for the same state and execute in registration order.
func (r *ProgressRegistry) On(state State, handler ProgressHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[state] = append(r.handlers[state], handler)
}

// OnAll registers a handler invoked on every state change.
func (r *ProgressRegistry) OnAll(handler ProgressHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.all = append(r.all, handler)
}

// Trigger executes all registered handlers for the progress update's state,
// then the OnAll handlers, sequentially in registration order.
func (r *ProgressRegistry) Trigger(progress TradeProgress) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, handler := range r.handlers[progress.State] {
		handler(progress)
	}
	for _, handler := range r.all {
		handler(progress)
	}
}
