package transport

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/socketgate/pkg/gateway"
)

// HandlerFunc processes an admitted event. The returned value is sent back as
// the result data.
type HandlerFunc func(ctx context.Context, conn *gateway.Conn, msg Inbound) (interface{}, error)

// Registry maps event names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates a registry with the built-in ping handler
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]HandlerFunc)}
	r.Register("ping", Ping)
	return r
}

// Register adds or replaces the handler for event
func (r *Registry) Register(event string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = fn
}

// Lookup returns the handler for event
func (r *Registry) Lookup(event string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[event]
	return fn, ok
}

// Ping answers with the server time
func Ping(_ context.Context, _ *gateway.Conn, _ Inbound) (interface{}, error) {
	return map[string]interface{}{"pong": time.Now().UTC()}, nil
}
