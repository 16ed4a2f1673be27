package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// HubConfig paces monitor broadcasts per admin connection
type HubConfig struct {
	AdminRate  float64
	AdminBurst int
}

// DefaultHubConfig allows 50 events per second with bursts of 100
var DefaultHubConfig = HubConfig{AdminRate: 50, AdminBurst: 100}

// Hub tracks open connections and relays monitor events to admin connections
// on the admin:audit channel. It implements audit.Publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup

	cfg     HubConfig
	logger  *observability.Logger
	dropped atomic.Int64
}

var _ audit.Publisher = (*Hub)(nil)

// NewHub creates a hub. Zero config values fall back to DefaultHubConfig.
func NewHub(cfg HubConfig, logger *observability.Logger) *Hub {
	if cfg.AdminRate <= 0 {
		cfg.AdminRate = DefaultHubConfig.AdminRate
	}
	if cfg.AdminBurst <= 0 {
		cfg.AdminBurst = DefaultHubConfig.AdminBurst
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		cfg:     cfg,
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	if id := c.conn.Identity(); id != nil && id.IsAdmin() {
		c.pace = rate.NewLimiter(rate.Limit(h.cfg.AdminRate), h.cfg.AdminBurst)
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.wg.Add(1)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.wg.Done()
	}
}

// Count returns the number of open connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many broadcasts were skipped because an admin
// connection exceeded its pace or its send buffer
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Publish sends event to every admin connection
func (h *Hub) Publish(_ context.Context, event audit.MonitorEvent) error {
	payload, err := json.Marshal(Broadcast{Type: TypeAdminAudit, Data: event})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.pace == nil {
			continue
		}
		if !c.pace.Allow() || !c.enqueueRaw(payload) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// CloseAll sends a close frame to every connection
func (h *Hub) CloseAll(code int, text string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeWith(code, text)
	}
	if len(clients) > 0 {
		h.logger.Infof("Closed %d connections", len(clients))
	}
}

// Wait blocks until every connection has been released or ctx is done
func (h *Hub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
