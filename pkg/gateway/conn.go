package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/contextkeys"
	"github.com/platinummonkey/socketgate/pkg/rbac"
)

// Conn is the connection-scoped state handed to every stage. The identity is
// set once by a successful authentication and never shared between
// connections.
type Conn struct {
	ID         string
	RemoteAddr string
	Handshake  auth.Handshake
	// Attributes carries the connection-level target, such as the department
	// the client asked to work in
	Attributes rbac.Scope
	OpenedAt   time.Time

	mu       sync.RWMutex
	identity *auth.Identity
}

// NewConn creates a connection with a fresh id from a handshake
func NewConn(h auth.Handshake) *Conn {
	return &Conn{
		ID:         uuid.NewString(),
		RemoteAddr: h.RemoteAddr,
		Handshake:  h,
		OpenedAt:   time.Now(),
	}
}

// Identity returns a copy of the authenticated identity, or nil
func (c *Conn) Identity() *auth.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return nil
	}
	id := *c.identity
	return &id
}

// Authenticated reports whether an identity is attached
func (c *Conn) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil
}

// UserID returns the identity id or ""
func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return ""
	}
	return c.identity.ID
}

func (c *Conn) attach(id auth.Identity) {
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
}

// Context annotates ctx with the connection and user ids for logging
func (c *Conn) Context(ctx context.Context) context.Context {
	ctx = contextkeys.WithConnID(ctx, c.ID)
	if uid := c.UserID(); uid != "" {
		ctx = contextkeys.WithUserID(ctx, uid)
	}
	return ctx
}

// request builds an authorization request, filling scope gaps from the
// connection attributes
func (c *Conn) request(scope rbac.Scope) rbac.Request {
	if scope.Department == "" {
		scope.Department = c.Attributes.Department
	}
	if scope.ResourceID == "" {
		scope.ResourceID = c.Attributes.ResourceID
	}
	return rbac.Request{ConnectionID: c.ID, Identity: c.Identity(), Scope: scope}
}
