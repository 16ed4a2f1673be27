// Package gateway authenticates and authorizes real-time connections.
//
// A Gateway is constructed once per process and passed to the transport. For
// every connection attempt the transport builds a Conn from the handshake and
// calls Admit, which runs the authentication state machine and the connect
// chain. Each inbound message then goes through HandleEvent:
//
//	gw, err := gateway.New(gateway.Options{
//	    Verifier:          verifier,
//	    Users:             dir,
//	    Resources:         dir,
//	    ConnectionLimiter: middleware.NewSlidingWindowLimiter(middleware.ConnectionAttemptConfig()),
//	    Trail:             trail,
//	})
//	conn := gateway.NewConn(handshake)
//	if err := gw.Admit(ctx, conn); err != nil {
//	    refuse(auth.PublicMessageOf(err))
//	}
//	notice, err := gw.HandleEvent(ctx, conn, gateway.Event{Name: "case:view", Scope: scope})
//
// Every error returned is an *auth.Error. Only EVENT_RATE_LIMITED and per-event
// AUTHORIZATION_DENIED leave the connection open.
package gateway
