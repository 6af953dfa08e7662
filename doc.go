// Package wsmanager provides bidirectional remote method invocation over WebSocket.
//
// A server keeps a registry of live connections and a table of methods clients
// may invoke by name. Clients keep a table of their own, so the server can
// invoke methods on one client or on every client matching a predicate.
// Neither side waits for a reply: results travel back as further invocations
// or Text messages.
//
// # Architecture
//
// Every frame carries one JSON envelope:
//
//	{"messageType": 1, "data": "..."}
//
// messageType is 0 for Text (opaque informational text), 1 for MethodInvocation
// and 2 for ConnectionEvent. A MethodInvocation carries a serialized descriptor:
//
//	{"methodName": "add", "arguments": [2, 3]}
//
// Arguments are bound to the declared parameter types of the registered func.
// The first message a client receives is always a ConnectionEvent carrying the
// id the server assigned to it.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wsmanager"
//	    "github.com/luciancaetano/wsmanager/ws"
//	)
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.RegisterMethod("add", func(conn wsmanager.Connection, a, b int) error {
//	    return conn.Invoke(ctx, "result", a+b)
//	})
//
//	server.Start(ctx)
//
// And on the other end:
//
//	client := ws.NewClient(nil)
//	client.On("result", func(sum int) { fmt.Println(sum) })
//	client.Connect(ctx, "ws://localhost:8080/ws")
//	<-client.Ready()
//	client.Invoke(ctx, "add", 2, 3)
//
// # Failures
//
// An unknown method or arguments that do not fit the method are answered with
// a Text message; the connection stays open. A method that panics is recovered
// and answered the same way. A message that cannot be decoded closes the
// connection with 1002, a binary frame with 1003, an oversized message with
// 1009 and an exceeded rate limit with 1008.
//
// # Rate Limiting
//
// Each connection has its own token bucket:
//
//	// Default: 100 messages/second, burst 200
//	rateLimitConfig := ws.DefaultRateLimitConfig()
//
//	// Custom: 50 messages/second, burst 100
//	rateLimitConfig := &ws.RateLimitConfig{
//	    MessagesPerSecond: 50,
//	    Burst:             100,
//	    Enabled:           true,
//	}
//
//	// Disabled
//	rateLimitConfig := ws.NoRateLimit()
//
// # Important
//
//   - Methods of one connection run in order, on its receive goroutine. Hand long work off.
//   - Writes to a connection are serialized; Send is safe from any goroutine.
//   - Configure CheckOriginFn in production (never use ws.AllOrigins() in production)
package wsmanager
