// Package base provides the protocol-independent part of the dDoc transports. TCP and
// Unix sockets plug in through small connector interfaces; everything else lives here.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     (dial, listen, socket tuning).
//
//   - serverTransport: Accepts connections on a background goroutine and runs one
//     session per connection. A session reads a frame, passes it to the registered
//     handler and writes the reply before reading the next frame, so replies on a
//     connection come back in request order. Sessions on different connections run
//     concurrently. With MaxConnections set, sessions run on an ants pool in
//     non-blocking mode and a connection that finds the pool full is closed at once.
//     Fatal framing errors (truncated or oversized frames) end the session; everything
//     else is the handler's business.
//
//   - clientTransport: Keeps one or more connections per endpoint and picks one
//     round-robin per request. Because frames carry no request id, each connection
//     carries a single request at a time. A request whose bytes never reached the
//     server is retried with exponential backoff; once any byte was written the error
//     is returned as is, so mutations are never applied twice. Broken connections are
//     re-dialled on the next request.
//
// Shutdown:
//
//	Shutdown stops the accept loop, wakes idle sessions by expiring their read
//	deadline and waits for in-flight requests to be answered. When the context ends
//	first, the remaining connections are closed forcibly.
package base
