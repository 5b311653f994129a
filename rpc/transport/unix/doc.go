// Package unix implements a transport for the dDoc RPC system over Unix domain
// sockets, for clients running on the same machine as the server.
//
// It extends the base transport with Unix socket connectors and inherits sessions,
// retries and reconnects from the base package. A stale socket file at the endpoint
// path is removed before listening.
//
// The default server read buffer is 64 KB.
package unix
