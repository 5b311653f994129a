// Package tcp implements the TCP transport for the dDoc RPC system. It provides
// concrete implementations of the base package's connector interfaces.
//
// Framing, session handling, retries and reconnects all live in the base package;
// this package only dials, listens and tunes sockets (TCP_NODELAY, keep-alive).
//
// The default server read buffer is 512 KB, which suits typical document payloads.
package tcp
