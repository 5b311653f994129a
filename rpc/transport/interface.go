package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/dDoc/rpc/codec"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer for every frame read from a
// connection. It must return exactly one reply frame.
type ServerHandleFunc func(req codec.Frame) (resp codec.Frame)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the configured endpoint and starts accepting connections in the
	// background. It returns once the listener is ready.
	Listen(config common.ServerConfig) error
	// Addr returns the address the transport listens on, nil before Listen.
	Addr() net.Addr
	// ActiveConnections returns the number of open client connections.
	ActiveConnections() int
	// Shutdown stops accepting connections, lets in-flight requests finish and closes
	// all connections. Connections still open when ctx is done are closed forcibly.
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(req codec.Frame) (resp codec.Frame, err error)
	// Close closes the transport connection
	Close() error
}
