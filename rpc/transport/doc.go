// Package transport defines the interfaces and abstractions for RPC communication
// in the document store. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Moving whole codec frames, so transports never look inside payloads
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     accepts connections, reads frames and writes the handler's replies.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
