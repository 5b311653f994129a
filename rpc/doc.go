// Package rpc is the network layer of the dDoc document store. It lets clients in
// other processes (or on other machines) use a store.IStore running inside a dDoc
// server.
//
// The package is organized into several subpackages:
//
//   - common: Request and response types, payload field names, message kinds,
//     configuration structures and logging.
//
//   - codec: The wire framing (kind byte, big-endian length, JSON payload) and its
//     protocol errors.
//
//   - transport: Connection handling with pluggable implementations (TCP, Unix
//     sockets) on top of a shared base.
//
//   - client: An RPC implementation of store.IStore, allowing applications to use a
//     remote store transparently.
//
//   - server: Decodes requests, executes them on the store, encodes replies and
//     exposes request metrics.
package rpc
