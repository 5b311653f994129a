// Package store provides a high-level interface for document storage operations
// with unified error handling. It is the contract shared by the local file backed store
// and the RPC client, so application code can switch between an embedded store and a
// remote server without changes.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining insert, update, delete, find and
//     find-one over named collections. Filters are plain document mappings compiled by
//     the query package, which keeps the interface transport friendly.
//
//   - Error System: A structured error reporting mechanism using typed return codes
//     (RetCode). Validation errors describe malformed requests and are safe to report
//     to a client; storage errors mean a durable write failed and nothing was
//     committed. IsValidation and IsStorage inspect wrapped errors via errors.As.
//
// Implementations:
//
//	- File Store (fstore): One line-delimited JSON file per collection with
//	  crash-consistent rewrites. Available in the
//	  "github.com/ValentinKolb/dDoc/lib/store/fstore" package.
//
//	- RPC Client: Forwards every call to a dDoc server. Available in the
//	  "github.com/ValentinKolb/dDoc/rpc/client" package.
//
// The conformance suite in "github.com/ValentinKolb/dDoc/lib/store/testing" is run
// against both implementations.
package store
