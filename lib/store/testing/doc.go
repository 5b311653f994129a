// Package testing provides standardised tests and benchmarks for
// store implementations that satisfy the store.IStore interface.
//
// The package contains:
//   - testing: A conformance suite covering insert, find, update, delete, filters,
//     copy semantics and concurrent access
//   - benchmark: Performance tests for the common document operations
//
// Every test and benchmark works on its own uniquely named collections, so the suite can
// run against a shared backend such as a single server reached through the RPC client.
//
// Example usage:
//
//	factory := func() store.IStore {
//		s, _ := fstore.NewStore(fstore.Options{Fs: afero.NewMemMapFs(), Dir: "data"})
//		return s
//	}
//
//	testing.RunStoreTests(t, "FileStore", factory)
//	testing.RunStoreBenchmarks(b, "FileStore", factory)
package testing
