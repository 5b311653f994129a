// Package server implements the RPC server of the dDoc document store. It connects a
// server transport to a store.IStore: every frame read by the transport is decoded,
// validated, executed against the store and answered with exactly one reply frame.
//
// The package focuses on:
//   - Turning frames into typed requests (common.ParseRequest) and replies back into frames
//   - Adapter pattern to decouple store calls from the RPC mechanics
//   - Request metrics and the Prometheus endpoint
//   - Graceful start and shutdown of the transport
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for server adapters, with the
//     Handle method that executes a request against a store.IStore.
//
//   - NewIStoreServerAdapter: Factory function creating the adapter that maps the six
//     request kinds to store.IStore calls.
//
//   - NewRPCServer: Factory function creating a server for a transport and a store.
//
// Error Replies:
//
// Anything that goes wrong with a single request becomes an ERROR frame and the
// session continues: malformed JSON, missing or mistyped fields, invalid collection
// names, malformed queries, unknown kinds and storage failures. Only framing errors
// (truncated or oversized frames) close the connection; the transport handles those
// before a frame ever reaches this package.
//
// Metrics:
//
// The server registers these series in the metrics.Set given to NewRPCServer:
//
//	ddoc_requests_total{kind}              requests handled, by request kind
//	ddoc_request_errors_total{kind}        requests answered with an ERROR frame
//	ddoc_request_duration_seconds{kind}    handling time histogram
//	ddoc_connections_active                open client connections
//
// With ServerConfig.MetricsEndpoint set they are served in Prometheus text format on
// /metrics together with the process metrics.
//
// Usage Example:
//
//	st, err := fstore.NewStore(fstore.Options{Fs: afero.NewOsFs(), Dir: "data", SyncWrites: true})
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	s := server.NewRPCServer(common.DefaultServerConfig(), tcp.NewTCPDefaultServerTransport(), st, nil)
//	if err := s.Serve(ctx); err != nil {
//	  log.Fatal(err)
//	}
package server
