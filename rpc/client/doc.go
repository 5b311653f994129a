// Package client implements the RPC client for the dDoc document store. It provides an
// implementation of the store.IStore interface that forwards every call to a remote
// server, so code written against the local file store runs unchanged over the network.
//
// Key Components:
//
//   - NewRPCStore: Factory function that connects the given transport and returns a
//     store.IStore. The returned value also implements io.Closer.
//
// Errors:
//
// Transport failures (connection refused, timeouts, truncated replies) are returned as
// they come from the transport. When the server answers with an ERROR frame the call
// fails with a *store.Error of code store.RetCRemote carrying the server's message.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:27020"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	s, err := client.NewRPCStore(config, tcp.NewTCPClientTransport())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer s.(io.Closer).Close()
//
//	id, _ := s.Insert("manga", document.MustParseObject(`{"title":"Berserk","chapters":364}`))
//	doc, found, _ := s.FindOne("manga", document.MustParseObject(`{"_id":"`+id+`"}`))
//
// Thread Safety:
//
//	The client is safe for concurrent use. Each connection carries one request at a
//	time; raise ConnectionsPerEndpoint to run more requests in parallel.
package client
