package server

import (
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a decoded request and returns a response
	// It takes a Request and a store as parameters.
	// It returns a Response. Failures are reported as an error response, never as nil.
	Handle(req *common.Request, store store.IStore) (resp *common.Response)
}
