package client

import (
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a client config and a transport as parameters and connects the
// transport. It returns a store.IStore and an error
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
) (store.IStore, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	// Create a new RPC store
	s := rpcStore{
		rpcClientAdapter{
			config:    config,
			transport: transport,
		},
	}

	// Return the RPC store
	return &s, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Insert(collection string, doc *document.Object) (id string, err error) {
	req := common.NewInsertRequest(collection, doc)
	resp, err := invokeRPCRequest(req, i.transport)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (i *rpcStore) Update(collection string, filter, patch *document.Object) (modified int, err error) {
	req := common.NewUpdateRequest(collection, filter, patch)
	resp, err := invokeRPCRequest(req, i.transport)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (i *rpcStore) Delete(collection string, filter *document.Object) (deleted int, err error) {
	req := common.NewDeleteRequest(collection, filter)
	resp, err := invokeRPCRequest(req, i.transport)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (i *rpcStore) Find(collection string, filter *document.Object) (docs []*document.Object, err error) {
	req := common.NewFindRequest(collection, filter)
	resp, err := invokeRPCRequest(req, i.transport)
	if err != nil {
		return nil, err
	}
	if resp.Documents == nil {
		return []*document.Object{}, nil
	}
	return resp.Documents, nil
}

func (i *rpcStore) FindOne(collection string, filter *document.Object) (doc *document.Object, found bool, err error) {
	req := common.NewFindOneRequest(collection, filter)
	resp, err := invokeRPCRequest(req, i.transport)
	if err != nil {
		return nil, false, err
	}
	return resp.Document, resp.Document != nil, nil
}

func (i *rpcStore) ListCollections() (names []string, err error) {
	resp, err := invokeRPCRequest(common.NewListCollectionsRequest(), i.transport)
	if err != nil {
		return nil, err
	}
	return resp.Collections, nil
}

// Close closes the underlying transport.
func (i *rpcStore) Close() error {
	return i.transport.Close()
}
