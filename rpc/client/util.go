package client

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/codec"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	config    common.ClientConfig
	transport transport.IRPCClientTransport
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a request and a transport layer as parameters
// It returns the decoded response and an error if any occurs
// An error reply from the server is returned as a *store.Error with code RetCRemote.
func invokeRPCRequest(req *common.Request, transport transport.IRPCClientTransport) (*common.Response, error) {
	// Encode the request
	frame := codec.Frame{Kind: req.MsgType, Payload: []byte(req.Payload().String())}

	// Send the request
	respFrame, err := transport.Send(frame)
	if err != nil {
		return nil, err
	}

	// Decode the response
	payload, err := respFrame.Object()
	if err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", req.MsgType, err)
	}
	resp, err := common.ParseResponse(respFrame.Kind, req.MsgType, payload)
	if err != nil {
		return nil, fmt.Errorf("invalid %s response: %w", req.MsgType, err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError {
		Logger.Debugf("%s request failed on the server: %s", req.MsgType, resp.Message)
		return nil, store.NewError(store.RetCRemote, resp.Message)
	}

	return resp, nil
}
