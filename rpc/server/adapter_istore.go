package server

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Request, s store.IStore) *common.Response {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTInsert:
		id, err := s.Insert(req.Collection, req.Document)
		if err != nil {
			return errorResponse(err)
		}
		return common.NewInsertResponse(id)
	case common.MsgTUpdate:
		n, err := s.Update(req.Collection, req.Query, req.Update)
		if err != nil {
			return errorResponse(err)
		}
		return common.NewUpdateResponse(n)
	case common.MsgTDelete:
		n, err := s.Delete(req.Collection, req.Query)
		if err != nil {
			return errorResponse(err)
		}
		return common.NewDeleteResponse(n)
	case common.MsgTFind:
		docs, err := s.Find(req.Collection, req.Query)
		if err != nil {
			return errorResponse(err)
		}
		return common.NewFindResponse(docs)
	case common.MsgTFindOne:
		doc, found, err := s.FindOne(req.Collection, req.Query)
		if err != nil {
			return errorResponse(err)
		}
		if !found {
			doc = nil
		}
		return common.NewFindOneResponse(doc)
	case common.MsgTListCollections:
		names, err := s.ListCollections()
		if err != nil {
			return errorResponse(err)
		}
		return common.NewListCollectionsResponse(names)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("unsupported message type: %s", req.MsgType),
		)
	}
}

// errorResponse turns err into an error response. Store errors are reported by their
// message and cause, without the code prefix.
func errorResponse(err error) *common.Response {
	var se *store.Error
	if !errors.As(err, &se) {
		return common.NewErrorResponse(err.Error())
	}
	if se.Err != nil {
		return common.NewErrorResponse(fmt.Sprintf("%s: %v", se.Msg, se.Err))
	}
	return common.NewErrorResponse(se.Msg)
}
