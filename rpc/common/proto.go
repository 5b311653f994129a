package common

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
)

// --------------------------------------------------------------------------
// Payload field names
// --------------------------------------------------------------------------

const (
	FieldCollection    = "collection"
	FieldDocument      = "document"
	FieldDocuments     = "documents"
	FieldQuery         = "query"
	FieldUpdate        = "update"
	FieldStatus        = "status"
	FieldMessage       = "message"
	FieldID            = "_id"
	FieldModifiedCount = "modified_count"
	FieldDeletedCount  = "deleted_count"
	FieldCollections   = "collections"

	StatusSuccess = "success"
	StatusError   = "error"
)

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// Request is a decoded client request. Which fields are used depends on MsgType.
type Request struct {
	// Type of request
	MsgType MessageType

	Collection string           // Used for: all but ListCollections
	Document   *document.Object // Used for: Insert
	Query      *document.Object // Used for: Update, Delete, Find, FindOne
	Update     *document.Object // Used for: Update
}

// NewInsertRequest creates a new Insert request
func NewInsertRequest(collection string, doc *document.Object) *Request {
	return &Request{MsgType: MsgTInsert, Collection: collection, Document: doc}
}

// NewUpdateRequest creates a new Update request
func NewUpdateRequest(collection string, query, update *document.Object) *Request {
	return &Request{MsgType: MsgTUpdate, Collection: collection, Query: query, Update: update}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(collection string, query *document.Object) *Request {
	return &Request{MsgType: MsgTDelete, Collection: collection, Query: query}
}

// NewFindRequest creates a new Find request
func NewFindRequest(collection string, query *document.Object) *Request {
	return &Request{MsgType: MsgTFind, Collection: collection, Query: query}
}

// NewFindOneRequest creates a new FindOne request
func NewFindOneRequest(collection string, query *document.Object) *Request {
	return &Request{MsgType: MsgTFindOne, Collection: collection, Query: query}
}

// NewListCollectionsRequest creates a new ListCollections request
func NewListCollectionsRequest() *Request {
	return &Request{MsgType: MsgTListCollections}
}

// Payload returns the wire payload of the request.
func (r *Request) Payload() *document.Object {
	p := document.NewObject()
	if r.MsgType == MsgTListCollections {
		return p
	}
	p.Set(FieldCollection, document.String(r.Collection))
	switch r.MsgType {
	case MsgTInsert:
		p.Set(FieldDocument, document.ObjectValue(r.Document))
	case MsgTUpdate:
		p.Set(FieldQuery, document.ObjectValue(r.Query))
		p.Set(FieldUpdate, document.ObjectValue(r.Update))
	default:
		p.Set(FieldQuery, document.ObjectValue(r.Query))
	}
	return p
}

// ParseRequest validates payload against the field table of kind. Validation failures
// are reported as a *store.Error with code RetCValidation.
//
// The query is required for Update and Delete and defaults to the empty query for
// Find and FindOne.
func ParseRequest(kind MessageType, payload *document.Object) (*Request, error) {
	req := &Request{MsgType: kind}

	switch kind {
	case MsgTListCollections:
		return req, nil
	case MsgTInsert, MsgTUpdate, MsgTDelete, MsgTFind, MsgTFindOne:
	case MsgTResponse, MsgTError:
		return nil, store.NewError(store.RetCValidation, fmt.Sprintf("message type %s is not a request", kind))
	default:
		return nil, store.NewError(store.RetCValidation, fmt.Sprintf("unknown message type %d", uint8(kind)))
	}

	collection, err := stringField(payload, FieldCollection)
	if err != nil {
		return nil, err
	}
	req.Collection = collection

	switch kind {
	case MsgTInsert:
		if req.Document, err = objectField(payload, FieldDocument, true); err != nil {
			return nil, err
		}
	case MsgTUpdate:
		if req.Query, err = objectField(payload, FieldQuery, true); err != nil {
			return nil, err
		}
		if req.Update, err = objectField(payload, FieldUpdate, true); err != nil {
			return nil, err
		}
	case MsgTDelete:
		if req.Query, err = objectField(payload, FieldQuery, true); err != nil {
			return nil, err
		}
	case MsgTFind, MsgTFindOne:
		if req.Query, err = objectField(payload, FieldQuery, false); err != nil {
			return nil, err
		}
		if req.Query == nil {
			req.Query = document.NewObject()
		}
	}
	return req, nil
}

func stringField(payload *document.Object, name string) (string, error) {
	v, ok := payload.Get(name)
	if !ok {
		return "", store.NewError(store.RetCValidation, fmt.Sprintf("missing field %q", name))
	}
	s, ok := v.AsString()
	if !ok {
		return "", store.NewError(store.RetCValidation, fmt.Sprintf("field %q must be a string, got %s", name, v.Kind()))
	}
	return s, nil
}

func objectField(payload *document.Object, name string, required bool) (*document.Object, error) {
	v, ok := payload.Get(name)
	if !ok {
		if required {
			return nil, store.NewError(store.RetCValidation, fmt.Sprintf("missing field %q", name))
		}
		return nil, nil
	}
	o, ok := v.AsObject()
	if !ok {
		return nil, store.NewError(store.RetCValidation, fmt.Sprintf("field %q must be a mapping, got %s", name, v.Kind()))
	}
	return o, nil
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Response is the answer to a single request. MsgType is MsgTResponse or MsgTError,
// ReqType names the request it answers and selects the result field.
type Response struct {
	MsgType MessageType
	ReqType MessageType

	ID          string             // Insert
	Document    *document.Object   // FindOne, nil if nothing matched
	Documents   []*document.Object // Find
	Count       int                // Update (modified), Delete (deleted)
	Collections []string           // ListCollections

	Message string // Error
}

// NewInsertResponse creates a new Insert response
func NewInsertResponse(id string) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTInsert, ID: id}
}

// NewUpdateResponse creates a new Update response
func NewUpdateResponse(modified int) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTUpdate, Count: modified}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(deleted int) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTDelete, Count: deleted}
}

// NewFindResponse creates a new Find response
func NewFindResponse(docs []*document.Object) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTFind, Documents: docs}
}

// NewFindOneResponse creates a new FindOne response. A nil doc encodes as null.
func NewFindOneResponse(doc *document.Object) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTFindOne, Document: doc}
}

// NewListCollectionsResponse creates a new ListCollections response
func NewListCollectionsResponse(names []string) *Response {
	return &Response{MsgType: MsgTResponse, ReqType: MsgTListCollections, Collections: names}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(msg string) *Response {
	return &Response{MsgType: MsgTError, Message: msg}
}

// Payload returns the wire payload of the response.
func (r *Response) Payload() *document.Object {
	p := document.NewObject()
	if r.MsgType == MsgTError {
		p.Set(FieldStatus, document.String(StatusError))
		p.Set(FieldMessage, document.String(r.Message))
		return p
	}

	p.Set(FieldStatus, document.String(StatusSuccess))
	switch r.ReqType {
	case MsgTInsert:
		p.Set(FieldID, document.String(r.ID))
	case MsgTUpdate:
		p.Set(FieldModifiedCount, document.Int(int64(r.Count)))
	case MsgTDelete:
		p.Set(FieldDeletedCount, document.Int(int64(r.Count)))
	case MsgTFind:
		items := make([]document.Value, len(r.Documents))
		for i, doc := range r.Documents {
			items[i] = document.ObjectValue(doc)
		}
		p.Set(FieldDocuments, document.Array(items...))
	case MsgTFindOne:
		if r.Document == nil {
			p.Set(FieldDocument, document.Null())
		} else {
			p.Set(FieldDocument, document.ObjectValue(r.Document))
		}
	case MsgTListCollections:
		items := make([]document.Value, len(r.Collections))
		for i, name := range r.Collections {
			items[i] = document.String(name)
		}
		p.Set(FieldCollections, document.Array(items...))
	}
	return p
}

// ParseResponse decodes the payload of a response frame of type kind that answers a
// request of type reqType.
func ParseResponse(kind, reqType MessageType, payload *document.Object) (*Response, error) {
	switch kind {
	case MsgTError:
		msg, _ := payload.Get(FieldMessage)
		text, ok := msg.AsString()
		if !ok {
			text = payload.String()
		}
		return NewErrorResponse(text), nil
	case MsgTResponse:
	default:
		return nil, fmt.Errorf("unexpected response type %s", kind)
	}

	if status, _ := payload.Get(FieldStatus); !document.Equal(status, document.String(StatusSuccess)) {
		return nil, fmt.Errorf("unexpected response status %s", status)
	}

	resp := &Response{MsgType: MsgTResponse, ReqType: reqType}
	switch reqType {
	case MsgTInsert:
		id, err := stringField(payload, FieldID)
		if err != nil {
			return nil, err
		}
		resp.ID = id
	case MsgTUpdate, MsgTDelete:
		name := FieldModifiedCount
		if reqType == MsgTDelete {
			name = FieldDeletedCount
		}
		v, _ := payload.Get(name)
		f, ok := v.AsFloat()
		if !ok {
			return nil, fmt.Errorf("response field %q must be a number", name)
		}
		resp.Count = int(f)
	case MsgTFind:
		v, _ := payload.Get(FieldDocuments)
		items, ok := v.AsArray()
		if !ok {
			return nil, fmt.Errorf("response field %q must be a sequence", FieldDocuments)
		}
		resp.Documents = make([]*document.Object, 0, len(items))
		for _, item := range items {
			doc, ok := item.AsObject()
			if !ok {
				return nil, fmt.Errorf("response field %q must only contain mappings", FieldDocuments)
			}
			resp.Documents = append(resp.Documents, doc)
		}
	case MsgTFindOne:
		v, _ := payload.Get(FieldDocument)
		if !v.IsNull() {
			doc, ok := v.AsObject()
			if !ok {
				return nil, fmt.Errorf("response field %q must be a mapping or null", FieldDocument)
			}
			resp.Document = doc
		}
	case MsgTListCollections:
		v, _ := payload.Get(FieldCollections)
		items, ok := v.AsArray()
		if !ok {
			return nil, fmt.Errorf("response field %q must be a sequence", FieldCollections)
		}
		resp.Collections = make([]string, 0, len(items))
		for _, item := range items {
			name, ok := item.AsString()
			if !ok {
				return nil, fmt.Errorf("response field %q must only contain strings", FieldCollections)
			}
			resp.Collections = append(resp.Collections, name)
		}
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType is the kind byte of a frame.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTInsert:
		return "insert"
	case MsgTUpdate:
		return "update"
	case MsgTDelete:
		return "delete"
	case MsgTFind:
		return "find"
	case MsgTFindOne:
		return "find_one"
	case MsgTResponse:
		return "response"
	case MsgTError:
		return "error"
	case MsgTListCollections:
		return "list_collections"
	default:
		return "unknown"
	}
}

// IsRequest reports whether t is sent by clients.
func (t MessageType) IsRequest() bool {
	switch t {
	case MsgTInsert, MsgTUpdate, MsgTDelete, MsgTFind, MsgTFindOne, MsgTListCollections:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

// The numeric values are part of the wire format.
const (
	MsgTUnknown MessageType = iota

	// Requests

	MsgTInsert  // Insert a document
	MsgTUpdate  // Merge fields into matching documents
	MsgTDelete  // Remove matching documents
	MsgTFind    // Return all matching documents
	MsgTFindOne // Return the first matching document

	// Replies

	MsgTResponse // Successful reply
	MsgTError    // Failed request

	// Introspection

	MsgTListCollections // Names of all collections
)
