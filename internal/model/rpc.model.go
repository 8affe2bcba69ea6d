package model

import (
	"bytes"
	"encoding/json"
)

const JSONRPCVersion = "2.0"

// RpcRequest is one JSON-RPC envelope. ID stays raw so strings and numbers are
// echoed exactly as received; a missing id decodes to an empty slice.
type RpcRequest struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	JSONRPC *string         `json:"jsonrpc"`
	Params  json.RawMessage `json:"params,omitempty"`

	// Malformed holds the decode error of an envelope whose fields have the
	// wrong JSON types. ID and Params are kept when they could be read.
	Malformed string `json:"-"`
}

// DecodeRpcBody splits a request body into envelopes. Only a syntax error or a
// body that is neither an object nor an array fails as a whole; each element
// of a batch is decoded on its own.
func DecodeRpcBody(body []byte) (reqs []RpcRequest, single bool, err error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		var raw json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, true, err
		}
		return []RpcRequest{decodeRpcRequest(raw)}, true, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false, err
	}
	reqs = make([]RpcRequest, len(items))
	for i, item := range items {
		reqs[i] = decodeRpcRequest(item)
	}
	return reqs, false, nil
}

func decodeRpcRequest(raw json.RawMessage) RpcRequest {
	var req RpcRequest
	err := json.Unmarshal(raw, &req)
	if err == nil {
		return req
	}

	req = RpcRequest{Malformed: err.Error()}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return req
	}
	if id, ok := fields["id"]; ok && echoableID(id) {
		req.ID = id
	}
	req.Params = fields["params"]
	return req
}

// echoableID accepts the id forms JSON-RPC allows: string, number or null.
func echoableID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return false
	}
	switch c := id[0]; {
	case c == '"', c == '-', c >= '0' && c <= '9':
		return true
	}
	return bytes.Equal(id, []byte("null"))
}

func (r RpcRequest) HasID() bool {
	id := bytes.TrimSpace(r.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// Version returns the declared protocol version, "null" when absent.
func (r RpcRequest) Version() string {
	if r.JSONRPC == nil {
		return "null"
	}
	return *r.JSONRPC
}

type RpcErrorBody struct {
	ID      *string `json:"id"`
	Code    int     `json:"code"`
	Message string  `json:"message"`
}

type RpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *RpcErrorBody   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

func NewRpcResult(id json.RawMessage, result any) RpcResponse {
	return RpcResponse{JSONRPC: JSONRPCVersion, Result: result, ID: id}
}

func NewRpcError(id json.RawMessage, body *RpcErrorBody) RpcResponse {
	return RpcResponse{JSONRPC: JSONRPCVersion, Error: body, ID: id}
}
