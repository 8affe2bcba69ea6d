package rpc

import (
	"errors"
	"fmt"

	"github.com/nimasrn/anchor-platform/internal/model"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error bound, when known, to the transaction it concerns.
type Error struct {
	Code          int
	Message       string
	TransactionID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// WithTransaction returns a copy of e tagged with the transaction id.
func (e *Error) WithTransaction(id string) *Error {
	c := *e
	c.TransactionID = id
	return &c
}

func (e *Error) Body() *model.RpcErrorBody {
	body := &model.RpcErrorBody{Code: e.Code, Message: e.Message}
	if e.TransactionID != "" {
		id := e.TransactionID
		body.ID = &id
	}
	return body
}

func newError(code int, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

func ParseError(format string, args ...any) *Error {
	return newError(CodeParseError, format, args...)
}

func InvalidRequest(format string, args ...any) *Error {
	return newError(CodeInvalidRequest, format, args...)
}

func MethodNotFound(format string, args ...any) *Error {
	return newError(CodeMethodNotFound, format, args...)
}

func InvalidParams(format string, args ...any) *Error {
	return newError(CodeInvalidParams, format, args...)
}

func InternalError(format string, args ...any) *Error {
	return newError(CodeInternalError, format, args...)
}

// invalidParams turns a validation failure into an Invalid-Params error.
func invalidParams(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInvalidParams, Message: err.Error()}
}

// AsError maps any error to an rpc error, unknown failures become Internal Error.
func AsError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return InternalError("internal error")
}
