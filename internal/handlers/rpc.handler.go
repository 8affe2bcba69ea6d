package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	xhttp "github.com/nimasrn/anchor-platform/pkg/http"
	"github.com/nimasrn/anchor-platform/pkg/logger"
)

type RpcService interface {
	Handle(ctx context.Context, reqs []model.RpcRequest) []model.RpcResponse
}

type RpcHandler struct {
	svc RpcService
}

func RegisterRpcRoutes(e *router.Group, h *RpcHandler) {
	e.POST("/rpc", h.HandleRPC)
}

func NewRpcHandler(svc RpcService) *RpcHandler {
	return &RpcHandler{svc: svc}
}

// HandleRPC accepts a single request object or a batch array. A single object
// is answered with a single response object.
func (h *RpcHandler) HandleRPC(ctx *xhttp.RequestCtx) {
	reqs, single, err := model.DecodeRpcBody(ctx.PostBody())
	if err != nil {
		logger.Debug("rpc body rejected", "request_id", xhttp.RequestID(ctx), "error", err)
		writeJSON(ctx, xhttp.StatusOK, model.NewRpcError(nil, rpc.ParseError("Parse error: %s", err.Error()).Body()))
		return
	}

	resps := h.svc.Handle(ctx, reqs)
	if single && len(resps) == 1 {
		writeJSON(ctx, xhttp.StatusOK, resps[0])
		return
	}
	writeJSON(ctx, xhttp.StatusOK, resps)
}
