package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	xhttp "github.com/nimasrn/anchor-platform/pkg/http"
	"github.com/nimasrn/anchor-platform/pkg/logger"
)

type TransactionService interface {
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) (*model.TransactionPage, error)
}

type TransactionHandler struct {
	svc TransactionService
}

func RegisterTransactionRoutes(e *router.Group, h *TransactionHandler) {
	e.GET("/transactions", h.ListTransactions)
	e.GET("/transactions/{id}", h.GetTransaction)
}

func NewTransactionHandler(svc TransactionService) *TransactionHandler {
	return &TransactionHandler{svc: svc}
}

func (h *TransactionHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	id, _ := ctx.UserValue("id").(string)
	txn, err := h.svc.GetTransaction(ctx, id)
	if err != nil {
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.Code == rpc.CodeInvalidRequest {
			writeError(ctx, xhttp.StatusNotFound, rpcErr.Message)
			return
		}
		logger.Error("failed to get transaction", "transaction_id", id, "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, txn)
}

func (h *TransactionHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	f := model.TransactionFilter{
		Protocol: model.Protocol(query(ctx, "sep")),
		OrderBy:  query(ctx, "order_by"),
		Order:    strings.ToLower(query(ctx, "order")),
	}
	if !f.Protocol.Valid() {
		writeError(ctx, xhttp.StatusBadRequest, "sep must be one of [6 24 31]")
		return
	}
	if !f.SortValid() {
		writeError(ctx, xhttp.StatusBadRequest, "order_by or order is invalid")
		return
	}
	if v := query(ctx, "statuses"); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, model.Status(s))
			}
		}
	}
	var err error
	if f.PageNumber, err = queryInt(ctx, "page_number"); err != nil || f.PageNumber < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "page_number is invalid")
		return
	}
	if f.PageSize, err = queryInt(ctx, "page_size"); err != nil || f.PageSize < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "page_size is invalid")
		return
	}

	page, err := h.svc.ListTransactions(ctx, f)
	if err != nil {
		logger.Error("failed to list transactions", "sep", f.Protocol, "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, page)
}
