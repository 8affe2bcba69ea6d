package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"
	xhttp "github.com/nimasrn/anchor-platform/pkg/http"
	"github.com/nimasrn/anchor-platform/pkg/logger"
)

// HealthChecker is satisfied by *pg.DB and the redis adapter.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checkers map[string]HealthChecker
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(checkers map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for name, checker := range h.checkers {
		if err := checker.Ping(c); err != nil {
			logger.Warn("health check failed", "dependency", name, "error", err)
			writeError(ctx, xhttp.StatusServiceUnavailable, name+" unavailable")
			return
		}
	}
	ctx.Response.SetBodyString("success")
}
