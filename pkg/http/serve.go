package xhttp

import (
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout           time.Duration
	MaxIdleWorkerDuration time.Duration
	TCPKeepalivePeriod    time.Duration

	// JSON-RPC batches are small, 4MB is plenty
	MaxRequestBodySize int

	ReadBufferSize  int
	WriteBufferSize int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	Concurrency        int
	MaxConnsPerIP      int
	MaxRequestsPerConn int
}

var DefaultServerOption = ServerOption{
	Name:                  "anchor-platform",
	IdleTimeout:           10 * time.Second,
	MaxIdleWorkerDuration: time.Minute,
	TCPKeepalivePeriod:    120 * time.Minute,
	MaxRequestBodySize:    4 * 1024 * 1024,
	ReadBufferSize:        4 * 1024,
	WriteBufferSize:       4 * 1024,
	ReadTimeout:           2500 * time.Millisecond,
	WriteTimeout:          2500 * time.Millisecond,
	Concurrency:           30_000,
	MaxConnsPerIP:         10_000,
}

// WithTimeouts overrides the read/write timeouts when the values are positive.
func (o ServerOption) WithTimeouts(read, write time.Duration) ServerOption {
	if read > 0 {
		o.ReadTimeout = read
	}
	if write > 0 {
		o.WriteTimeout = write
	}
	return o
}

// printfLogger bridges fasthttp's Printf logger to pkg/logger.
type printfLogger struct{}

func (printfLogger) Printf(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func newServer(o ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Name:                  o.Name,
		Concurrency:           o.Concurrency,
		ReadBufferSize:        o.ReadBufferSize,
		WriteBufferSize:       o.WriteBufferSize,
		ReadTimeout:           o.ReadTimeout,
		WriteTimeout:          o.WriteTimeout,
		IdleTimeout:           o.IdleTimeout,
		MaxConnsPerIP:         o.MaxConnsPerIP,
		MaxRequestsPerConn:    o.MaxRequestsPerConn,
		MaxIdleWorkerDuration: o.MaxIdleWorkerDuration,
		TCPKeepalivePeriod:    o.TCPKeepalivePeriod,
		MaxRequestBodySize:    o.MaxRequestBodySize,
		TCPKeepalive:          true,
		CloseOnShutdown:       true,
		NoDefaultServerHeader: true,
		NoDefaultDate:         true,
		NoDefaultContentType:  true,
		ErrorHandler: func(ctx *RequestCtx, err error) {
			logger.Warn("[xhttp] request error", "error", err, "path", string(ctx.Path()))
		},
		Logger: printfLogger{},
	}
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: CreateDefaultRouter(),
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router as the server handler wrapped by the middlewares,
// the first registered middleware being the outermost.
func (e *Engine) DoRouting() RequestHandler {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	h := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		h = m(h)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = h
	return h
}

func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
