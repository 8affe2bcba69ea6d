package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventRequest is the part of a transaction event the business server reads.
type EventRequest struct {
	ID          string            `json:"id" binding:"required"`
	Type        string            `json:"type" binding:"required"`
	Sep         string            `json:"sep"`
	Timestamp   time.Time         `json:"timestamp"`
	Transaction *EventTransaction `json:"transaction" binding:"required"`
}

type EventTransaction struct {
	ID      string `json:"id" binding:"required"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// EventResponse acknowledges an accepted event.
type EventResponse struct {
	EventID    string    `json:"event_id"`
	Accepted   bool      `json:"accepted"`
	ReceivedAt time.Time `json:"received_at"`
	ServerID   string    `json:"server_id"`
}

type HealthResponse struct {
	Status     string    `json:"status"`
	ServerID   string    `json:"server_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
	Received   int       `json:"received"`
}

// BusinessServer simulates the anchor's business backend receiving callbacks.
type BusinessServer struct {
	mu         sync.Mutex
	acceptRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	token      string
	serverID   string
	rng        *rand.Rand
	received   map[string]EventRequest
}

func NewBusinessServer(acceptRate float64, minDelay, maxDelay time.Duration, token string) *BusinessServer {
	return &BusinessServer{
		acceptRate: acceptRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		token:      token,
		serverID:   "MOCK_BUSINESS_" + uuid.New().String()[:8],
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		received:   make(map[string]EventRequest),
	}
}

func (b *BusinessServer) randomDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delta := b.maxDelay - b.minDelay
	if delta <= 0 {
		return b.minDelay
	}
	return b.minDelay + time.Duration(b.rng.Int63n(int64(delta)))
}

func (b *BusinessServer) shouldAccept() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < b.acceptRate
}

// record stores the event and reports whether it was seen before.
func (b *BusinessServer) record(req EventRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, dup := b.received[req.ID]
	b.received[req.ID] = req
	return dup
}

func (b *BusinessServer) lookup(id string) (EventRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.received[id]
	return req, ok
}

type Handler struct {
	server *BusinessServer
}

func NewHandler(server *BusinessServer) *Handler {
	return &Handler{server: server}
}

func (h *Handler) authorize(c *gin.Context) {
	if h.server.token == "" {
		c.Next()
		return
	}
	if strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") != h.server.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

// ReceiveEvent handles POST /api/v1/events
func (h *Handler) ReceiveEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid event",
			"details": err.Error(),
		})
		return
	}

	time.Sleep(h.server.randomDelay())

	if !h.server.shouldAccept() {
		log.Warn().
			Str("event_id", req.ID).
			Str("transaction_id", req.Transaction.ID).
			Msg("Simulated outage, event not accepted")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	dup := h.server.record(req)
	log.Info().
		Str("event_id", req.ID).
		Str("type", req.Type).
		Str("transaction_id", req.Transaction.ID).
		Str("status", req.Transaction.Status).
		Bool("duplicate", dup).
		Msg("Event received")

	c.JSON(http.StatusOK, EventResponse{
		EventID:    req.ID,
		Accepted:   true,
		ReceivedAt: time.Now().UTC(),
		ServerID:   h.server.serverID,
	})
}

// GetEvent handles GET /api/v1/events/:event_id
func (h *Handler) GetEvent(c *gin.Context) {
	req, ok := h.server.lookup(c.Param("event_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.server.mu.Lock()
	resp := HealthResponse{
		Status:     "healthy",
		ServerID:   h.server.serverID,
		Timestamp:  time.Now(),
		AcceptRate: h.server.acceptRate,
		Received:   len(h.server.received),
	}
	h.server.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

// UpdateConfig allows changing the accept rate at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.server.mu.Lock()
	if config.AcceptRate != nil && *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
		h.server.acceptRate = *config.AcceptRate
		log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
	}
	rate := h.server.acceptRate
	h.server.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":     "Configuration updated",
		"accept_rate": rate,
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1", handler.authorize)
	{
		v1.POST("/events", handler.ReceiveEvent)
		v1.GET("/events/:event_id", handler.GetEvent)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := getEnv("CALLBACK_LISTEN_ADDR", ":8091")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 10*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 200*time.Millisecond)

	log.Info().
		Str("addr", addr).
		Float64("accept_rate", acceptRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock business server")

	server := NewBusinessServer(acceptRate, minDelay, maxDelay, os.Getenv("CALLBACK_API_TOKEN"))
	router := SetupRouter(NewHandler(server))

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
