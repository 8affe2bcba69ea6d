package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/anchor-platform/internal/model"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"
)

const EventsPath = "/api/v1/events"

var (
	ErrNoAvailableEndpoints = errors.New("no available callback endpoints")
	ErrRejected             = errors.New("callback rejected by business server")
)

// CallbackResponse is the business server's acknowledgement of an event.
type CallbackResponse struct {
	EventID    string    `json:"event_id"`
	Accepted   bool      `json:"accepted"`
	ReceivedAt time.Time `json:"received_at"`
}

type EndpointMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	ConsecutiveFails atomic.Int32
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.ConsecutiveFails.Store(0)
}

func (m *EndpointMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *EndpointMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

// Endpoint is one business server base url guarded by its own breaker.
type Endpoint struct {
	name    string
	url     string
	rank    int
	client  *fasthttp.Client
	breaker *gobreaker.CircuitBreaker
	metrics *EndpointMetrics
}

func (e *Endpoint) Available() bool {
	return e.breaker.State() != gobreaker.StateOpen
}

// score prefers healthy, fast endpoints and falls back to configuration order.
func (e *Endpoint) score() float64 {
	if !e.Available() {
		return 0
	}
	latency := 100.0 * (1.0 - float64(e.metrics.AvgLatencyMs())/5000.0)
	if latency < 0 {
		latency = 0
	}
	s := e.metrics.SuccessRate()*100*0.6 + latency*0.4
	if e.breaker.State() == gobreaker.StateHalfOpen {
		s *= 0.5
	}
	return s - float64(e.rank)*0.01
}

type Config struct {
	URLs       []string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	MaxConns   int

	// BreakerFailures consecutive failures open an endpoint's breaker for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// Dial overrides the transport, used by tests with an in-memory listener.
	Dial fasthttp.DialFunc
}

type Client struct {
	config    Config
	endpoints []*Endpoint
	mu        sync.RWMutex
}

func NewClient(config Config) (*Client, error) {
	if len(config.URLs) == 0 {
		return nil, errors.New("at least one callback url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 200 * time.Millisecond
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = 5
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = 30 * time.Second
	}

	c := &Client{config: config}
	for i, u := range config.URLs {
		name := fmt.Sprintf("callback-%d", i)
		ep := &Endpoint{
			name: name,
			url:  u,
			rank: i,
			client: &fasthttp.Client{
				MaxConnsPerHost:     config.MaxConns,
				ReadTimeout:         config.Timeout,
				WriteTimeout:        config.Timeout,
				MaxIdleConnDuration: time.Minute,
				Dial:                config.Dial,
			},
			metrics: &EndpointMetrics{},
		}
		ep.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.BreakerFailures
			},
			// a 4xx is the business server's answer, not an endpoint failure
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrRejected)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("callback breaker state changed", "endpoint", name, "from", from.String(), "to", to.String())
				prom.SetCallbackBreakerState(name, float64(to))
			},
		})
		c.endpoints = append(c.endpoints, ep)
		logger.Info("callback endpoint initialized", "name", name, "url", u)
	}
	return c, nil
}

// ranked returns the available endpoints, best first.
func (c *Client) ranked() []*Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		if e.Available() {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b *Endpoint) int {
		switch sa, sb := a.score(), b.score(); {
		case sa > sb:
			return -1
		case sa < sb:
			return 1
		}
		return 0
	})
	return out
}

// SendEvent delivers the event to the best endpoint, failing over to the next
// one, for up to MaxRetries extra rounds.
func (c *Client) SendEvent(ctx context.Context, event *model.TransactionEvent) (*CallbackResponse, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	lastErr := ErrNoAvailableEndpoints
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		endpoints := c.ranked()
		if len(endpoints) == 0 {
			lastErr = ErrNoAvailableEndpoints
			continue
		}
		for _, ep := range endpoints {
			resp, err := c.send(ctx, ep, body)
			if err == nil {
				return resp, nil
			}
			if errors.Is(err, ErrRejected) {
				return nil, err
			}
			logger.Warn("callback failed, trying next endpoint", "endpoint", ep.name, "event_id", event.ID, "attempt", attempt+1, "error", err)
			lastErr = err
		}
	}
	return nil, fmt.Errorf("callback failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) send(ctx context.Context, ep *Endpoint, body []byte) (*CallbackResponse, error) {
	start := time.Now()
	out, err := ep.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, ep, body)
	})
	if err != nil {
		if !errors.Is(err, ErrRejected) {
			ep.metrics.RecordFailure()
		}
		prom.IncCallbackRequest(ep.name, "error")
		return nil, err
	}
	ep.metrics.RecordSuccess(time.Since(start).Milliseconds())
	prom.IncCallbackRequest(ep.name, "ok")
	return out.(*CallbackResponse), nil
}

func (c *Client) doRequest(ctx context.Context, ep *Endpoint, body []byte) (*CallbackResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(ep.url + EventsPath)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := ep.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 400 && status < 500:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRejected, status, resp.Body())
	case status != fasthttp.StatusOK && status != fasthttp.StatusAccepted:
		return nil, fmt.Errorf("unexpected status code: %d", status)
	}

	var out CallbackResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return &out, nil
}

type EndpointStats struct {
	Name          string
	URL           string
	State         string
	TotalRequests int64
	FailedReqs    int64
	SuccessRate   float64
	AvgLatencyMs  int64
}

func (c *Client) Stats() []EndpointStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]EndpointStats, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		stats = append(stats, EndpointStats{
			Name:          e.name,
			URL:           e.url,
			State:         e.breaker.State().String(),
			TotalRequests: e.metrics.TotalRequests.Load(),
			FailedReqs:    e.metrics.FailedReqs.Load(),
			SuccessRate:   e.metrics.SuccessRate(),
			AvgLatencyMs:  e.metrics.AvgLatencyMs(),
		})
	}
	return stats
}
