package prom

import "time"

func ObserveRPCRequest(method, outcome string, elapsed time.Duration) {
	IncCounterVec(SystemRPC, MetricRPCRequests, method, outcome)
	AddHistogramVec(SystemRPC, MetricRPCRequestDuration, elapsed.Seconds(), method)
}

func ObserveRPCBatch(size int) {
	AddHistogram(SystemRPC, MetricRPCBatchSize, float64(size))
}

func IncStatusTransition(from, to string) {
	IncCounterVec(SystemRPC, MetricStatusTransitions, from, to)
}

func IncEventPublished(eventType, backend, outcome string) {
	IncCounterVec(SystemEvents, MetricEventsPublished, eventType, backend, outcome)
}

func ObserveEventProcessed(eventType, outcome string, elapsed time.Duration) {
	IncCounterVec(SystemEvents, MetricEventsProcessed, eventType, outcome)
	AddHistogramVec(SystemEvents, MetricEventProcessDuration, elapsed.Seconds(), eventType)
}

func IncCallbackRequest(endpoint, outcome string) {
	IncCounterVec(SystemCallbacks, MetricCallbackRequests, endpoint, outcome)
}

// SetCallbackBreakerState records 0 closed, 1 half-open, 2 open.
func SetCallbackBreakerState(endpoint string, state float64) {
	SetGaugeVec(SystemCallbacks, MetricCallbackBreakerState, state, endpoint)
}
