package core

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OperationTally is the running outcome count of one service operation.
type OperationTally struct {
	Succeeded int64   `json:"succeeded"`
	Failed    int64   `json:"failed"`
	TotalMS   float64 `json:"total_ms"`
}

// ExpvarMetricsRecorder tallies operation outcomes in process and, when
// named, publishes them as an expvar map.
type ExpvarMetricsRecorder struct {
	mu  sync.Mutex
	ops map[string]OperationTally
}

// NewExpvarMetricsRecorder returns a recorder published under name. An empty
// name keeps the tally private. Publishing the same name twice panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	rec := &ExpvarMetricsRecorder{ops: make(map[string]OperationTally)}
	if name != "" {
		expvar.Publish(name, expvar.Func(func() any { return rec.Tally() }))
	}
	return rec
}

// Tally returns a copy of the per-operation counts.
func (r *ExpvarMetricsRecorder) Tally() map[string]OperationTally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.ops)
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.ops[operation]
	if success {
		t.Succeeded++
	} else {
		t.Failed++
	}
	t.TotalMS += float64(duration) / float64(time.Millisecond)
	r.ops[operation] = t
}

// PrometheusMetricsRecorder exports operation counts and latencies as
// Prometheus collectors labelled by operation and status.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the operation collectors on reg under
// namespace. A nil reg uses the default registerer. Registering the same
// namespace twice reuses the collectors already registered.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "operations_total",
		Help:      "Service operations by outcome.",
	}, []string{"operation", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Service operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	var err error
	if operations, err = registerOrReuse(reg, operations); err != nil {
		return nil, err
	}
	if latency, err = registerOrReuse(reg, latency); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{operations: operations, latency: latency}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metrics: %w", err)
	}
	return c, nil
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// MultiRecorder fans one observation out to several recorders.
type MultiRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		if r != nil {
			r.Observe(ctx, operation, success, duration)
		}
	}
}

// JSONTraceEntry is one finished operation span.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTraceTracer writes every finished span as one JSON line.
type JSONTraceTracer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONTracer returns a tracer writing to w.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{enc: json.NewEncoder(w)}
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(time.Since(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	_ = s.tracer.enc.Encode(entry)
}
