package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"triagetree/pkg/domain"
)

// PrometheusMetricsRecorder counts operations by result and observes their
// duration on a prometheus registerer.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the operation collectors on reg. A
// nil reg uses the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "triagetree",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		}, []string{"operation", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "triagetree",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{rec.operations, rec.durations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register engine metrics: %w", err)
		}
	}
	return rec, nil
}

// Operations exposes the result counter.
func (r *PrometheusMetricsRecorder) Operations() *prometheus.CounterVec { return r.operations }

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// SpanRecord is one finished operation as written by SpanLog.
type SpanRecord struct {
	Operation string           `json:"op"`
	OK        bool             `json:"ok"`
	Kind      domain.ErrorKind `json:"kind,omitempty"`
	Code      domain.Code      `json:"code,omitempty"`
	Message   string           `json:"msg,omitempty"`
	Start     time.Time        `json:"start"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
}

// SpanLog is a Tracer that keeps finished spans in memory and, when w is not
// nil, appends each one to w as a JSON line.
type SpanLog struct {
	now func() time.Time

	mu      sync.Mutex
	w       io.Writer
	records []SpanRecord
}

// NewSpanLog returns a SpanLog writing to w.
func NewSpanLog(w io.Writer) *SpanLog {
	return &SpanLog{w: w, now: func() time.Time { return time.Now().UTC() }}
}

// Records returns the spans finished so far, oldest first.
func (l *SpanLog) Records() []SpanRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SpanRecord(nil), l.records...)
}

// Start implements Tracer.
func (l *SpanLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &logSpan{log: l, rec: SpanRecord{Operation: operation, Start: l.now()}}
}

type logSpan struct {
	log *SpanLog
	rec SpanRecord
}

func (s *logSpan) End(err error) {
	rec := s.rec
	rec.Elapsed = s.log.now().Sub(rec.Start)
	rec.OK = err == nil
	if err != nil {
		rec.Kind = domain.KindOf(err)
		rec.Code = domain.CodeOf(err)
		rec.Message = err.Error()
	}
	s.log.append(rec)
}

func (l *SpanLog) append(rec SpanRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if l.w == nil {
		return
	}
	if line, err := json.Marshal(rec); err == nil {
		_, _ = l.w.Write(append(line, '\n'))
	}
}
