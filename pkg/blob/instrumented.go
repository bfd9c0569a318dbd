package blob

import (
	"context"
	"time"
)

// Metrics receives blob operation observations.
//
// The Prometheus implementation lives in pkg/metrics; a nil Metrics disables
// instrumentation.
type Metrics interface {
	// ObserveOperation records one operation ("put", "get", "exists",
	// "delete", "list") with its latency and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved in a direction ("in", "out").
	RecordBytes(direction string, bytes int64)
}

type instrumented struct {
	inner   Store
	metrics Metrics
}

// NewInstrumented wraps inner so every call is reported to m. It returns
// inner unchanged when m is nil.
func NewInstrumented(inner Store, m Metrics) Store {
	if m == nil {
		return inner
	}
	return &instrumented{inner: inner, metrics: m}
}

func (s *instrumented) Put(ctx context.Context, hash string, data []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, hash, data)
	s.metrics.ObserveOperation("put", time.Since(start), err)
	if err == nil {
		s.metrics.RecordBytes("in", int64(len(data)))
	}
	return err
}

func (s *instrumented) Get(ctx context.Context, hash string) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Get(ctx, hash)
	s.metrics.ObserveOperation("get", time.Since(start), err)
	if err == nil {
		s.metrics.RecordBytes("out", int64(len(data)))
	}
	return data, err
}

func (s *instrumented) Exists(ctx context.Context, hash string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Exists(ctx, hash)
	s.metrics.ObserveOperation("exists", time.Since(start), err)
	return ok, err
}

func (s *instrumented) Delete(ctx context.Context, hash string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, hash)
	s.metrics.ObserveOperation("delete", time.Since(start), err)
	return err
}

func (s *instrumented) List(ctx context.Context) ([]Info, error) {
	start := time.Now()
	infos, err := s.inner.List(ctx)
	s.metrics.ObserveOperation("list", time.Since(start), err)
	return infos, err
}
