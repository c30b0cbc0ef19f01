package rpc

import (
	"golang.org/x/sync/semaphore"

	"github.com/lspforge/lsprt/metrics"
)

// Option configures optional, non-default behavior on a Service built by New.
type Option func(*Service)

// WithRecorder attaches a metrics.Recorder that observes dispatch latency,
// in-flight handler counts, and cancellations. The default is
// metrics.NoOp(), matching the logger/session-id injection defaults
// elsewhere in this package.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMaxConcurrentHandlers bounds how many backend handler invocations may
// run at once, using a golang.org/x/sync/semaphore.Weighted acquired around
// each dispatch.Table.Dispatch call. n <= 0 leaves handlers unbounded (the
// teacher's own behavior: one goroutine per message, no cap).
func WithMaxConcurrentHandlers(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}
