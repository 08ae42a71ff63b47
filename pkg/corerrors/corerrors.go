// Package corerrors implements the pipeline's error-kind registry:
// each failure kind carries its own atomic counter, and the registry
// as a whole tracks the most recent error message and timestamp for
// host-facing status reporting.
package corerrors

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind is one of the observable failure categories.
type Kind int

const (
	Compression Kind = iota
	Encryption
	Subscription
	UDPSend
	General
	kindCount
)

func (k Kind) String() string {
	switch k {
	case Compression:
		return "compression"
	case Encryption:
		return "encryption"
	case Subscription:
		return "subscription"
	case UDPSend:
		return "udpSend"
	case General:
		return "general"
	default:
		return "unknown"
	}
}

// Registry holds one atomic counter per Kind plus the last-seen error
// across all kinds. Safe for concurrent use.
type Registry struct {
	counters   [kindCount]int64
	udpRetries int64

	mu            sync.Mutex
	lastError     string
	lastErrorTime time.Time
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Record increments the counter for kind, records msg as the last
// error, and stamps the current time. It never panics or returns an
// error: error accounting itself must be total.
func (r *Registry) Record(kind Kind, msg string) {
	atomic.AddInt64(&r.counters[kind], 1)
	r.mu.Lock()
	r.lastError = msg
	r.lastErrorTime = time.Now()
	r.mu.Unlock()
}

// RecordUDPRetry increments the udpRetries counter, kept separate
// from udpSend's failure counter: recoverable send errors retried
// with backoff count here unless retries are exhausted.
func (r *Registry) RecordUDPRetry() {
	atomic.AddInt64(&r.udpRetries, 1)
}

// Count returns the current counter value for kind.
func (r *Registry) Count(kind Kind) int64 {
	return atomic.LoadInt64(&r.counters[kind])
}

// UDPRetries returns the current udpRetries counter.
func (r *Registry) UDPRetries() int64 {
	return atomic.LoadInt64(&r.udpRetries)
}

// Status is the host-visible error summary.
type Status struct {
	LastError     string
	LastErrorTime time.Time
	TimeAgo       time.Duration
}

// Status returns the most recent error message/time and the elapsed
// duration since it was recorded.
func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastErrorTime.IsZero() {
		return Status{}
	}
	return Status{
		LastError:     r.lastError,
		LastErrorTime: r.lastErrorTime,
		TimeAgo:       time.Since(r.lastErrorTime),
	}
}
