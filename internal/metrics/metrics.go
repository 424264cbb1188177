// Package metrics exposes Prometheus collectors for storage operations:
// retry decisions, OAuth2 token refreshes and transferred bytes. A CLI run
// can dump them to a node_exporter textfile with WriteToTextfile.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/retry"
)

const namespace = "pcs"

// Transfer directions used as the "direction" label.
const (
	DirectionDownload = "download"
	DirectionUpload   = "upload"
)

// Metrics holds the collectors of one provider. All methods are safe for
// concurrent use.
type Metrics struct {
	// Retries counts retried attempts.
	Retries prometheus.Counter
	// RetryDelay observes the wait before each retried attempt.
	RetryDelay prometheus.Histogram
	// RetriesExhausted counts operations that failed after their last attempt.
	RetriesExhausted prometheus.Counter
	// TokenRefreshes counts OAuth2 refresh calls by result (ok, error).
	TokenRefreshes *prometheus.CounterVec
	// Bytes counts payload bytes by direction.
	Bytes *prometheus.CounterVec
	// Transfers counts finished transfers by direction and result.
	Transfers *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them in a fresh registry. Every
// series carries a constant "provider" label.
func New(provider string) *Metrics {
	return NewWithRegistry(prometheus.NewRegistry(), provider)
}

// NewWithRegistry registers the collectors in reg.
func NewWithRegistry(reg *prometheus.Registry, provider string) *Metrics {
	labels := prometheus.Labels{"provider": provider}

	m := &Metrics{
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "retries_total",
			Help:        "Total number of retried request attempts",
			ConstLabels: labels,
		}),
		RetryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "retry_delay_seconds",
			Help:        "Wait before a retried attempt",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		RetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "retries_exhausted_total",
			Help:        "Total number of operations that failed after their last attempt",
			ConstLabels: labels,
		}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "token_refreshes_total",
			Help:        "Total number of OAuth2 token refresh calls",
			ConstLabels: labels,
		}, []string{"result"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transferred_bytes_total",
			Help:        "Total number of payload bytes transferred",
			ConstLabels: labels,
		}, []string{"direction"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transfers_total",
			Help:        "Total number of finished transfers",
			ConstLabels: labels,
		}, []string{"direction", "result"}),
		registry: reg,
	}

	reg.MustRegister(m.Retries, m.RetryDelay, m.RetriesExhausted, m.TokenRefreshes, m.Bytes, m.Transfers)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Retrying implements retry.Observer.
func (m *Metrics) Retrying(_ int, delay time.Duration, _ error) {
	m.Retries.Inc()
	m.RetryDelay.Observe(delay.Seconds())
}

// Exhausted implements retry.Observer.
func (m *Metrics) Exhausted(_ int, _ error) {
	m.RetriesExhausted.Inc()
}

var _ retry.Observer = (*Metrics)(nil)

// OnRefresh records the outcome of a token refresh. It has the signature of
// the builder's refresh hook.
func (m *Metrics) OnRefresh(err error) {
	m.TokenRefreshes.WithLabelValues(result(err)).Inc()
}

// ObserveTransfer records a finished transfer.
func (m *Metrics) ObserveTransfer(direction string, err error) {
	m.Transfers.WithLabelValues(direction, result(err)).Inc()
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, pcserr.ErrAuthentication):
		return "auth_error"
	default:
		return "error"
	}
}

// WriteToTextfile writes all series to path in the text exposition format,
// atomically, for the node_exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("metrics: writing %s: %w", path, err)
	}

	return nil
}

// ByteCounter returns a progress listener that adds the bytes of every
// stream to the direction's counter. Bytes of a stream that is re-opened on
// retry are counted again, since they crossed the wire again.
func (m *Metrics) ByteCounter(direction string) bytesio.ProgressListener {
	return &byteCounter{counter: m.Bytes.WithLabelValues(direction)}
}

type byteCounter struct {
	counter prometheus.Counter

	mu   sync.Mutex
	last int64
}

func (c *byteCounter) SetProgressTotal(int64) {}

func (c *byteCounter) Progress(current int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current < c.last {
		// A new stream started.
		c.last = 0
	}

	if delta := current - c.last; delta > 0 {
		c.counter.Add(float64(delta))
	}

	c.last = current
}

func (c *byteCounter) Aborted() {}
