// Package metrics exposes Prometheus counters for the relay pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay counts what happened to inbound messages. A nil *Relay is valid and
// counts nothing, which keeps tests free of registry bookkeeping.
type Relay struct {
	processed   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	submissions *prometheus.CounterVec
	duplicates  prometheus.Counter
}

// NewRelay registers the relay counters with the given registerer.
func NewRelay(reg prometheus.Registerer) *Relay {
	factory := promauto.With(reg)

	return &Relay{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lampions_messages_processed_total",
			Help: "Messages processed, labelled by direction",
		}, []string{"direction"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lampions_message_failures_total",
			Help: "Messages that could not be relayed, labelled by failure kind",
		}, []string{"kind"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lampions_submissions_total",
			Help: "Outbound submission attempts, labelled by result",
		}, []string{"result"}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "lampions_duplicate_events_total",
			Help: "Inbound events skipped because the message id was seen before",
		}),
	}
}

// Forwarded counts a message relayed along the forward path.
func (r *Relay) Forwarded() {
	if r == nil {
		return
	}
	r.processed.WithLabelValues("forward").Inc()
}

// Replied counts a message relayed along the reply path.
func (r *Relay) Replied() {
	if r == nil {
		return
	}
	r.processed.WithLabelValues("reply").Inc()
}

// Failed counts a message that could not be relayed.
func (r *Relay) Failed(kind string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(kind).Inc()
}

// Submitted counts an outbound submission attempt.
func (r *Relay) Submitted(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	r.submissions.WithLabelValues(result).Inc()
}

// Duplicate counts an inbound event skipped by deduplication.
func (r *Relay) Duplicate() {
	if r == nil {
		return
	}
	r.duplicates.Inc()
}
