// Package metrics exposes the audit chain's Prometheus collectors. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultInvalid = "invalid"
	ResultBroken  = "broken"
)

type Collector struct {
	registry       *prometheus.Registry
	appends        *prometheus.CounterVec
	chainConflicts prometheus.Counter
	verifications  *prometheus.CounterVec
	streamDrops    prometheus.Counter
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_append_total",
			Help: "Audit event appends by result.",
		}, []string{"result"}),
		chainConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_chain_conflicts_total",
			Help: "Appends that lost a same-scope race and were retried.",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditchain_verify_total",
			Help: "Chain verifications by result.",
		}, []string{"result"}),
		streamDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditchain_stream_dropped_total",
			Help: "Live stream events dropped for slow subscribers.",
		}),
	}
	c.registry.MustRegister(c.appends, c.chainConflicts, c.verifications, c.streamDrops)
	c.registry.MustRegister(collectors.NewGoCollector())
	return c
}

func (c *Collector) Append(result string) {
	if c == nil {
		return
	}
	c.appends.WithLabelValues(result).Inc()
}

func (c *Collector) ChainConflict() {
	if c == nil {
		return
	}
	c.chainConflicts.Inc()
}

func (c *Collector) Verify(result string) {
	if c == nil {
		return
	}
	c.verifications.WithLabelValues(result).Inc()
}

func (c *Collector) StreamDrop() {
	if c == nil {
		return
	}
	c.streamDrops.Inc()
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
