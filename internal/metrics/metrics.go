// Package metrics 为授权核心的各项决策提供 prometheus 计数器。
// nil *Metrics 可以直接使用，不记录任何数据。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "entitlement"

type Metrics struct {
	registrations *prometheus.CounterVec
	kickOuts      prometheus.Counter
	expirations   prometheus.Counter
	gateDecisions *prometheus.CounterVec
	abuseBlocks   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "registrations_total",
				Help:      "Device registrations by outcome",
			},
			[]string{"outcome"},
		),
		kickOuts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "kick_outs_total",
				Help:      "Device sessions moved to cooled_down by a competing registration",
			},
		),
		expirations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entitlement",
				Name:      "lazy_expirations_total",
				Help:      "Entitlements flipped inactive by validation",
			},
		),
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feature",
				Name:      "gate_decisions_total",
				Help:      "Feature gate decisions by feature and result",
			},
			[]string{"feature", "result"},
		),
		abuseBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "abuse",
				Name:      "blocks_total",
				Help:      "Calls rejected by the sliding window detector",
			},
			[]string{"feature"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.registrations, m.kickOuts, m.expirations, m.gateDecisions, m.abuseBlocks)
	}
	return m
}

func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) KickOuts(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.kickOuts.Add(float64(n))
}

func (m *Metrics) Expiration() {
	if m == nil {
		return
	}
	m.expirations.Inc()
}

func (m *Metrics) GateDecision(feature, result string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(feature, result).Inc()
}

func (m *Metrics) AbuseBlock(feature string) {
	if m == nil {
		return
	}
	m.abuseBlocks.WithLabelValues(feature).Inc()
}
