// Package metrics exposes Prometheus collectors for the gateway's routing
// and correlation activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	msgpkg "github.com/mattmiller85/keepers-server/internal/message"
	"github.com/mattmiller85/keepers-server/internal/router"
)

// Response outcome label values.
const (
	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
)

// Collectors groups the gateway's Prometheus collectors.
type Collectors struct {
	messagesRouted *prometheus.CounterVec
	messagesFailed *prometheus.CounterVec
	responses      *prometheus.CounterVec
	pending        prometheus.GaugeFunc
}

// New creates and registers the collectors. pendingCount feeds the
// pending-requests gauge; pass the router's PendingCount.
func New(registerer prometheus.Registerer, pendingCount func() int) *Collectors {
	c := &Collectors{
		messagesRouted: newCounterVec("messages_routed_total",
			"Messages accepted and dispatched to a backend, by kind.", []string{"kind"}),
		messagesFailed: newCounterVec("messages_failed_total",
			"Messages whose backend dispatch failed, by kind.", []string{"kind"}),
		responses: newCounterVec("responses_total",
			"Correlated responses handed to the connection ledger, by delivery outcome.", []string{"outcome"}),
		pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "keepers",
			Name:      "pending_requests",
			Help:      "Requests still awaiting their broadcast result.",
		}, func() float64 { return float64(pendingCount()) }),
	}

	registerer.MustRegister(c.messagesRouted, c.messagesFailed, c.responses, c.pending)
	return c
}

// RouterHooks returns hooks that record routing outcomes. Merge them with any
// other hooks the caller installs.
func (c *Collectors) RouterHooks() router.Hooks {
	return router.Hooks{
		OnMessageRouted: func(msg msgpkg.Message) {
			c.messagesRouted.WithLabelValues(string(msg.MessageKind())).Inc()
		},
		OnMessageFailed: func(msg msgpkg.Message) {
			c.messagesFailed.WithLabelValues(string(msg.MessageKind())).Inc()
		},
	}
}

// ResponseDelivered records a correlated response that reached its connection.
func (c *Collectors) ResponseDelivered() {
	c.responses.WithLabelValues(OutcomeDelivered).Inc()
}

// ResponseDropped records a correlated response with no connection to
// deliver to.
func (c *Collectors) ResponseDropped() {
	c.responses.WithLabelValues(OutcomeDropped).Inc()
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keepers",
		Name:      name,
		Help:      help,
	}, labels)
}
