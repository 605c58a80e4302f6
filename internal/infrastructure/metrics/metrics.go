// Package metrics exposes the prometheus collectors of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tdex-network/escrowd/internal/core/application/protocol"
	"github.com/tdex-network/escrowd/internal/core/domain"
)

const namespace = "escrowd"

// Metrics collects trade lifecycle, messaging and worker pool metrics. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	openTrades       prometheus.Gauge
	transitions      *prometheus.CounterVec
	failedSteps      *prometheus.CounterVec
	messages         *prometheus.CounterVec
	droppedMessages  *prometheus.CounterVec
	lanes            prometheus.Gauge
	pendingMailboxes prometheus.Gauge
}

// New creates the collectors and registers them with the given registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		openTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "open",
			Help:      "Number of trades in the open bucket.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "transitions_total",
			Help:      "Trade state transitions by kind of state and value.",
		}, []string{"role", "kind", "state"}),
		failedSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "failed_steps_total",
			Help:      "Failed protocol tasks by task and error kind.",
		}, []string{"task", "kind"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "p2p",
			Name:      "messages_received_total",
			Help:      "Trade messages received by type and delivery.",
		}, []string{"type", "delivery"}),
		droppedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "p2p",
			Name:      "messages_dropped_total",
			Help:      "Trade messages dropped by reason.",
		}, []string{"reason"}),
		lanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "active_lanes",
			Help:      "Number of trade lanes with queued or running work.",
		}),
		pendingMailboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "p2p",
			Name:      "outbox_pending",
			Help:      "Mailbox messages waiting for their recipient to come online.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.openTrades, m.transitions, m.failedSteps, m.messages,
		m.droppedMessages, m.lanes, m.pendingMailboxes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveTradeEvent records a transition or a failure published by a trade
// pipeline.
func (m *Metrics) ObserveTradeEvent(trade *domain.Trade, event protocol.TradeEvent) {
	if m == nil {
		return
	}
	role := trade.Role.String()
	switch event.Type {
	case protocol.EventStateChanged:
		m.transitions.WithLabelValues(role, "trade", event.State.String()).Inc()
	case protocol.EventPayoutStateChanged:
		m.transitions.WithLabelValues(role, "payout", event.PayoutState.String()).Inc()
	case protocol.EventDisputeStateChanged:
		m.transitions.WithLabelValues(role, "dispute", event.DisputeState.String()).Inc()
	case protocol.EventStepFailed:
		m.failedSteps.WithLabelValues(event.Task, errorKind(event.Err)).Inc()
	}
}

// Transitions returns the counter of the transitions of the given kind to
// the given state.
func (m *Metrics) Transitions(role domain.Role, kind, state string) prometheus.Counter {
	return m.transitions.WithLabelValues(role.String(), kind, state)
}

func (m *Metrics) MessageReceived(msgType domain.MessageType, fromMailbox bool) {
	if m == nil {
		return
	}
	delivery := "direct"
	if fromMailbox {
		delivery = "mailbox"
	}
	m.messages.WithLabelValues(string(msgType), delivery).Inc()
}

func (m *Metrics) MessageDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedMessages.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetOpenTrades(n int) {
	if m == nil {
		return
	}
	m.openTrades.Set(float64(n))
}

func (m *Metrics) SetActiveLanes(n int) {
	if m == nil {
		return
	}
	m.lanes.Set(float64(n))
}

func (m *Metrics) SetPendingMailboxMessages(n int) {
	if m == nil {
		return
	}
	m.pendingMailboxes.Set(float64(n))
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case protocol.IsFundsSafetyViolation(err):
		return "funds_safety_violation"
	case protocol.IsProtocolViolation(err):
		return "protocol_violation"
	case protocol.IsTransportFault(err):
		return "transport_fault"
	default:
		return "other"
	}
}
