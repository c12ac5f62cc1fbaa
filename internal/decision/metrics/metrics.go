package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the decision module. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DecisionsCreated prometheus.Counter

	// Votes recorded by label (Sustained, Ignored, Revoked)
	VotesCast *prometheus.CounterVec

	// Votes refused before reaching the store, by reason
	VotesRejected *prometheus.CounterVec

	// Notification outcomes: sent, failed, dropped
	Notifications *prometheus.CounterVec

	// Live feed connections currently open
	FeedClients prometheus.Gauge
}

// New creates a Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DecisionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "agora_decisions_created_total",
			Help: "Total decisions created",
		}),
		VotesCast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_votes_cast_total",
			Help: "Total votes recorded by label",
		}, []string{"label"}),
		VotesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_votes_rejected_total",
			Help: "Total votes rejected before persistence by reason",
		}, []string{"reason"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agora_notifications_total",
			Help: "Decision creation notifications by outcome",
		}, []string{"outcome"}),
		FeedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agora_feed_clients",
			Help: "Open live feed websocket connections",
		}),
	}
}

func (m *Metrics) IncDecisionCreated() {
	if m != nil {
		m.DecisionsCreated.Inc()
	}
}

func (m *Metrics) IncVoteCast(label string) {
	if m != nil {
		m.VotesCast.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) IncVoteRejected(reason string) {
	if m != nil {
		m.VotesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncNotification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) FeedClientJoined() {
	if m != nil {
		m.FeedClients.Inc()
	}
}

func (m *Metrics) FeedClientLeft() {
	if m != nil {
		m.FeedClients.Dec()
	}
}
