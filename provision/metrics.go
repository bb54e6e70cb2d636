// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Verbund-Offener-Werkstaetten/vow-matrix-invite-bot/workshop"
)

// Trigger label values.
const (
	triggerJoin    = "join"
	triggerCommand = "command"
	triggerInvite  = "invite"
)

// Outcome label values for vow_bot_events_total.
const (
	outcomeHandled = "handled"
	outcomeIgnored = "ignored"
	outcomeFailed  = "failed"
	outcomePanic   = "panic"
)

// Metrics holds the bot's Prometheus collectors.
type Metrics struct {
	events       *prometheus.CounterVec
	roomsCreated *prometheus.CounterVec
	invites      *prometheus.CounterVec
	tokenRefresh *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer.
// Pass prometheus.NewRegistry() in tests.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vow_bot_events_total",
			Help: "Trigger events processed, by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		roomsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vow_bot_rooms_created_total",
			Help: "Rooms created, by kind (space, general_room, direct).",
		}, []string{"kind"}),
		invites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vow_bot_invites_total",
			Help: "Invites sent, by outcome (sent, already_member, forbidden, failed).",
		}, []string{"outcome"}),
		tokenRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vow_bot_directory_token_refresh_total",
			Help: "Directory admin token refresh attempts, by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveTokenRefresh counts a directory token refresh. It has the
// signature of directory.TokenConfig.OnRefresh.
func (m *Metrics) ObserveTokenRefresh(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.tokenRefresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) event(trigger, outcome string) {
	m.events.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) roomCreated(kind workshop.Kind) {
	m.roomsCreated.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) directRoomCreated() {
	m.roomsCreated.WithLabelValues("direct").Inc()
}

func (m *Metrics) invite(outcome string) {
	m.invites.WithLabelValues(outcome).Inc()
}
