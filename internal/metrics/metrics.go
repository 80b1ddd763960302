// Omnicast - Omnichannel Message Delivery Core
// Copyright 2026 M. Karlsen (mkarlsen)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkarlsen/omnicast

// Package metrics exposes Prometheus collectors for the delivery pipeline.
// Collectors are package-level and registered on the default registry via
// promauto; every process serves them on its ops listener at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesScheduled counts messages accepted by the intake process.
	MessagesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_messages_scheduled_total",
		Help: "Messages accepted and persisted in Scheduled status.",
	})

	// DispatchSweeps counts dispatcher sweep executions.
	DispatchSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_dispatch_sweeps_total",
		Help: "Dispatcher sweep executions.",
	})

	// DispatchClaimed counts messages atomically claimed by the dispatcher.
	DispatchClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_dispatch_claimed_total",
		Help: "Messages claimed (Scheduled to Processing) by the dispatcher.",
	})

	// DispatchRollbacks counts compensating rollbacks after publish failures.
	DispatchRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_dispatch_rollbacks_total",
		Help: "Claims rolled back to Scheduled after event publish failure.",
	})

	// DispatchReclaimed counts stale Processing messages re-driven.
	DispatchReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_dispatch_reclaimed_total",
		Help: "Stale Processing messages reset to Scheduled by the sweep.",
	})

	// EventsPublished counts event log publishes by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnicast_events_published_total",
		Help: "Events published to the event log.",
	}, []string{"event_type"})

	// EventsConsumed counts event log consumption outcomes by event type.
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnicast_events_consumed_total",
		Help: "Events consumed from the event log.",
	}, []string{"event_type", "outcome"})

	// IdempotentSkips counts redeliveries skipped by the idempotency index.
	IdempotentSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omnicast_idempotent_skips_total",
		Help: "Duplicate event deliveries skipped by the idempotency index.",
	})

	// Deliveries counts channel delivery outcomes.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnicast_deliveries_total",
		Help: "Channel delivery attempts by outcome.",
	}, []string{"channel", "outcome"})

	// DeliveryDuration observes per-channel send latency.
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnicast_delivery_duration_seconds",
		Help:    "Latency of channel endpoint sends.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	// GuardrailVerdicts counts content filter verdicts by risk level.
	GuardrailVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnicast_guardrail_verdicts_total",
		Help: "Content guardrail verdicts by stage and risk level.",
	}, []string{"stage", "risk"})

	// RouterInvocations counts router runs by variant.
	RouterInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omnicast_router_invocations_total",
		Help: "Channel router invocations.",
	}, []string{"variant"})

	// HTTPRequestDuration observes intake API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omnicast_http_request_duration_seconds",
		Help:    "Intake API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// RecordDelivery records one channel delivery outcome with its latency.
func RecordDelivery(channel string, success bool, elapsed time.Duration) {
	outcome := "delivered"
	if !success {
		outcome = "failed"
	}
	Deliveries.WithLabelValues(channel, outcome).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// RecordGuardrail records one content filter verdict.
func RecordGuardrail(stage, risk string) {
	GuardrailVerdicts.WithLabelValues(stage, risk).Inc()
}
