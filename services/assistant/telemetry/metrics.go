// Copyright (C) 2025 Quillan AI (oss@quillan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds Prometheus instrumentation for the
// assistant. Exposition is owned by the (out of scope) HTTP layer;
// this package only defines and updates the collectors.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolExecutions counts tool invocations by tool and outcome.
	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quillan_tool_executions_total",
		Help: "Total tool executions by tool name and outcome",
	}, []string{"tool", "outcome"})

	// toolDuration tracks tool execution latency.
	//
	// Buckets: 10ms .. 120s, matching the timeout classes.
	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quillan_tool_duration_seconds",
		Help:    "Tool execution duration in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"tool"})

	// llmCalls counts LLM round-trips by provider and outcome.
	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quillan_llm_calls_total",
		Help: "Total LLM calls by provider and outcome",
	}, []string{"provider", "outcome"})

	// continuationDepth tracks automatic tool-chain depth per session.
	continuationDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quillan_continuation_depth",
		Help:    "Continuation depth reached per chat round-trip",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 16},
	})

	// staleEvents counts events discarded by the stale-session guard.
	staleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quillan_stale_events_discarded_total",
		Help: "Chat events discarded because their session was superseded",
	})
)

// ObserveToolExecution records one tool execution.
func ObserveToolExecution(tool string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	toolExecutions.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveLLMCall records one LLM round-trip.
func ObserveLLMCall(provider string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	llmCalls.WithLabelValues(provider, outcome).Inc()
}

// ObserveContinuationDepth records the depth a round-trip reached.
func ObserveContinuationDepth(depth int) {
	continuationDepth.Observe(float64(depth))
}

// ObserveStaleEvent records a discarded stale event.
func ObserveStaleEvent() {
	staleEvents.Inc()
}
