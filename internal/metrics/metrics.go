// Package metrics exports the orchestrator's counters and histograms as
// promauto collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoundTrip = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_round_trip_ms",
		Help:    "Time from end-of-user-utterance to first audible TTS output",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	})

	WakeTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_wake_triggers_total",
		Help: "Total wake-word/wake-phrase detections that started a session",
	})

	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_sessions_started_total",
		Help: "Total sessions entered from standby",
	})

	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_sessions_ended_total",
		Help: "Total sessions that returned to standby",
	})

	Interactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_interactions_total",
		Help: "Total completed user-turn/bot-turn round trips",
	})

	UnknownAnswer = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_unknown_answer_total",
		Help: "Total turns answered with the rule-based don't-know fallback",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_errors_total",
		Help: "Total recoverable errors by kind",
	}, []string{"kind"})

	TTSSpeakCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_tts_speak_calls_total",
		Help: "Total TTS speak invocations (blocking or streaming)",
	})

	BargeInTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialogue_barge_in_triggers_total",
		Help: "Total barge-in events that stopped TTS playback",
	})

	BargeInLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dialogue_barge_in_latency_ms",
		Help:    "Latency from voice threshold crossing to TTS stop",
		Buckets: prometheus.ExponentialBuckets(10, 1.6, 10),
	})

	HotwordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_hotword_failures_total",
		Help: "Hotword detector runtime failures by role",
	}, []string{"role"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialogue_state_transitions_total",
		Help: "Dialogue Orchestrator state transitions",
	}, []string{"from", "to"})
)
