// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-credstore.
//
// go-credstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for credential store
// selection and PKCS#11 module lifecycle events.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all credstore metrics
	Namespace = "credstore"

	// Label names
	LabelKind   = "kind"
	LabelResult = "result"
	LabelReason = "reason"
	LabelEvent  = "event"

	// Result values
	ResultSuccess   = "success"
	ResultReused    = "reused"
	ResultError     = "error"
	ResultCancelled = "cancelled"
	ResultRejected  = "rejected"
	ResultFallback  = "fallback"

	// Teardown reasons
	ReasonForceReset = "force_reset"
	ReasonLoginError = "login_error"
	ReasonRelease    = "release"
	ReasonClose      = "close"

	// Cache events
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheSkip  = "skip"
	CacheStore = "store"
)

var (
	// RegistrationsTotal counts PKCS#11 module acquisitions by outcome.
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "registrations_total",
			Help:      "Total number of PKCS#11 module acquisitions by result",
		},
		[]string{LabelResult},
	)

	// RegistrationAttemptsTotal counts individual module load attempts,
	// including retries.
	RegistrationAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "registration_attempts_total",
			Help:      "Total number of PKCS#11 module load attempts",
		},
	)

	// TeardownsTotal counts PKCS#11 module teardowns by reason.
	TeardownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "teardowns_total",
			Help:      "Total number of PKCS#11 module teardowns by reason",
		},
		[]string{LabelReason},
	)

	// ObtainTotal counts dispatcher requests by store kind and result.
	ObtainTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "obtain_total",
			Help:      "Total number of credential store requests by kind and result",
		},
		[]string{LabelKind, LabelResult},
	)

	// ObtainDuration tracks how long obtaining a store took, prompts included.
	ObtainDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "obtain_duration_seconds",
			Help:      "Duration of credential store requests in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelKind},
	)

	// CacheEventsTotal counts singleton cache events.
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_events_total",
			Help:      "Total number of credential store cache events",
		},
		[]string{LabelEvent},
	)

	// LiveRegistrations is the number of PKCS#11 modules currently loaded.
	LiveRegistrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "live_registrations",
			Help:      "Number of PKCS#11 modules currently registered",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordRegistration records the outcome of a module acquisition and the
// number of load attempts it took. Reused registrations take zero attempts.
func RecordRegistration(result string, attempts int) {
	if !enabled.Load() {
		return
	}
	RegistrationsTotal.WithLabelValues(result).Inc()
	if attempts > 0 {
		RegistrationAttemptsTotal.Add(float64(attempts))
	}
}

// RecordTeardown records a module teardown.
func RecordTeardown(reason string) {
	if !enabled.Load() {
		return
	}
	TeardownsTotal.WithLabelValues(reason).Inc()
}

// RecordObtain records a dispatcher request with its duration in seconds.
func RecordObtain(kind, result string, duration float64) {
	if !enabled.Load() {
		return
	}
	ObtainTotal.WithLabelValues(kind, result).Inc()
	ObtainDuration.WithLabelValues(kind).Observe(duration)
}

// RecordCache records a cache event.
func RecordCache(event string) {
	if !enabled.Load() {
		return
	}
	CacheEventsTotal.WithLabelValues(event).Inc()
}

// SetLiveRegistrations sets the number of loaded modules.
func SetLiveRegistrations(n int) {
	if !enabled.Load() {
		return
	}
	LiveRegistrations.Set(float64(n))
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
