/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the Prometheus collectors for the federation runtime.
// All collectors are registered with controller-runtime's registry so they are
// served from the same /metrics endpoint as the rest of the process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Module load metrics
	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_loader_loads_total",
		Help: "Total number of module load sequences by result",
	}, []string{"result"})

	loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfhost_loader_load_duration_seconds",
		Help:    "Duration of module load sequences including retries",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"result"})

	attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_loader_attempts_total",
		Help: "Total number of individual load attempts by result",
	}, []string{"result"})

	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_loader_cache_hits_total",
		Help: "Total number of loads served from the loaded cache",
	})

	sharedWaitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_loader_shared_waits_total",
		Help: "Total number of loads that joined an in-flight load",
	})

	cooldownRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_loader_cooldown_rejections_total",
		Help: "Total number of loads rejected during the failure cooldown",
	})

	modulesGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mfhost_loader_modules",
		Help: "Current number of modules per load state",
	}, []string{"state"})

	healthChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_loader_health_checks_total",
		Help: "Total number of remote entry health checks by result",
	}, []string{"result"})
)

func init() {
	metrics.Registry.MustRegister(
		loadsTotal,
		loadDuration,
		attemptsTotal,
		cacheHitsTotal,
		sharedWaitsTotal,
		cooldownRejectionsTotal,
		modulesGauge,
		healthChecksTotal,
	)
}

// RecordLoad records a completed load sequence
// result: "success" or "failure"
func RecordLoad(result string, durationSeconds float64) {
	loadsTotal.WithLabelValues(result).Inc()
	loadDuration.WithLabelValues(result).Observe(durationSeconds)
}

// RecordAttempt records a single load attempt
func RecordAttempt(result string) {
	attemptsTotal.WithLabelValues(result).Inc()
}

// RecordCacheHit records a load served from cache
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordSharedWait records a caller joining an in-flight load
func RecordSharedWait() {
	sharedWaitsTotal.Inc()
}

// RecordCooldownRejection records a load rejected by the cooldown window
func RecordCooldownRejection() {
	cooldownRejectionsTotal.Inc()
}

// SetModuleCounts sets the per-state module gauges
func SetModuleCounts(loaded, loading, failed int) {
	modulesGauge.WithLabelValues("loaded").Set(float64(loaded))
	modulesGauge.WithLabelValues("loading").Set(float64(loading))
	modulesGauge.WithLabelValues("failed").Set(float64(failed))
}

// RecordHealthCheck records one health check
// result: "healthy" or "unhealthy"
func RecordHealthCheck(result string) {
	healthChecksTotal.WithLabelValues(result).Inc()
}
