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

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Reconciliation metrics
	reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_reconcile_total",
		Help: "Total number of reconciliations",
	}, []string{"controller", "result"})

	reconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfhost_reconcile_duration_seconds",
		Help:    "Duration of reconciliations",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"controller"})

	reconcileErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_reconcile_errors_total",
		Help: "Total number of reconciliation errors",
	}, []string{"controller", "error_type"})

	// Remote entry metrics
	invalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_remote_invalidations_total",
		Help: "Total number of remote invalidations triggered by ConfigMap changes",
	}, []string{"scope", "reason"})

	observedRemotes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mfhost_remote_observed",
		Help: "Number of remote entry ConfigMaps being tracked",
	})
)

func init() {
	// Register all controller metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		reconcileTotal,
		reconcileDuration,
		reconcileErrorsTotal,
		invalidationsTotal,
		observedRemotes,
	)
}

// RecordReconcile records a reconciliation
func RecordReconcile(controller, result string, durationSeconds float64) {
	reconcileTotal.WithLabelValues(controller, result).Inc()
	reconcileDuration.WithLabelValues(controller).Observe(durationSeconds)
}

// RecordReconcileError records a reconciliation error
func RecordReconcileError(controller, errorType string) {
	reconcileErrorsTotal.WithLabelValues(controller, errorType).Inc()
}

// RecordInvalidation records a remote invalidation
// reason: "changed", "rescoped" or "deleted"
func RecordInvalidation(scope, reason string) {
	invalidationsTotal.WithLabelValues(scope, reason).Inc()
}

// SetObservedRemotes sets the number of tracked remote entry ConfigMaps
func SetObservedRemotes(count int) {
	observedRemotes.Set(float64(count))
}
