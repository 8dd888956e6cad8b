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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Configuration resolution metrics
	configResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_resolver_config_total",
		Help: "Total number of configuration resolutions by outcome",
	}, []string{"source"})

	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_resolver_fetch_total",
		Help: "Total number of manifest fetches by source and status",
	}, []string{"source", "status"})

	invalidEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_resolver_invalid_entries_total",
		Help: "Total number of manifest entries dropped by validation",
	})

	seedUpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_resolver_seed_upserts_total",
		Help: "Total number of registry upserts issued by the seeder",
	}, []string{"status"})
)

func init() {
	metrics.Registry.MustRegister(
		configResolvedTotal,
		fetchTotal,
		invalidEntriesTotal,
		seedUpsertsTotal,
	)
}

// RecordConfigResolved records which source won a resolution
// source: "merged" or "static"
func RecordConfigResolved(source string) {
	configResolvedTotal.WithLabelValues(source).Inc()
}

// RecordFetch records a manifest fetch
// source: "registry" or "static"
// status: "success" or "failure"
func RecordFetch(source, status string) {
	fetchTotal.WithLabelValues(source, status).Inc()
}

// RecordInvalidEntries records entries dropped by validation
func RecordInvalidEntries(n int) {
	invalidEntriesTotal.Add(float64(n))
}

// RecordSeedUpsert records one seeding upsert
func RecordSeedUpsert(status string) {
	seedUpsertsTotal.WithLabelValues(status).Inc()
}
