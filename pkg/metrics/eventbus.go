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
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_eventbus_events_total",
		Help: "Total number of events emitted",
	}, []string{"event"})

	handlerPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_eventbus_handler_panics_total",
		Help: "Total number of event handlers that panicked",
	}, []string{"event"})
)

func init() {
	metrics.Registry.MustRegister(
		eventsTotal,
		handlerPanicsTotal,
	)
}

// RecordEvent records an emission
func RecordEvent(event string) {
	eventsTotal.WithLabelValues(event).Inc()
}

// RecordHandlerPanic records a recovered handler panic
func RecordHandlerPanic(event string) {
	handlerPanicsTotal.WithLabelValues(event).Inc()
}
