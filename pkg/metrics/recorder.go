/*
Copyright 2025 The RoutePilot authors

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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records the console API operations as Prometheus metrics
type Recorder struct {
	info          *prometheus.GaugeVec
	duration      *prometheus.HistogramVec
	failure_total *prometheus.CounterVec
	success_total *prometheus.CounterVec
}

// NewRecorder creates a new recorder and registers the Prometheus metrics
func NewRecorder(subsystem string, register bool) Recorder {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      "info",
		Help:      "RoutePilot version information",
	}, []string{"version"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Seconds spent serving an operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "namespace"})

	failure_total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "count_operation_failure",
		Help:      "Total number of failed operations",
	}, []string{"operation", "namespace"})

	success_total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "count_operation_success",
		Help:      "Total number of successful operations",
	}, []string{"operation", "namespace"})

	if register {
		prometheus.MustRegister(info)
		prometheus.MustRegister(duration)
		prometheus.MustRegister(failure_total)
		prometheus.MustRegister(success_total)
	}

	return Recorder{
		info:          info,
		duration:      duration,
		failure_total: failure_total,
		success_total: success_total,
	}
}

// SetInfo sets the version label
func (cr *Recorder) SetInfo(version string) {
	cr.info.WithLabelValues(version).Set(1)
}

// SetDuration sets the time spent in seconds serving an operation
func (cr *Recorder) SetDuration(operation string, namespace string, duration time.Duration) {
	cr.duration.WithLabelValues(operation, namespace).Observe(duration.Seconds())
}

// IncFailure increments the failed operations
func (cr *Recorder) IncFailure(operation string, namespace string) {
	cr.failure_total.WithLabelValues(operation, namespace).Inc()
}

func (cr *Recorder) IncSuccess(operation string, namespace string) {
	cr.success_total.WithLabelValues(operation, namespace).Inc()
}
