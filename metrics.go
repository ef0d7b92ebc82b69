/*
Copyright 2024 Blnk Finance Authors.

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

package ingest

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels of ingest_messages_total.
const (
	outcomeCompleted    = "completed"
	outcomeDeferred     = "deferred"
	outcomeRetrying     = "retrying"
	outcomeDeadLettered = "dead_lettered"
)

// Stages of ingest_partial_failures_total.
const (
	stageThread     = "thread"
	stageMessage    = "message"
	stageAnnotation = "annotation"
	stageEmbedding  = "embedding"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	activeMessages    prometheus.Gauge
	messages          *prometheus.CounterVec
	threadsDispatched prometheus.Counter
	partialFailures   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_active_messages",
			Help: "Messages currently admitted and being processed.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Deliveries handled, by outcome.",
		}, []string{"outcome"}),
		threadsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_threads_dispatched_total",
			Help: "Threads handed to the downstream collaborators.",
		}),
		partialFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_partial_failures_total",
			Help: "Isolated failures that were omitted from a slice, by stage.",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.activeMessages, m.messages, m.threadsDispatched, m.partialFailures)
	}
	return m
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.activeMessages.Set(float64(n))
}

func (m *Metrics) outcome(label string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(label).Inc()
}

func (m *Metrics) dispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.threadsDispatched.Add(float64(n))
}

func (m *Metrics) partialFailure(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.partialFailures.WithLabelValues(stage).Add(float64(n))
}
