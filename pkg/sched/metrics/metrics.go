// Copyright 2024 The pCPU Scheduler Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics collects per-pCPU scheduler metrics, registered into a
// single prometheus.Gatherer the way the reference systems codebase's
// pkg/metrics registry collects its builtin policies' collectors.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pcpu_scheduler"

var (
	contextSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_switches_total",
		Help:      "Total number of schedule() calls that switched to a different thread.",
	}, []string{"pcpu"})

	runQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_queue_depth",
		Help:      "Number of runnable (non-current) threads in a pCPU's policy run-queue.",
	}, []string{"pcpu"})

	rescheduleIPIs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reschedule_ipis_total",
		Help:      "Total number of cross-pCPU reschedule notifications delivered.",
	}, []string{"pcpu", "mode"})

	cfsPeriodRollovers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cfs_period_rollovers_total",
		Help:      "Total number of CFS scheduling-period rollovers observed.",
	}, []string{"pcpu"})
)

func init() {
	prometheus.MustRegister(contextSwitches, runQueueDepth, rescheduleIPIs, cfsPeriodRollovers)
}

// ContextSwitch records a schedule() call on pcpu that switched threads.
func ContextSwitch(pcpu int) {
	contextSwitches.WithLabelValues(label(pcpu)).Inc()
}

// SetRunQueueDepth records pcpu's current run-queue depth.
func SetRunQueueDepth(pcpu, depth int) {
	runQueueDepth.WithLabelValues(label(pcpu)).Set(float64(depth))
}

// RescheduleIPI records a cross-pCPU reschedule notification delivered to
// pcpu using the named mode ("ipi" or "init").
func RescheduleIPI(pcpu int, mode string) {
	rescheduleIPIs.WithLabelValues(label(pcpu), mode).Inc()
}

// CFSPeriodRollover records a CFS scheduling-period rollover on pcpu.
func CFSPeriodRollover(pcpu int) {
	cfsPeriodRollovers.WithLabelValues(label(pcpu)).Inc()
}

func label(pcpu int) string { return strconv.Itoa(pcpu) }

// Gatherer returns a pedantic prometheus.Gatherer over this package's
// collectors, for cmd/schedsimd's /metrics endpoint.
func Gatherer() prometheus.Gatherer {
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(contextSwitches); err != nil {
		panic(fmt.Sprintf("metrics: register context_switches_total: %v", err))
	}
	if err := reg.Register(runQueueDepth); err != nil {
		panic(fmt.Sprintf("metrics: register run_queue_depth: %v", err))
	}
	if err := reg.Register(rescheduleIPIs); err != nil {
		panic(fmt.Sprintf("metrics: register reschedule_ipis_total: %v", err))
	}
	if err := reg.Register(cfsPeriodRollovers); err != nil {
		panic(fmt.Sprintf("metrics: register cfs_period_rollovers_total: %v", err))
	}
	return reg
}
