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

package sched

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/monopoly"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/roundrobin"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

func newTestFramework(t *testing.T, pcpu int, policyName string) (*Framework, *clock.Fake) {
	t.Helper()
	fk := clock.NewFake()
	fw := NewFake(fk, notify.Noop)
	if policyName != "" {
		require.NoError(t, fw.SetScheduler(pcpu, policyName))
	}
	require.NoError(t, fw.InitSched(pcpu))
	fw.BringUp(pcpu, func(*thread.Thread) {})
	return fw, fk
}

func TestInitSchedDefaultsPolicy(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "")
	assert.Equal(t, "sched_noop: [empty]", extractPolicyLine(fw.Dump(0)))
}

func TestSetSchedulerConflictIsConfigError(t *testing.T) {
	fk := clock.NewFake()
	fw := NewFake(fk, notify.Noop)
	require.NoError(t, fw.SetScheduler(0, "sched_rr"))
	err := fw.SetScheduler(0, "sched_mono")
	require.Error(t, err)
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestSetSchedulerUnknownPolicy(t *testing.T) {
	fk := clock.NewFake()
	fw := NewFake(fk, notify.Noop)
	err := fw.SetScheduler(0, "sched_bogus")
	require.Error(t, err)
}

// TestInsertAndScheduleSwitchesAwayFromIdle covers I6: PickNext never
// returns nil, and a newly inserted thread is eventually picked over idle.
func TestInsertAndScheduleSwitchesAwayFromIdle(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_rr")

	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	fw.Insert(vcpu, 0)

	require.True(t, fw.NeedReschedule(0))
	next := fw.Schedule(0)
	require.NotNil(t, next)
	assert.Equal(t, "vcpu0", next.Name)
	assert.Equal(t, thread.Running, vcpu.State)
	assert.False(t, fw.NeedReschedule(0))
}

// TestSleepWakeRoundTrip covers I5: a woken thread must have been BLOCKED.
func TestSleepWakeRoundTrip(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_mono")

	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	fw.Insert(vcpu, 0)
	fw.Schedule(0)
	require.Equal(t, thread.Running, vcpu.State)

	fw.Sleep(vcpu)
	assert.Equal(t, thread.Blocked, vcpu.State)

	fw.Wake(vcpu)
	assert.Equal(t, thread.Runnable, vcpu.State)
}

// TestWakeOnNonBlockedThreadPanics covers the I5 assertion.
func TestWakeOnNonBlockedThreadPanics(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_mono")
	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	fw.Insert(vcpu, 0)

	assert.Panics(t, func() { fw.Wake(vcpu) })
}

// TestRunPropagatesNonAssertionPanics confirms Run()'s recover only
// swallows *AssertionViolation panics (turned into a Fatal halt elsewhere);
// anything else still propagates.
func TestRunPropagatesNonAssertionPanics(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_mono")
	assert.Panics(t, func() {
		fw.Run(func() {
			panic("not an assertion violation")
		})
	})
}

// TestPokeRunningSendsNotifyOnly covers S6's RUNNING branch: no run-queue
// mutation, just a notification.
func TestPokeRunningSendsNotifyOnly(t *testing.T) {
	var notified []int
	fk := clock.NewFake()
	fw := NewFake(fk, notify.SenderFunc(func(pcpu int, mode notify.Mode) {
		notified = append(notified, pcpu)
	}))
	require.NoError(t, fw.SetScheduler(0, "sched_mono"))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	fw.Insert(vcpu, 0)
	fw.Schedule(0)
	require.Equal(t, thread.Running, vcpu.State)

	notified = nil
	fw.Poke(vcpu)
	assert.Contains(t, notified, 0)
}

func extractPolicyLine(dump string) string {
	// Dump's second line is the policy's own Dump() output.
	for i, c := range dump {
		if c == '\n' {
			return strings.TrimSpace(dump[i+1:])
		}
	}
	return dump
}
