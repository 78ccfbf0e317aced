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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/monopoly"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// TestEventSignalAlreadySetSkipsBlock covers P8: signalling before a waiter
// arrives still wakes the eventual Wait call rather than being lost.
func TestEventSignalAlreadySetSkipsBlock(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_mono")
	ev := fw.NewEvent()

	ev.Signal()

	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	vcpu.State = thread.Running

	done := make(chan struct{})
	go func() {
		ev.Wait(vcpu)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after an already-set event")
	}
}

// TestEventDoubleWaitPanics covers the single-waiter precondition.
func TestEventDoubleWaitPanics(t *testing.T) {
	fk := clock.NewFake()
	fw := NewFake(fk, notify.Noop)
	require.NoError(t, fw.SetScheduler(0, "sched_mono"))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	ev := fw.NewEvent()
	ev.waiter = thread.New("other", 0, func(*thread.Thread) {})

	vcpu := thread.New("vcpu0", 0, func(*thread.Thread) {})
	fw.InitThread(vcpu, 0)
	vcpu.State = thread.Running

	assert.Panics(t, func() { ev.Wait(vcpu) })
}

func TestEventReset(t *testing.T) {
	fw, _ := newTestFramework(t, 0, "sched_mono")
	ev := fw.NewEvent()
	ev.Signal()
	ev.Reset()
	assert.False(t, ev.set)
	assert.Nil(t, ev.waiter)
}
