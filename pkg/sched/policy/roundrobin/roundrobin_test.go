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

package roundrobin_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sched "github.com/intel/pcpu-scheduler/pkg/sched"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy/roundrobin"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// TestRoundRobinRotatesAfterSliceExpiry covers S1/P5: two runnable threads
// of equal weight each get a turn, in FIFO order, once their slice runs out.
func TestRoundRobinRotatesAfterSliceExpiry(t *testing.T) {
	fk := clock.NewFake()
	fw := sched.NewFake(fk, notify.Noop)

	require.NoError(t, fw.SetScheduler(0, roundrobin.Name))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	a := thread.New("a", 0, func(*thread.Thread) {})
	b := thread.New("b", 0, func(*thread.Thread) {})
	fw.InitThread(a, 0)
	fw.InitThread(b, 0)
	fw.Insert(a, 0)
	fw.Insert(b, 0)

	first := fw.Schedule(0)
	assert.Equal(t, "a", first.Name)

	fk.Advance(roundrobin.DefaultSlice + time.Millisecond)
	require.True(t, fw.NeedReschedule(0))
	second := fw.Schedule(0)
	assert.Equal(t, "b", second.Name)

	fk.Advance(roundrobin.DefaultSlice + time.Millisecond)
	third := fw.Schedule(0)
	assert.Equal(t, "a", third.Name)
}

// TestRoundRobinWakeGoesToHead covers the documented wake behaviour: a
// freshly woken thread gets first pick of the remaining slice.
func TestRoundRobinWakeGoesToHead(t *testing.T) {
	fk := clock.NewFake()
	fw := sched.NewFake(fk, notify.Noop)

	require.NoError(t, fw.SetScheduler(0, roundrobin.Name))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	a := thread.New("a", 0, func(*thread.Thread) {})
	b := thread.New("b", 0, func(*thread.Thread) {})
	fw.InitThread(a, 0)
	fw.InitThread(b, 0)
	fw.Insert(a, 0)
	fw.Insert(b, 0)
	fw.Schedule(0)

	fw.Sleep(a)
	fw.Schedule(0) // flush: b becomes current, a is actually off-queue

	fw.Wake(a)
	next := fw.Schedule(0)
	assert.Equal(t, "a", next.Name)
}
