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

package monopoly_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sched "github.com/intel/pcpu-scheduler/pkg/sched"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy/monopoly"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// TestMonopolyIgnoresSecondInsert covers S5: once a slot is occupied, a
// second insert is dropped rather than displacing the first thread.
func TestMonopolyIgnoresSecondInsert(t *testing.T) {
	fk := clock.NewFake()
	fw := sched.NewFake(fk, notify.Noop)
	require.NoError(t, fw.SetScheduler(0, monopoly.Name))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	a := thread.New("a", 0, func(*thread.Thread) {})
	b := thread.New("b", 0, func(*thread.Thread) {})
	fw.InitThread(a, 0)
	fw.InitThread(b, 0)
	fw.Insert(a, 0)
	fw.Insert(b, 0)

	next := fw.Schedule(0)
	assert.Equal(t, "a", next.Name)
}

// TestMonopolyFallsBackToIdleAfterRemove covers I6: pick_next never returns
// nil even with an empty slot.
func TestMonopolyFallsBackToIdleAfterRemove(t *testing.T) {
	fk := clock.NewFake()
	fw := sched.NewFake(fk, notify.Noop)
	require.NoError(t, fw.SetScheduler(0, monopoly.Name))
	require.NoError(t, fw.InitSched(0))
	fw.BringUp(0, func(*thread.Thread) {})

	a := thread.New("a", 0, func(*thread.Thread) {})
	fw.InitThread(a, 0)
	fw.Insert(a, 0)
	fw.Schedule(0)

	fw.Remove(a, 0)
	next := fw.Schedule(0)
	assert.True(t, next.IsIdle())
}
