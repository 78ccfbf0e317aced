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

// Package roundrobin implements the sched_rr policy (§4.2): a FIFO
// run-queue with time-slice accounting and replenishment, driven by a
// periodic tick fired every half slice.
package roundrobin

import (
	"fmt"
	"strings"
	"time"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// Name is the policy name used in configuration and the registry (§6).
const Name = "sched_rr"

// DefaultSlice is the default time slice, matching typical ACRN builds.
const DefaultSlice = 10 * time.Millisecond

var logger = log.NewLogger("sched-rr")

// data is the per-thread policy-private state (§4.2).
type data struct {
	sliceCycles uint64 // constant: full slice, in cycles
	leftCycles  int64  // signed, remaining in the current slice
	lastCycles  uint64 // timestamp of last accounting
	queued      bool   // true while present in the run-queue
}

// Backend implements policy.Backend for round-robin.
type Backend struct {
	ctx   policy.Context
	slice time.Duration
	timer clock.Timer
	queue []*thread.Thread
}

// New creates a round-robin backend with the given time slice. A zero slice
// means DefaultSlice.
func New(slice time.Duration) policy.CreateFn {
	if slice <= 0 {
		slice = DefaultSlice
	}
	return func() policy.Backend {
		return &Backend{slice: slice}
	}
}

func init() {
	policy.Register(Name, "FIFO run-queue with time-slice accounting and periodic tick", New(0))
}

// Name implements policy.Backend.
func (b *Backend) Name() string { return Name }

// Init implements policy.Backend.
func (b *Backend) Init(ctx policy.Context) {
	b.ctx = ctx
	b.timer = ctx.NewTimer()
	b.armTick()
}

func (b *Backend) armTick() {
	half := b.slice / 2
	if half <= 0 {
		half = time.Millisecond
	}
	if err := b.timer.Arm(half, b.tick); err != nil {
		logger.Warn("%v", policy.NewTimerArmFailure(b.ctx.PCPU(), err))
	}
}

// tick is the periodic handler described in §4.2.
func (b *Backend) tick() {
	defer b.armTick()

	current := b.ctx.Current()
	now := b.ctx.Clock().Now()

	if current == nil || current.IsIdle() {
		if len(b.queue) > 0 {
			b.ctx.RequestReschedule()
		}
		return
	}

	d := current.Data.(*data)
	elapsed := now - d.lastCycles
	d.lastCycles = now
	d.leftCycles -= int64(elapsed)

	if d.leftCycles <= 0 {
		b.ctx.RequestReschedule()
	}
}

// InitData implements policy.Backend.
func (b *Backend) InitData(t *thread.Thread) {
	cycles := b.ctx.Clock().DurationToCycles(b.slice)
	t.Data = &data{sliceCycles: cycles, leftCycles: int64(cycles)}
}

// DeinitData implements policy.Backend.
func (b *Backend) DeinitData(t *thread.Thread) { t.Data = nil }

// PickNext implements policy.Backend (§4.2).
func (b *Backend) PickNext() *thread.Thread {
	current := b.ctx.Current()
	now := b.ctx.Clock().Now()

	if current != nil && !current.IsIdle() {
		d := current.Data.(*data)
		d.leftCycles -= int64(now - d.lastCycles)
		d.lastCycles = now

		if d.queued {
			b.removeFromQueue(current)
			if d.leftCycles <= 0 {
				d.leftCycles = int64(d.sliceCycles)
			}
			b.queue = append(b.queue, current)
			d.queued = true
		}
	}

	if len(b.queue) == 0 {
		return b.ctx.Idle()
	}
	next := b.queue[0]
	next.Data.(*data).lastCycles = now
	return next
}

// Sleep implements policy.Backend.
func (b *Backend) Sleep(t *thread.Thread) {
	b.removeFromQueue(t)
}

// Wake implements policy.Backend: a freshly woken thread gets first pick of
// the remaining slice, so it goes to the head of the queue.
func (b *Backend) Wake(t *thread.Thread) {
	d := t.Data.(*data)
	if d.queued {
		return
	}
	d.lastCycles = b.ctx.Clock().Now()
	b.queue = append([]*thread.Thread{t}, b.queue...)
	d.queued = true
}

// Yield implements policy.Backend: a no-op, the next schedule() rotates.
func (b *Backend) Yield(t *thread.Thread) {}

// Poke implements policy.Backend (S6): bump a RUNNABLE thread to the head
// of the run-queue and ask for a reschedule.
func (b *Backend) Poke(t *thread.Thread) bool {
	if t.State != thread.Runnable {
		return false
	}
	d := t.Data.(*data)
	if d.queued {
		b.removeFromQueue(t)
	}
	b.queue = append([]*thread.Thread{t}, b.queue...)
	d.queued = true
	return true
}

// Insert implements policy.Backend.
func (b *Backend) Insert(t *thread.Thread) {
	d := t.Data.(*data)
	if d.queued {
		return
	}
	d.lastCycles = b.ctx.Clock().Now()
	b.queue = append(b.queue, t)
	d.queued = true
}

// Remove implements policy.Backend.
func (b *Backend) Remove(t *thread.Thread) {
	b.removeFromQueue(t)
}

func (b *Backend) removeFromQueue(t *thread.Thread) {
	d, ok := t.Data.(*data)
	if !ok || !d.queued {
		return
	}
	for i, q := range b.queue {
		if q == t {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	d.queued = false
}

// Dump implements policy.Backend.
func (b *Backend) Dump() string {
	names := make([]string, len(b.queue))
	for i, t := range b.queue {
		names[i] = fmt.Sprintf("%s(left=%d)", t.Name, t.Data.(*data).leftCycles)
	}
	return fmt.Sprintf("sched_rr: [%s]", strings.Join(names, " "))
}
