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

// Package cfs implements the sched_cfs policy (§4.4): a period-budgeted,
// weighted-vruntime run-queue. Each queued thread's vruntime advances in
// proportion to rq_weight/weight, so a full period's worth of vruntime
// advance (the constant period_cycles) corresponds to exactly that
// thread's weighted share of real time within the period.
package cfs

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/metrics"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// Name is the policy name used in configuration and the registry (§6).
const Name = "sched_cfs"

// DefaultWeight is the weight assigned to a thread that has not had
// SetWeight called on it.
const DefaultWeight = 1024

// DefaultPeriod is the default scheduling period after which every
// thread's in-period vruntime budget resets.
const DefaultPeriod = 100 * time.Millisecond

var logger = log.NewLogger("sched-cfs")

// data is the per-thread policy-private state (§4.4).
type data struct {
	weight       int64  // higher weight runs proportionally more
	vruntime     int64  // weighted virtual runtime
	rqWeightSnap int64  // rq_weight observed at this thread's last accrual
	vrtInPeriod  int64  // vruntime accrued within the current period
	lastCycles   uint64 // timestamp of last accounting
	yield        bool   // YIELD bit, cleared once PickNext has honoured it
	queued       bool
}

// Backend implements policy.Backend for CFS.
type Backend struct {
	ctx          policy.Context
	period       time.Duration
	periodCycles int64
	periodStart  uint64
	timer        clock.Timer
	queue        []*thread.Thread
	minVruntime  int64
	maxVruntime  int64
	rqWeight     int64
	nrActive     int
}

// New creates a CFS backend with the given scheduling period. A zero
// period means DefaultPeriod.
func New(period time.Duration) policy.CreateFn {
	if period <= 0 {
		period = DefaultPeriod
	}
	return func() policy.Backend {
		return &Backend{period: period}
	}
}

func init() {
	policy.Register(Name, "period-budgeted run-queue ordered by weighted vruntime", New(0))
}

// Name implements policy.Backend.
func (b *Backend) Name() string { return Name }

// Init implements policy.Backend.
func (b *Backend) Init(ctx policy.Context) {
	b.ctx = ctx
	b.periodCycles = int64(ctx.Clock().DurationToCycles(b.period))
	b.periodStart = ctx.Clock().Now()
	b.timer = ctx.NewTimer()
}

// InitData implements policy.Backend. Weight defaults to DefaultWeight; use
// SetWeight to bind a VM-configured weight before the thread is inserted.
func (b *Backend) InitData(t *thread.Thread) {
	t.Data = &data{weight: DefaultWeight, vruntime: b.minVruntime}
}

// DeinitData implements policy.Backend.
func (b *Backend) DeinitData(t *thread.Thread) { t.Data = nil }

// SetWeight binds t's scheduling weight. Must be called after InitData and
// before the thread is inserted to take effect on its first dispatch.
func (b *Backend) SetWeight(t *thread.Thread, weight int64) {
	if weight <= 0 {
		weight = DefaultWeight
	}
	t.Data.(*data).weight = weight
}

func (b *Backend) sortByVruntime() {
	sort.SliceStable(b.queue, func(i, j int) bool {
		return b.queue[i].Data.(*data).vruntime < b.queue[j].Data.(*data).vruntime
	})
}

func (b *Backend) recalcBounds() {
	if len(b.queue) == 0 {
		return
	}
	b.minVruntime = b.queue[0].Data.(*data).vruntime
	b.maxVruntime = b.minVruntime
	for _, t := range b.queue {
		if v := t.Data.(*data).vruntime; v > b.maxVruntime {
			b.maxVruntime = v
		}
	}
}

// accrue advances t's vruntime by (now - last_cycles) * rq_weight / weight
// (§4.4), and tracks the portion consumed within the current period. A
// full period's worth of real time at this thread's weighted share always
// advances vruntime by exactly periodCycles, so the period budget is that
// same constant for every thread regardless of weight.
func (b *Backend) accrue(t *thread.Thread, now uint64) {
	d := t.Data.(*data)
	elapsed := int64(now - d.lastCycles)
	d.lastCycles = now
	d.rqWeightSnap = b.rqWeight
	if elapsed <= 0 || b.rqWeight == 0 {
		return
	}
	weighted := elapsed * b.rqWeight / d.weight
	d.vruntime += weighted
	d.vrtInPeriod += weighted
}

// rolloverIfDue starts a fresh scheduling period, resetting every queued
// thread's in-period budget, once periodCycles have elapsed since the last
// rollover.
func (b *Backend) rolloverIfDue(now uint64) {
	if int64(now-b.periodStart) >= b.periodCycles {
		b.rollover(now)
	}
}

func (b *Backend) rollover(now uint64) {
	b.periodStart = now
	for _, t := range b.queue {
		t.Data.(*data).vrtInPeriod = 0
	}
	metrics.CFSPeriodRollover(b.ctx.PCPU())
}

// catchUp implements the bounded catch-up rule: a thread woken while
// lagging min_vruntime by more than one period has its vruntime set to
// min_vruntime - period, so it neither starves everyone else repaying the
// debt nor loses its place forever. Wake applies it; Insert instead raises
// a newly admitted thread's vruntime to min_vruntime.
func (b *Backend) catchUp(d *data) {
	floor := b.minVruntime - b.periodCycles
	if d.vruntime < floor {
		d.vruntime = floor
	}
}

// PickNext implements policy.Backend (§4.4).
func (b *Backend) PickNext() *thread.Thread {
	now := b.ctx.Clock().Now()

	if current := b.ctx.Current(); current != nil && !current.IsIdle() {
		if d := current.Data.(*data); d.queued {
			b.accrue(current, now)
			b.sortByVruntime()
		}
	}
	b.recalcBounds()
	b.rolloverIfDue(now)

	next := b.selectNext()
	if next == nil {
		for _, t := range b.queue {
			t.Data.(*data).yield = false
		}
		next = b.selectNext()
	}
	if next == nil {
		// Every queued thread is out of period budget even after clearing
		// YIELD: run idle, and arm the timer for the end of the current
		// period so the rollover is picked up as soon as it is due.
		if len(b.queue) > 0 {
			remaining := b.periodCycles - int64(now-b.periodStart)
			if err := b.timer.Arm(b.ctx.Clock().CyclesToDuration(uint64(remaining)), b.ctx.RequestReschedule); err != nil {
				logger.Warn("%v", policy.NewTimerArmFailure(b.ctx.PCPU(), err))
			}
		}
		return b.ctx.Idle()
	}

	d := next.Data.(*data)
	d.lastCycles = now
	b.armTimer(d, now)
	return next
}

// selectNext returns the earliest-vruntime thread that has neither its
// YIELD bit set nor an exhausted period budget, or nil if none qualifies.
// A thread skipped for its YIELD bit has the bit cleared.
func (b *Backend) selectNext() *thread.Thread {
	for _, t := range b.queue {
		d := t.Data.(*data)
		if d.yield {
			d.yield = false
			continue
		}
		if d.vrtInPeriod >= b.periodCycles {
			continue
		}
		return t
	}
	return nil
}

// armTimer schedules a reschedule request for when next's remaining period
// budget, converted back to real cycles at its weighted share, runs out.
func (b *Backend) armTimer(d *data, now uint64) {
	if len(b.queue) <= 1 || b.rqWeight == 0 {
		b.timer.Cancel()
		return
	}
	remainingWeighted := b.periodCycles - d.vrtInPeriod
	if remainingWeighted <= 0 {
		return
	}
	remainingCycles := remainingWeighted * d.weight / b.rqWeight
	if err := b.timer.Arm(b.ctx.Clock().CyclesToDuration(uint64(remainingCycles)), b.ctx.RequestReschedule); err != nil {
		logger.Warn("%v", policy.NewTimerArmFailure(b.ctx.PCPU(), err))
	}
}

// Sleep implements policy.Backend.
func (b *Backend) Sleep(t *thread.Thread) {
	b.removeFromQueue(t)
}

// Wake implements policy.Backend: apply bounded catch-up before rejoining
// the run-queue.
func (b *Backend) Wake(t *thread.Thread) {
	d := t.Data.(*data)
	if d.queued {
		return
	}
	b.catchUp(d)
	b.admit(t, d)
}

// Yield implements policy.Backend: set the YIELD bit on t and advance its
// vruntime as if pick_next had just accounted it (§4.4).
func (b *Backend) Yield(t *thread.Thread) {
	d, ok := t.Data.(*data)
	if !ok {
		return
	}
	d.yield = true
	if d.queued {
		b.accrue(t, b.ctx.Clock().Now())
	}
}

// Poke implements policy.Backend (S6): pull a RUNNABLE thread's vruntime
// down to min_vruntime so it is picked next, and ask for a reschedule.
func (b *Backend) Poke(t *thread.Thread) bool {
	if t.State != thread.Runnable {
		return false
	}
	d := t.Data.(*data)
	if d.queued {
		d.vruntime = b.minVruntime
		b.sortByVruntime()
	}
	return true
}

// Insert implements policy.Backend.
func (b *Backend) Insert(t *thread.Thread) {
	d := t.Data.(*data)
	if d.queued {
		return
	}
	if d.vruntime < b.minVruntime {
		d.vruntime = b.minVruntime
	}
	b.admit(t, d)
}

func (b *Backend) admit(t *thread.Thread, d *data) {
	d.lastCycles = b.ctx.Clock().Now()
	d.vrtInPeriod = 0
	b.queue = append(b.queue, t)
	d.queued = true
	b.rqWeight += d.weight
	b.nrActive++
	b.sortByVruntime()
	b.recalcBounds()
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
	b.rqWeight -= d.weight
	b.nrActive--
	b.recalcBounds()
}

// Dump implements policy.Backend.
func (b *Backend) Dump() string {
	parts := make([]string, len(b.queue))
	for i, t := range b.queue {
		d := t.Data.(*data)
		parts[i] = fmt.Sprintf("%s(vrt=%d,inperiod=%d,w=%d)", t.Name, d.vruntime, d.vrtInPeriod, d.weight)
	}
	return fmt.Sprintf("sched_cfs: [%s] min=%d max=%d rq_weight=%d nr_active=%d",
		strings.Join(parts, " "), b.minVruntime, b.maxVruntime, b.rqWeight, b.nrActive)
}
