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

// Package bvt implements the sched_bvt policy (§4.3): a borrowed-virtual-
// time scheduler whose run-queue stays ordered by non-decreasing effective
// virtual time (evt), and whose dispatch budget is computed from the gap to
// the next thread's evt.
package bvt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// Name is the policy name used in configuration and the registry (§6).
const Name = "sched_bvt"

const (
	// DefaultMCU is the default minimum charging unit.
	DefaultMCU = 100 * time.Microsecond
	// DefaultContextSwitchAllowance bounds the minimum dispatch even when
	// the evt gap to the next thread is tiny.
	DefaultContextSwitchAllowance = 50 * time.Microsecond
)

var logger = log.NewLogger("sched-bvt")

// data is the per-thread policy-private state (§4.3). warpBack/warpLimit
// exist so a future non-zero-warp policy is a constant change, not a
// struct change (SPEC_FULL.md Open Question decision); both stay zero here.
type data struct {
	mcu        uint64  // minimum charging unit, in cycles
	mcuRatio   float64 // weight⁻¹
	csAllowMcu uint64  // context-switch allowance, in mcu
	runMcu     int64   // dispatch budget set by PickNext; no tick in this backend decrements it
	avtMcu     int64   // actual virtual time
	evtMcu     int64   // effective virtual time = avt - warp (warp == 0)
	residual   uint64  // sub-mcu remainder carried between advances
	start      uint64  // dispatch start cycle
	warpBack   int64   // reserved: always 0
	warpLimit  int64   // reserved: always 0
	queued     bool
}

// Backend implements policy.Backend for BVT.
type Backend struct {
	ctx                policy.Context
	mcu                time.Duration
	contextSwitchAllow time.Duration
	queue              []*thread.Thread
}

// New creates a BVT backend with the given minimum charging unit and
// context-switch allowance. Zero values fall back to the package defaults.
func New(mcu, contextSwitchAllow time.Duration) policy.CreateFn {
	if mcu <= 0 {
		mcu = DefaultMCU
	}
	if contextSwitchAllow <= 0 {
		contextSwitchAllow = DefaultContextSwitchAllowance
	}
	return func() policy.Backend {
		return &Backend{mcu: mcu, contextSwitchAllow: contextSwitchAllow}
	}
}

func init() {
	policy.Register(Name, "borrowed-virtual-time run-queue ordered by effective virtual time", New(0, 0))
}

// Name implements policy.Backend.
func (b *Backend) Name() string { return Name }

// Init implements policy.Backend.
func (b *Backend) Init(ctx policy.Context) {
	b.ctx = ctx
}

// InitData implements policy.Backend. Weight defaults to 1.0 (mcu_ratio=1);
// use SetWeight to bind a VM-configured weight before the thread is
// inserted.
func (b *Backend) InitData(t *thread.Thread) {
	t.Data = &data{
		mcu:        b.ctx.Clock().DurationToCycles(b.mcu),
		mcuRatio:   1.0,
		csAllowMcu: b.ctx.Clock().DurationToCycles(b.contextSwitchAllow),
	}
}

// DeinitData implements policy.Backend.
func (b *Backend) DeinitData(t *thread.Thread) { t.Data = nil }

// SetWeight binds t's mcu_ratio (weight⁻¹). Must be called after InitData
// and before the thread is inserted to take effect on its first dispatch.
func (b *Backend) SetWeight(t *thread.Thread, mcuRatio float64) {
	t.Data.(*data).mcuRatio = mcuRatio
}

// svt returns the scheduler virtual time: the front (earliest-evt) queued
// thread's avt, or the current thread's avt if the queue is empty.
func (b *Backend) svt() int64 {
	if len(b.queue) > 0 {
		return b.queue[0].Data.(*data).avtMcu
	}
	if current := b.ctx.Current(); current != nil && !current.IsIdle() {
		return current.Data.(*data).avtMcu
	}
	return 0
}

func (b *Backend) sortByEVT() {
	sort.SliceStable(b.queue, func(i, j int) bool {
		return b.queue[i].Data.(*data).evtMcu < b.queue[j].Data.(*data).evtMcu
	})
}

// PickNext implements policy.Backend (§4.3).
func (b *Backend) PickNext() *thread.Thread {
	now := b.ctx.Clock().Now()

	if current := b.ctx.Current(); current != nil && !current.IsIdle() {
		d := current.Data.(*data)
		// Real time is charged as virtual time at mcu_ratio (weight⁻¹).
		elapsed := uint64(float64(now-d.start)*d.mcuRatio) + d.residual
		d.avtMcu += int64(elapsed / d.mcu)
		d.residual = elapsed % d.mcu
		d.evtMcu = d.avtMcu - d.warpBack
		if d.queued {
			b.sortByEVT()
		}
	}

	if len(b.queue) == 0 {
		return b.ctx.Idle()
	}

	first := b.queue[0]
	fd := first.Data.(*data)
	if len(b.queue) >= 2 {
		second := b.queue[1].Data.(*data)
		gap := second.evtMcu - fd.evtMcu
		fd.runMcu = int64(float64(gap)*fd.mcuRatio) + int64(fd.csAllowMcu)
	} else {
		fd.runMcu = 0
	}
	fd.start = now

	return first
}

// Sleep implements policy.Backend: avt is frozen while sleeping.
func (b *Backend) Sleep(t *thread.Thread) {
	b.removeFromQueue(t)
}

// Wake implements policy.Backend: clamp avt upward to svt, recompute evt,
// insert in evt order.
func (b *Backend) Wake(t *thread.Thread) {
	b.admit(t)
}

// Insert implements policy.Backend. A newly admitted thread is clamped to
// the current svt the same way a woken one is, so it cannot claim a share
// built up before it existed.
func (b *Backend) Insert(t *thread.Thread) {
	b.admit(t)
}

func (b *Backend) admit(t *thread.Thread) {
	d := t.Data.(*data)
	if d.queued {
		return
	}
	svt := b.svt()
	if d.avtMcu < svt {
		logger.Debug("pCPU %d: clamping %s avt %d up to svt %d", b.ctx.PCPU(), t.Name, d.avtMcu, svt)
		d.avtMcu = svt
	}
	d.evtMcu = d.avtMcu - d.warpBack
	b.queue = append(b.queue, t)
	d.queued = true
	b.sortByEVT()
}

// Yield implements policy.Backend: BVT has no explicit yield adjustment
// (§4.3); the next pick_next re-accounts avt as usual.
func (b *Backend) Yield(t *thread.Thread) {}

// Poke implements policy.Backend (S6): bump a RUNNABLE thread to the front
// of the evt ordering and ask for a reschedule.
func (b *Backend) Poke(t *thread.Thread) bool {
	if t.State != thread.Runnable {
		return false
	}
	d := t.Data.(*data)
	if d.queued && len(b.queue) > 0 {
		d.evtMcu = b.queue[0].Data.(*data).evtMcu
		b.sortByEVT()
	}
	return true
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
	parts := make([]string, len(b.queue))
	for i, t := range b.queue {
		d := t.Data.(*data)
		parts[i] = fmt.Sprintf("%s(evt=%d,avt=%d)", t.Name, d.evtMcu, d.avtMcu)
	}
	return fmt.Sprintf("sched_bvt: [%s]", strings.Join(parts, " "))
}
