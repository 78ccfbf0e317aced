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

// Package sched is the per-physical-CPU thread scheduler at the heart of a
// Type-1 partitioning hypervisor: one independent scheduler instance per
// pCPU, each bound to a named policy (round-robin, BVT, CFS, or the
// monopoly/noop degenerate case), driven through a small framework core
// that owns the run/runnable/blocked state machine every policy shares.
package sched

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/metrics"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

var logger = log.NewLogger("sched")

// needReschedule is the single NEED_RESCHEDULE bit in Control.flags (§3).
const needReschedule uint32 = 1 << 0

// DefaultPolicy is bound to a pCPU that init_sched brings up without an
// explicit set_scheduler call (§4.1).
const DefaultPolicy = "sched_noop"

// Control is a pCPU's scheduler control block C (§3): its own lock, its
// NEED_RESCHEDULE flag, the thread currently RUNNING on it, and the policy
// vtable bound to it. There is no global scheduler lock; every mutation of
// a Control or of a thread homed on it is serialised by that Control's own
// mu.
type Control struct {
	pcpu    int
	mu      sync.Mutex
	flags   uint32
	current *thread.Thread
	idle    *thread.Thread
	backend policy.Backend
	logger  log.Logger
	qlen    int // threads RUNNABLE (queued, not current) on this pCPU

	fw *Framework
}

// controlContext adapts a *Control to policy.Context, the narrow window a
// policy backend is given onto its pCPU.
type controlContext struct {
	c *Control
}

func (cc controlContext) PCPU() int              { return cc.c.pcpu }
func (cc controlContext) Current() *thread.Thread { return cc.c.current }
func (cc controlContext) Clock() clock.Cycles    { return cc.c.fw.clock }
func (cc controlContext) NewTimer() clock.Timer  { return cc.c.fw.newTimer() }
func (cc controlContext) Idle() *thread.Thread   { return cc.c.idle }
func (cc controlContext) Logger() log.Logger     { return cc.c.logger }
func (cc controlContext) RequestReschedule()     { cc.c.fw.MakeRescheduleRequest(cc.c.pcpu, notify.ModeIPI) }

// Framework owns every pCPU's Control block and the shared collaborators
// every policy is handed through Context: the clock, a timer factory, and
// the cross-CPU notification sender (§6).
type Framework struct {
	clock    clock.Cycles
	newTimer func() clock.Timer
	notify   notify.Sender

	mu       sync.RWMutex
	controls map[int]*Control
	bindings map[int]string // pcpu -> policy name, set by SetScheduler
}

// New creates a Framework driven by clk, a matching newTimer factory (each
// call must return a fresh, independently armable Timer against clk), and
// sender for cross-CPU notification delivery. A nil sender defaults to
// notify.Noop.
func New(clk clock.Cycles, newTimer func() clock.Timer, sender notify.Sender) *Framework {
	if sender == nil {
		sender = notify.Noop
	}
	return &Framework{
		clock:    clk,
		newTimer: newTimer,
		notify:   sender,
		controls: make(map[int]*Control),
		bindings: make(map[int]string),
	}
}

// NewWallClockFramework creates a Framework driven by the host's monotonic
// clock and standard-library timers, for cmd/schedsimd.
func NewWallClockFramework(sender notify.Sender) *Framework {
	return New(clock.NewWallClock(), clock.NewWallTimer, sender)
}

// NewFake creates a Framework driven by fk, for deterministic tests.
func NewFake(fk *clock.Fake, sender notify.Sender) *Framework {
	return New(fk, fk.NewTimer, sender)
}

// SetScheduler binds a named policy to pcpu (§4.1). Must be called before
// InitSched for that pCPU; rebinding a pCPU that already has a conflicting
// binding from a different call is a ConfigError, the same conflict
// sanitise-time configuration validation is meant to catch earlier.
func (fw *Framework) SetScheduler(pcpu int, policyName string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if existing, ok := fw.bindings[pcpu]; ok && existing != policyName {
		return newConfigError(pcpu, fmt.Sprintf("conflicting policy binding: already %q, requested %q", existing, policyName), nil)
	}
	if policy.Describe(policyName) == "" {
		return newConfigError(pcpu, fmt.Sprintf("unknown policy %q", policyName), nil)
	}
	fw.bindings[pcpu] = policyName
	return nil
}

// InitSched implements init_sched(pcpu) (§4.1): zeros the control block,
// binds DefaultPolicy if SetScheduler was never called, and calls the
// policy's Init hook.
func (fw *Framework) InitSched(pcpu int) error {
	fw.mu.Lock()
	name, ok := fw.bindings[pcpu]
	if !ok {
		name = DefaultPolicy
		fw.bindings[pcpu] = name
	}
	fw.mu.Unlock()

	backend, err := policy.Create(name)
	if err != nil {
		return newConfigError(pcpu, "policy creation failed", err)
	}

	c := &Control{
		pcpu:    pcpu,
		backend: backend,
		fw:      fw,
		logger:  logger,
	}

	fw.mu.Lock()
	fw.controls[pcpu] = c
	fw.mu.Unlock()

	backend.Init(controlContext{c: c})
	return nil
}

// control returns pcpu's Control block. An unknown pCPU is a programming
// error: every pCPU must pass InitSched before any other framework call.
func (fw *Framework) control(pcpu int) *Control {
	fw.mu.RLock()
	c, ok := fw.controls[pcpu]
	fw.mu.RUnlock()
	assert(ok, "control-block-bound", fmt.Sprintf("pCPU %d used before InitSched", pcpu))
	return c
}

// BringUp implements switch_to_idle(entry) (§4.1): installs pcpu's idle
// thread as the current RUNNING thread. Called once, from each pCPU at
// bring-up; never returns to its caller in the original design, but here
// simply finishes installing the idle thread so the caller's own bring-up
// loop can proceed to Schedule.
func (fw *Framework) BringUp(pcpu int, entry func(*thread.Thread)) *thread.Thread {
	c := fw.control(pcpu)
	c.mu.Lock()
	defer c.mu.Unlock()

	idle := thread.NewIdle(pcpu, entry)
	idle.State = thread.Running
	c.idle = idle
	c.current = idle
	c.backend.InitData(idle)
	return idle
}

// InitThread runs t's bound policy's InitData hook exactly once, the way
// the Lifecycle section describes: called when t is created, before its
// first sched_insert.
func (fw *Framework) InitThread(t *thread.Thread, pcpu int) {
	c := fw.control(pcpu)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.InitData(t)
}

// Insert implements sched_insert(t, pcpu) (§4.1, I3): t.HomePCPU must
// equal pcpu and t must not already be queued. Admits t into its home
// pCPU's policy queue and requests a reschedule there.
func (fw *Framework) Insert(t *thread.Thread, pcpu int) {
	assert(t.HomePCPU == pcpu, "I1", fmt.Sprintf("thread %s home pCPU %d != insert target %d", t.Name, t.HomePCPU, pcpu))
	c := fw.control(pcpu)

	c.mu.Lock()
	t.State = thread.Runnable
	c.backend.Insert(t)
	c.qlen++
	qlen := c.qlen
	c.mu.Unlock()

	metrics.SetRunQueueDepth(pcpu, qlen)
	fw.MakeRescheduleRequest(pcpu, t.NotifyMode)
}

// Remove implements sched_remove(t, pcpu) (§4.1): takes t out of its
// policy's queue, releases its policy-private data (the Lifecycle
// section's deinit_data, run as part of destruction rather than as a
// separate step), and requests a reschedule so a removed current thread is
// promptly switched away from.
func (fw *Framework) Remove(t *thread.Thread, pcpu int) {
	c := fw.control(pcpu)

	c.mu.Lock()
	wasQueued := t.State == thread.Runnable
	c.backend.Remove(t)
	c.backend.DeinitData(t)
	if wasQueued {
		c.qlen--
	}
	qlen := c.qlen
	c.mu.Unlock()

	metrics.SetRunQueueDepth(pcpu, qlen)
	fw.MakeRescheduleRequest(pcpu, t.NotifyMode)
}

// Sleep implements sleep(t) (§4.1, I5): removes t from its run-queue and
// marks it BLOCKED. If t is the pCPU's current RUNNING thread, a
// reschedule is requested on its own pCPU using its notify mode (it will
// observe NEED_RESCHEDULE the next time it would otherwise keep running).
func (fw *Framework) Sleep(t *thread.Thread) {
	c := fw.control(t.HomePCPU)

	c.mu.Lock()
	c.backend.Sleep(t)
	wasRunning := t.State == thread.Running
	if !wasRunning {
		c.qlen--
	}
	qlen := c.qlen
	t.State = thread.Blocked
	c.mu.Unlock()

	metrics.SetRunQueueDepth(t.HomePCPU, qlen)
	if wasRunning {
		fw.MakeRescheduleRequest(t.HomePCPU, t.NotifyMode)
	}
}

// Wake implements wake(t) (§4.1): reinserts a BLOCKED t into its policy's
// run-queue, marks it RUNNABLE, and requests a reschedule on its home
// pCPU.
func (fw *Framework) Wake(t *thread.Thread) {
	c := fw.control(t.HomePCPU)

	c.mu.Lock()
	assert(t.State == thread.Blocked, "I5", fmt.Sprintf("wake called on %s with state %s", t.Name, t.State))
	c.backend.Wake(t)
	t.State = thread.Runnable
	c.qlen++
	qlen := c.qlen
	c.mu.Unlock()

	metrics.SetRunQueueDepth(t.HomePCPU, qlen)
	fw.MakeRescheduleRequest(t.HomePCPU, t.NotifyMode)
}

// Poke implements poke(t) (§4.1, S6): if t is RUNNING on another pCPU, a
// notify IPI is sent and nothing else changes. If t is RUNNABLE, its
// policy is given the chance to bump its priority and a reschedule is
// requested on its home pCPU.
func (fw *Framework) Poke(t *thread.Thread) {
	c := fw.control(t.HomePCPU)

	c.mu.Lock()
	switch t.State {
	case thread.Running:
		c.mu.Unlock()
		fw.notify.Notify(t.HomePCPU, t.NotifyMode)
		return
	case thread.Runnable:
		bump := c.backend.Poke(t)
		c.mu.Unlock()
		if bump {
			fw.MakeRescheduleRequest(t.HomePCPU, t.NotifyMode)
		}
	default:
		c.mu.Unlock()
	}
}

// Yield implements yield() (§4.1): called by the current thread on its own
// pCPU to request a reschedule and let its policy adjust ordering.
func (fw *Framework) Yield(pcpu int) {
	c := fw.control(pcpu)

	c.mu.Lock()
	current := c.current
	if current != nil {
		c.backend.Yield(current)
	}
	c.mu.Unlock()

	fw.MakeRescheduleRequest(pcpu, notify.ModeIPI)
}

// NeedReschedule implements need_reschedule(pcpu) (§4.1).
func (fw *Framework) NeedReschedule(pcpu int) bool {
	c := fw.control(pcpu)
	return atomic.LoadUint32(&c.flags)&needReschedule != 0
}

// MakeRescheduleRequest implements make_reschedule_request(pcpu, mode)
// (§4.1): sets NEED_RESCHEDULE on pcpu and delivers a notification to it
// through the Sender using mode. This package has no notion of "the calling
// pCPU" (there is no real execution context to compare against), so the
// notification is sent on every request, including one a pCPU makes for
// itself; there is no local/remote distinction.
func (fw *Framework) MakeRescheduleRequest(pcpu int, mode notify.Mode) {
	c := fw.control(pcpu)
	setFlagBit(&c.flags, needReschedule)
	fw.notify.Notify(pcpu, mode)
	metrics.RescheduleIPI(pcpu, mode.String())
}

// setFlagBit atomically ORs val into the bits at addr.
func setFlagBit(addr *uint32, val uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old|val) {
			return
		}
	}
}

// Schedule implements schedule() (§4.1): the eight-step algorithm run
// whenever a pCPU observes NEED_RESCHEDULE. It returns the thread that was
// selected to run, which in a real stack-switch environment is the point
// execution resumes at when prev is next rescheduled; here it is simply
// the function's result.
func (fw *Framework) Schedule(pcpu int) *thread.Thread {
	c := fw.control(pcpu)

	c.mu.Lock()

	atomic.StoreUint32(&c.flags, c.flags&^needReschedule)

	next := c.backend.PickNext()
	assert(next != nil, "I6", "pick_next returned nil")

	prev := c.current
	assert(prev != nil, "I2", fmt.Sprintf("pCPU %d has no current thread", pcpu))
	if prev.State == thread.Running && prev != next {
		prev.State = thread.Runnable
		c.qlen++
	}

	if next.State == thread.Runnable {
		c.qlen--
	}
	next.State = thread.Running
	c.current = next

	qlen := c.qlen

	if prev == next {
		c.mu.Unlock()
		metrics.SetRunQueueDepth(pcpu, qlen)
		return next
	}

	if prev.SwitchOut != nil {
		prev.SwitchOut(prev)
	}
	if next.SwitchIn != nil {
		next.SwitchIn(next)
	}

	c.mu.Unlock()

	metrics.SetRunQueueDepth(pcpu, qlen)
	metrics.ContextSwitch(pcpu)

	// Step 8, the architecture-specific stack switch between prev.SavedSP
	// and next.SavedSP, is an external collaborator this package has no
	// access to; callers driving a real context switch perform it here,
	// using prev and next's SavedSP fields as the two slots.
	return next
}

// Dump implements a debugging surface the original design exposes as a
// sysfs/monitor entry point (SPEC_FULL.md): a line describing pcpu's
// current thread, NEED_RESCHEDULE state, and its policy's run-queue.
func (fw *Framework) Dump(pcpu int) string {
	c := fw.control(pcpu)
	c.mu.Lock()
	defer c.mu.Unlock()

	need := atomic.LoadUint32(&c.flags)&needReschedule != 0
	return fmt.Sprintf("pCPU %d: policy=%s need_resched=%v current=%s\n  %s",
		pcpu, c.backend.Name(), need, c.current.Name, c.backend.Dump())
}

// PCPUs returns every pCPU that has completed InitSched, sorted.
func (fw *Framework) PCPUs() []int {
	fw.mu.RLock()
	defer fw.mu.RUnlock()
	ids := make([]int, 0, len(fw.controls))
	for id := range fw.controls {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// DumpAll renders Dump for every initialised pCPU, for a fleet-wide
// debugging snapshot.
func (fw *Framework) DumpAll() string {
	var b strings.Builder
	for _, pcpu := range fw.PCPUs() {
		b.WriteString(fw.Dump(pcpu))
		b.WriteString("\n")
	}
	return b.String()
}

// Run executes fn under a top-level recover that turns an AssertionViolation
// panic (any invariant checked by assert) into the
// diagnostic halt §7 describes, instead of letting it unwind as an ordinary
// panic. Call sites are daemon/test harness entry points, not internal
// scheduler code, which is expected to let the panic propagate to here.
func (fw *Framework) Run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if av, ok := r.(*AssertionViolation); ok {
				logger.Fatal("halting: %v", av)
			}
			panic(r)
		}
	}()
	fn()
}
