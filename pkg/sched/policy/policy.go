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

// Package policy declares the per-pCPU scheduling policy vtable (§2, §4)
// and the named registry every concrete policy (round-robin, BVT, CFS,
// monopoly/noop) registers itself under.
package policy

import (
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// TimerArmFailure reports that the underlying timer subsystem refused to
// arm a policy's tick or sched_timer (§7). It is logged and the affected
// pCPU continues without preemption, degraded but correct for cooperative
// threads; it is never fatal.
type TimerArmFailure struct {
	PCPU  int
	cause error
}

func (e *TimerArmFailure) Error() string {
	return fmt.Sprintf("pCPU %d: timer arm failed: %v", e.PCPU, e.cause)
}

func (e *TimerArmFailure) Unwrap() error { return e.cause }

// NewTimerArmFailure wraps cause from a failed Timer.Arm call into a
// TimerArmFailure, preserving it for errors.Is/errors.As the same way
// sched.ConfigError preserves its own cause.
func NewTimerArmFailure(pcpu int, cause error) *TimerArmFailure {
	return &TimerArmFailure{PCPU: pcpu, cause: pkgerrors.Wrap(cause, "timer arm")}
}

// Context is the per-pCPU handle a Backend is given at Init time. It is the
// policy's only window onto the framework: the clock to read, a timer
// facility to arm, the idle thread to fall back to, and the hook to request
// a reschedule on its own pCPU when a tick decides one is due.
type Context interface {
	// PCPU is the physical CPU this policy instance is bound to.
	PCPU() int
	// Current returns this pCPU's currently RUNNING thread (C.current),
	// the way §4.1's pick_next(C) algorithm reads it.
	Current() *thread.Thread
	// Clock is the monotonic cycle source driving virtual-time policies.
	Clock() clock.Cycles
	// NewTimer allocates a Timer for this pCPU's tick/sched_timer use.
	NewTimer() clock.Timer
	// Idle returns this pCPU's idle thread, the fallback pick_next result.
	Idle() *thread.Thread
	// RequestReschedule sets NEED_RESCHEDULE on this policy's own pCPU,
	// for use from tick and timer callbacks.
	RequestReschedule()
	// Logger returns the framework's logger (the "sched" source, shared by
	// every pCPU).
	Logger() log.Logger
}

// Backend is the per-pCPU policy vtable (§2): a named set of callbacks
// implemented identically by every policy, so call sites never need to
// null-check a missing hook (§9).
type Backend interface {
	// Name returns this policy's registered name.
	Name() string
	// Init lays out the policy's private per-pCPU control block. Called
	// once per pCPU, before any thread is inserted.
	Init(ctx Context)
	// InitData lays out t's policy-private data. Called once, before t is
	// first inserted.
	InitData(t *thread.Thread)
	// DeinitData releases t's policy-private data after sched_remove.
	DeinitData(t *thread.Thread)
	// PickNext returns the thread that should run next (I6); infallible,
	// returns the idle thread if nothing else is runnable (§7).
	PickNext() *thread.Thread
	// Sleep removes t from the run-queue.
	Sleep(t *thread.Thread)
	// Wake reinserts a previously sleeping t.
	Wake(t *thread.Thread)
	// Yield lets the current thread (t) give up its remaining claim on the
	// pCPU for this round, without changing its state.
	Yield(t *thread.Thread)
	// Poke is called when some caller wants t to notice new work without a
	// full wake/sleep transition; it reports whether a reschedule on t's
	// pCPU should be requested (§4.1, S6).
	Poke(t *thread.Thread) bool
	// Insert admits a newly runnable t into the run-queue (I3).
	Insert(t *thread.Thread)
	// Remove takes t out of the run-queue, e.g. at sched_remove.
	Remove(t *thread.Thread)
	// Dump renders the policy's run-queue state for debugging.
	Dump() string
}

// CreateFn creates a fresh Backend instance, one per pCPU that binds this
// policy.
type CreateFn func() Backend

type registration struct {
	name        string
	description string
	create      CreateFn
}

var (
	mu       sync.Mutex
	registry = map[string]*registration{}
)

// Register adds a named policy to the registry. It panics on a duplicate
// name, a programming error caught at package-init time.
func Register(name, description string, create CreateFn) {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("policy: %q already registered", name))
	}
	registry[name] = &registration{name: name, description: description, create: create}
}

// Create instantiates a fresh Backend for the named policy. Unknown names
// are a configuration error (§6), reported to the caller rather than
// panicking.
func Create(name string) (Backend, error) {
	mu.Lock()
	r, ok := registry[name]
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("policy: unknown policy %q", name)
	}
	return r.create(), nil
}

// Names returns every registered policy name, sorted.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the description of the named policy, or "" if unknown.
func Describe(name string) string {
	mu.Lock()
	defer mu.Unlock()
	if r, ok := registry[name]; ok {
		return r.description
	}
	return ""
}
