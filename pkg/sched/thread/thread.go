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

// Package thread defines the schedulable entity the framework and every
// policy operate on. A Thread is opaque to the framework beyond its state
// and home pCPU: everything policy-specific lives behind Data, owned and
// type-asserted exclusively by the bound policy.
package thread

import "github.com/intel/pcpu-scheduler/pkg/sched/notify"

// State is a thread's position in the scheduling state machine.
type State int

const (
	// Unknown is the zero value; never a valid state once a thread is in use.
	Unknown State = iota
	// Running is the single per-pCPU state held by Control.Current.
	Running
	// Runnable (aka waiting) means present in exactly one policy run-queue.
	Runnable
	// Blocked (aka sleeping) means absent from every run-queue.
	Blocked
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Runnable:
		return "runnable"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Thread is a schedulable entity: primarily a vCPU, plus one per-pCPU idle
// thread. Its home pCPU is fixed for its entire lifetime (I1); every other
// field is mutated only while the owning pCPU's control-block lock is held.
type Thread struct {
	// Name is a short, human-readable identifier, not used for identity.
	Name string
	// HomePCPU is the physical CPU this thread is bound to at creation.
	HomePCPU int
	// Entry is the thread's start function, never expected to return. The
	// framework stores it but does not call it; starting the thread is left
	// to the caller that performs the actual context switch.
	Entry func(*Thread)
	// SavedSP is the host stack pointer saved across context switches. The
	// actual stack-switch primitive is an external, architecture-specific
	// collaborator; this field is just the opaque slot it reads and writes.
	SavedSP uintptr
	// State is this thread's current scheduling state.
	State State
	// NotifyMode selects which cross-CPU delivery mode forces this thread
	// out when a reschedule must be requested on a remote pCPU.
	NotifyMode notify.Mode
	// SwitchIn, if set, is called while holding the scheduler lock
	// immediately before this thread is switched onto its pCPU.
	SwitchIn func(*Thread)
	// SwitchOut, if set, is called while holding the scheduler lock
	// immediately after this thread is switched off its pCPU.
	SwitchOut func(*Thread)
	// Data is policy-private state (run-queue link, virtual-time counters,
	// time slice, ...). Only the bound policy ever reads or writes it.
	Data interface{}

	// idle marks the one statically-owned, never-enqueued thread per pCPU.
	idle bool
}

// New creates a thread bound to pcpu with the given entry point.
func New(name string, pcpu int, entry func(*Thread)) *Thread {
	return &Thread{
		Name:     name,
		HomePCPU: pcpu,
		Entry:    entry,
		State:    Unknown,
	}
}

// NewIdle creates the idle thread for pcpu. The idle thread is never
// enqueued by a policy and never transitions to Blocked (I7).
func NewIdle(pcpu int, entry func(*Thread)) *Thread {
	t := New("idle", pcpu, entry)
	t.idle = true
	return t
}

// IsIdle reports whether t is its pCPU's idle thread.
func (t *Thread) IsIdle() bool {
	return t != nil && t.idle
}
