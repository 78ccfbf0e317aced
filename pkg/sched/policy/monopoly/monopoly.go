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

// Package monopoly implements the sched_noop policy (§4.5): a pCPU bound to
// it runs exactly one thread for as long as that thread is runnable, never
// switching it out for any other (S5).
package monopoly

import (
	"fmt"

	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// Name is the policy name used in configuration and the registry (§6).
const Name = "sched_noop"

// AltName is the same policy under its other §6-documented spelling; §4.5's
// scenario S5 refers to this policy as "monopoly", and a fleet config may
// name either "sched_noop" or "sched_mono".
const AltName = "sched_mono"

// Backend implements policy.Backend for the monopoly policy.
type Backend struct {
	ctx  policy.Context
	slot *thread.Thread
}

// New creates a monopoly backend.
func New() policy.CreateFn {
	return func() policy.Backend { return &Backend{} }
}

func init() {
	policy.Register(Name, "single-slot policy that never switches its thread out", New())
	policy.Register(AltName, "single-slot policy that never switches its thread out", New())
}

// Name implements policy.Backend.
func (b *Backend) Name() string { return Name }

// Init implements policy.Backend.
func (b *Backend) Init(ctx policy.Context) { b.ctx = ctx }

// InitData implements policy.Backend; monopoly carries no per-thread state.
func (b *Backend) InitData(t *thread.Thread) {}

// DeinitData implements policy.Backend.
func (b *Backend) DeinitData(t *thread.Thread) {}

// PickNext implements policy.Backend: return the bound thread if it is
// still runnable, the idle thread otherwise.
func (b *Backend) PickNext() *thread.Thread {
	if b.slot != nil {
		return b.slot
	}
	return b.ctx.Idle()
}

// Sleep implements policy.Backend: the slot empties; only its own thread
// sleeping can do this.
func (b *Backend) Sleep(t *thread.Thread) {
	if b.slot == t {
		b.slot = nil
	}
}

// Wake implements policy.Backend.
func (b *Backend) Wake(t *thread.Thread) {
	b.Insert(t)
}

// Yield implements policy.Backend: a no-op, there is nothing else to run.
func (b *Backend) Yield(t *thread.Thread) {}

// Poke implements policy.Backend: the bound thread is already the only
// candidate, so a poke requests a reschedule for any RUNNABLE thread and
// for nothing else.
func (b *Backend) Poke(t *thread.Thread) bool {
	return t.State == thread.Runnable
}

// Insert implements policy.Backend (S5): the slot is claimed by the first
// thread bound to this pCPU and never displaced by a later one.
func (b *Backend) Insert(t *thread.Thread) {
	if b.slot == nil {
		b.slot = t
	}
}

// Remove implements policy.Backend.
func (b *Backend) Remove(t *thread.Thread) {
	if b.slot == t {
		b.slot = nil
	}
}

// Dump implements policy.Backend.
func (b *Backend) Dump() string {
	if b.slot == nil {
		return "sched_noop: [empty]"
	}
	return fmt.Sprintf("sched_noop: [%s]", b.slot.Name)
}
