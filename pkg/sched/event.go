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
	"sync"

	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// Event is the sched event primitive (§4.6): a lock, a set flag, and at
// most one registered waiter. It is the scheduler's only suspension point
// besides Sleep itself, used by collaborators that need "block until some
// condition becomes true" without building their own wait queue.
//
// E.lock may be acquired before a pCPU's control-block lock but never
// while one is held (§5's lock-ordering rule) — Wait and Signal call into
// the Framework only after releasing E.lock.
type Event struct {
	fw     *Framework
	mu     sync.Mutex
	set    bool
	waiter *thread.Thread
}

// NewEvent creates a sched event bound to fw, the Framework whose
// Sleep/Wake/Schedule it calls from Wait and Signal.
func (fw *Framework) NewEvent() *Event {
	return &Event{fw: fw}
}

// Wait implements wait_event(E) (§4.6): registers self as the waiter, then
// blocks (via repeated Sleep/Schedule) until Signal or Reset runs. Exactly
// one thread may be waiting on E at a time; a second concurrent Wait is an
// AssertionViolation.
func (e *Event) Wait(self *thread.Thread) {
	e.mu.Lock()
	assert(e.waiter == nil, "sched-event-single-waiter", "wait_event called with an existing waiter")
	e.waiter = self
	e.mu.Unlock()

	for {
		e.mu.Lock()
		if e.set || e.waiter != self {
			break
		}
		e.mu.Unlock()

		e.fw.Sleep(self)
		e.fw.Schedule(self.HomePCPU)
	}

	e.set = false
	e.waiter = nil
	e.mu.Unlock()
}

// Signal implements signal_event(E) (§4.6): sets E.set and wakes the
// waiter, if any. Repeated signals before a Wait all collapse to the same
// boolean; there is no coalescing count.
func (e *Event) Signal() {
	e.mu.Lock()
	e.set = true
	waiter := e.waiter
	e.mu.Unlock()

	if waiter != nil {
		e.fw.Wake(waiter)
	}
}

// Reset implements reset_event(E) (§4.6): clears set and the waiter
// pointer unconditionally.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = false
	e.waiter = nil
}
