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

// Package clock factors the time-stamp-counter reads and tick/one-shot
// timer facility that §6 of the scheduler's external interfaces lists as
// collaborators out of the policies that consume them, so that round-robin,
// BVT, and CFS can be driven deterministically under test.
package clock

import "time"

// Cycles is a monotonic cycle counter, standing in for a TSC read.
type Cycles interface {
	// Now returns the current cycle count. Only differences between two
	// Now() calls are meaningful.
	Now() uint64
	// CyclesToDuration converts a cycle delta to a time.Duration.
	CyclesToDuration(cycles uint64) time.Duration
	// DurationToCycles converts a time.Duration to a cycle delta.
	DurationToCycles(d time.Duration) uint64
}

// TimerFunc is called when an armed Timer fires.
type TimerFunc func()

// Timer is a one-shot timer facility: arm, cancel, callback. A periodic
// tick is built by re-arming from the callback. When Arm returns an error,
// the calling policy reports it as a policy.TimerArmFailure (§7) and the
// scheduler degrades to running without preemption rather than treating it
// as fatal.
type Timer interface {
	// Arm schedules fn to run once, after d elapses. A second Arm call
	// replaces any pending fire.
	Arm(d time.Duration, fn TimerFunc) error
	// Cancel prevents a pending fire from happening. It is a no-op if
	// nothing is armed.
	Cancel()
}
