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
	"fmt"
)

// ConfigError reports a conflicting policy binding, an unknown policy name,
// or an invalid pCPU/affinity combination, discovered while sanitising a
// fleet configuration (§7). It aborts bring-up of the offending VM.
type ConfigError struct {
	PCPU   int
	Reason string
	cause  error
}

func (e *ConfigError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("pCPU %d: %s: %v", e.PCPU, e.Reason, e.cause)
	}
	return fmt.Sprintf("pCPU %d: %s", e.PCPU, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.cause }

func newConfigError(pcpu int, reason string, cause error) *ConfigError {
	return &ConfigError{PCPU: pcpu, Reason: reason, cause: cause}
}

// AssertionViolation reports that an invariant checked by assert has been
// broken. It is a fatal bug: the caller is expected to halt rather than
// attempt recovery.
type AssertionViolation struct {
	Invariant string
	Detail    string
}

func (e *AssertionViolation) Error() string {
	return fmt.Sprintf("assertion violated (%s): %s", e.Invariant, e.Detail)
}

// assert panics with an AssertionViolation if cond is false. Used at the
// handful of points treated as programming errors rather than runtime
// conditions (§7): I1 (insert only on a thread's home pCPU), I2 (a pCPU
// always has a current thread), I5 (only a BLOCKED thread is woken), I6
// (pick_next never returns nil), a pCPU used before InitSched, and the
// sched event single-waiter rule.
func assert(cond bool, invariant, detail string) {
	if !cond {
		panic(&AssertionViolation{Invariant: invariant, Detail: detail})
	}
}
