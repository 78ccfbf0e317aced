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

// Package pcpuset parses and represents the physical-CPU affinity bitmap a
// VM declares (pcpu_bitmap, §6) and derives the single home pCPU each of
// its vCPUs is bound to.
package pcpuset

import (
	"fmt"

	"github.com/intel/pcpu-scheduler/pkg/utils/cpuset"
)

// CPUSet is an alias for this module's own cpuset.CPUSet, itself a thin
// wrapper around k8s.io/utils/cpuset.CPUSet.
type CPUSet = cpuset.CPUSet

var (
	// New is an alias for cpuset.New.
	New = cpuset.New
	// Parse is an alias for cpuset.Parse.
	Parse = cpuset.Parse
)

// MustParse panics if parsing the given cpuset string fails. Used only for
// constants known at compile time (tests, defaults), never on
// collaborator-supplied configuration.
func MustParse(s string) CPUSet {
	cset, err := cpuset.Parse(s)
	if err != nil {
		panic(fmt.Errorf("pcpuset: failed to parse %q: %w", s, err))
	}
	return cset
}

// Short renders a CPUSet the way this module's debug dumps and error
// messages do: more compactly than CPUSet.String() for long strided ranges.
func Short(cset CPUSet) string {
	return cpuset.ShortCPUSet(cset)
}

// HomePCPU resolves a vCPU's declared affinity against the VM's overall
// pcpu_bitmap (§6: "a home pCPU from an affinity bitmap constrained to the
// VM's pcpu_bitmap"). affinity must intersect fleet to exactly one pCPU;
// anything else is a configuration error the caller should surface as a
// ConfigError.
func HomePCPU(affinity, fleet CPUSet) (int, error) {
	constrained := affinity.Intersection(fleet)
	switch constrained.Size() {
	case 0:
		return 0, fmt.Errorf("pcpuset: affinity %s does not intersect fleet %s", Short(affinity), Short(fleet))
	case 1:
		return constrained.List()[0], nil
	default:
		return 0, fmt.Errorf("pcpuset: affinity %s constrained to fleet %s names %d pCPUs, need exactly one",
			Short(affinity), Short(fleet), constrained.Size())
	}
}
