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

// Package config decodes and validates the per-VM, per-vCPU configuration a
// fleet supplies: each vCPU's affinity bitmap constrained to its VM's
// pcpu_bitmap (§6), and the policy name bound to the pCPU it resolves to.
// Policy tunables (round-robin slice, BVT context-switch allowance, CFS
// period) are registered into pkg/config the same way the rest of this
// module's runtime knobs are.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/pcpu-scheduler/pkg/config"
	"github.com/intel/pcpu-scheduler/pkg/log"
	sched "github.com/intel/pcpu-scheduler/pkg/sched"
	"github.com/intel/pcpu-scheduler/pkg/sched/pcpuset"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
)

var logger = log.NewLogger("sched-config")

// VCPU is one vCPU declaration from a VM's configuration: its affinity
// bitmap and the policy name its home pCPU should run.
type VCPU struct {
	Name     string
	Affinity pcpuset.CPUSet
	Policy   string
}

// VM is a fleet member's declared vCPUs and the pcpu_bitmap they must be
// constrained to (§6).
type VM struct {
	Name       string
	PCPUBitmap pcpuset.CPUSet
	VCPUs      []VCPU
}

// Binding is one vCPU's resolved home pCPU and bound policy, the shape
// Framework.SetScheduler/Insert ultimately consume.
type Binding struct {
	VM     string
	VCPU   string
	PCPU   int
	Policy string
}

// Tunables holds the policy parameters a fleet config may set; zero values
// mean "use the policy's compiled-in default". They are decoded from the
// "sched" key and logged, but no policy backend reads them: every policy
// runs with its compiled-in defaults.
type Tunables struct {
	RoundRobinSlice      time.Duration `json:"roundRobinSlice,omitempty"`
	BVTMCU               time.Duration `json:"bvtMCU,omitempty"`
	BVTContextSwitchCost time.Duration `json:"bvtContextSwitchCost,omitempty"`
	CFSPeriod            time.Duration `json:"cfsPeriod,omitempty"`
}

func defaultTunables() interface{} { return &Tunables{} }

// Module is this package's pkg/config registration, decoded from the
// "sched" top-level key of a loaded YAML document.
var Module = config.Register("sched", "pCPU scheduler policy tunables", &Tunables{}, defaultTunables,
	config.WithNotify(func(event config.Event, source config.Source) error {
		logger.Info("tunables %s from %s", event, source)
		return nil
	}),
)

// Sanitise resolves every VM's vCPU affinities against their pcpu_bitmap,
// checks every requested policy name against the registry, and validates
// that no pCPU is bound to two different policy names across the whole
// fleet (§6, §7). It returns the resolved bindings and a single aggregated
// error (via multierror) describing every problem found, rather than
// stopping at the first, with each problem reported as a sched.ConfigError
// so callers can distinguish it from other failure kinds via errors.As.
func Sanitise(vms []VM) ([]Binding, error) {
	var result *multierror.Error
	bound := map[int]string{} // pcpu -> first policy name bound to it, plus owner for diagnostics
	owner := map[int]string{} // pcpu -> "vm/vcpu" that first bound it

	var bindings []Binding
	for _, vm := range vms {
		for _, vcpu := range vm.VCPUs {
			id := fmt.Sprintf("%s/%s", vm.Name, vcpu.Name)

			if policy.Describe(vcpu.Policy) == "" {
				result = multierror.Append(result, &sched.ConfigError{
					Reason: fmt.Sprintf("%s: unknown policy %q", id, vcpu.Policy),
				})
				continue
			}

			pcpu, err := pcpuset.HomePCPU(vcpu.Affinity, vm.PCPUBitmap)
			if err != nil {
				result = multierror.Append(result, &sched.ConfigError{
					Reason: fmt.Sprintf("%s: %v", id, err),
				})
				continue
			}

			if existing, ok := bound[pcpu]; ok && existing != vcpu.Policy {
				result = multierror.Append(result, &sched.ConfigError{
					PCPU: pcpu,
					Reason: fmt.Sprintf("conflicting policy binding: %s already bound %q, %s requests %q",
						owner[pcpu], existing, id, vcpu.Policy),
				})
				continue
			}
			bound[pcpu] = vcpu.Policy
			owner[pcpu] = id

			bindings = append(bindings, Binding{VM: vm.Name, VCPU: vcpu.Name, PCPU: pcpu, Policy: vcpu.Policy})
		}
	}

	if result != nil {
		return nil, result.ErrorOrNil()
	}
	return bindings, nil
}
