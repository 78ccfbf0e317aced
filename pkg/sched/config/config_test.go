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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	schedcfg "github.com/intel/pcpu-scheduler/pkg/sched/config"
	"github.com/intel/pcpu-scheduler/pkg/sched/pcpuset"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/cfs"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/roundrobin"
)

func TestSanitiseResolvesHomePCPUPerVCPU(t *testing.T) {
	fleet := pcpuset.New(0, 1)
	vms := []schedcfg.VM{
		{
			Name:       "vm0",
			PCPUBitmap: fleet,
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_rr"},
				{Name: "vcpu1", Affinity: pcpuset.New(1), Policy: "sched_rr"},
			},
		},
	}

	bindings, err := schedcfg.Sanitise(vms)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	assert.Equal(t, 0, bindings[0].PCPU)
	assert.Equal(t, 1, bindings[1].PCPU)
}

func TestSanitiseRejectsAffinityOutsideFleet(t *testing.T) {
	vms := []schedcfg.VM{
		{
			Name:       "vm0",
			PCPUBitmap: pcpuset.New(0, 1),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(5), Policy: "sched_rr"},
			},
		},
	}

	bindings, err := schedcfg.Sanitise(vms)
	assert.Nil(t, bindings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vm0")
	assert.Contains(t, err.Error(), "vcpu0")
}

// TestSanitiseRejectsConflictingPolicyOnSharedPCPU covers the §6 rule that a
// given pCPU must have a single bound policy across every VM that lands on
// it; two VMs both resolving to pCPU 0 with different policies must be
// reported, not silently resolved in favour of whichever came first.
func TestSanitiseRejectsConflictingPolicyOnSharedPCPU(t *testing.T) {
	vms := []schedcfg.VM{
		{
			Name:       "vm0",
			PCPUBitmap: pcpuset.New(0),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_rr"},
			},
		},
		{
			Name:       "vm1",
			PCPUBitmap: pcpuset.New(0),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_cfs"},
			},
		},
	}

	bindings, err := schedcfg.Sanitise(vms)
	assert.Nil(t, bindings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting policy binding")
	assert.Contains(t, err.Error(), "vm0/vcpu0")
	assert.Contains(t, err.Error(), "vm1/vcpu0")
}

// TestSanitiseRejectsUnknownPolicy covers the §6 rule that a policy name is
// validated against the registry at sanitise-configuration time, rather than
// surfacing as a panic or an unrelated error once the binding reaches
// Framework.SetScheduler.
func TestSanitiseRejectsUnknownPolicy(t *testing.T) {
	vms := []schedcfg.VM{
		{
			Name:       "vm0",
			PCPUBitmap: pcpuset.New(0),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_bogus"},
			},
		},
	}

	bindings, err := schedcfg.Sanitise(vms)
	assert.Nil(t, bindings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vm0/vcpu0")
	assert.Contains(t, err.Error(), "unknown policy")
	assert.Contains(t, err.Error(), "sched_bogus")
}

// TestSanitiseAllowsSamePolicyFromMultipleVMsOnSamePCPU covers the same rule
// from the other side: identical policy names bound to the same pCPU by
// different VMs is not a conflict.
func TestSanitiseAllowsSamePolicyFromMultipleVMsOnSamePCPU(t *testing.T) {
	vms := []schedcfg.VM{
		{
			Name:       "vm0",
			PCPUBitmap: pcpuset.New(0),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_rr"},
			},
		},
		{
			Name:       "vm1",
			PCPUBitmap: pcpuset.New(0),
			VCPUs: []schedcfg.VCPU{
				{Name: "vcpu0", Affinity: pcpuset.New(0), Policy: "sched_rr"},
			},
		},
	}

	bindings, err := schedcfg.Sanitise(vms)
	require.NoError(t, err)
	assert.Len(t, bindings, 2)
}
