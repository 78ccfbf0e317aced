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

// schedsimd is a demo daemon that brings up a small fleet of simulated
// vCPU threads over a handful of pCPUs, drives them with the real wall-clock
// framework, and exposes /metrics and /debug/sched for observation.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/apimachinery/pkg/util/wait"

	sched "github.com/intel/pcpu-scheduler/pkg/sched"
	schedcfg "github.com/intel/pcpu-scheduler/pkg/sched/config"
	"github.com/intel/pcpu-scheduler/pkg/sched/metrics"
	"github.com/intel/pcpu-scheduler/pkg/sched/notify"
	"github.com/intel/pcpu-scheduler/pkg/sched/pcpuset"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/bvt"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/cfs"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/monopoly"
	_ "github.com/intel/pcpu-scheduler/pkg/sched/policy/roundrobin"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"

	configpkg "github.com/intel/pcpu-scheduler/pkg/config"
	logger "github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/version"
)

var log = logger.NewLogger("schedsimd")

func main() {
	listPolicies := flag.Bool("list-policies", false, "List available scheduling policies.")
	addr := flag.String("http", ":9420", "Address to serve /metrics and /debug/sched on.")
	fleetSize := flag.Int("pcpus", 2, "Number of pCPUs to simulate.")
	tick := flag.Duration("tick", 2*time.Millisecond, "Simulated TSC tick granularity.")
	flag.Parse()

	if *listPolicies {
		fmt.Printf("Available policies:\n")
		for _, name := range policy.Names() {
			fmt.Printf("  * %s: %s\n", name, policy.Describe(name))
		}
		os.Exit(0)
	}
	if args := flag.Args(); len(args) > 0 {
		log.Error("unknown command line arguments: %s", strings.Join(args, ","))
		flag.Usage()
		os.Exit(1)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1)
	log.Info("schedsimd (version %s, build %s) starting...", version.Version, version.Build)

	if err := configpkg.Reset(); err != nil {
		log.Fatal("failed to load default configuration: %v", err)
	}

	fw := sched.NewWallClockFramework(notify.SenderFunc(func(pcpu int, mode notify.Mode) {
		log.Debug("pCPU %d: notify %s delivered", pcpu, mode)
	}))

	fleet := pcpuset.New(intRange(*fleetSize)...)

	names := policy.Names()
	if len(names) == 0 {
		log.Fatal("no scheduling policies registered")
	}

	for pcpu := 0; pcpu < *fleetSize; pcpu++ {
		name := names[pcpu%len(names)]
		if err := fw.SetScheduler(pcpu, name); err != nil {
			log.Fatal("pCPU %d: %v", pcpu, err)
		}
		if err := fw.InitSched(pcpu); err != nil {
			log.Fatal("pCPU %d: %v", pcpu, err)
		}
		fw.BringUp(pcpu, func(*thread.Thread) {})
		log.Info("pCPU %d: running %s", pcpu, name)
	}

	vms := simulatedFleet(*fleetSize, fleet)
	bindings, err := schedcfg.Sanitise(vms)
	if err != nil {
		log.Fatal("fleet configuration rejected: %v", err)
	}

	var wg sync.WaitGroup
	for _, b := range bindings {
		t := thread.New(b.VM+"/"+b.VCPU, b.PCPU, func(*thread.Thread) {})
		fw.InitThread(t, b.PCPU)
		fw.Insert(t, b.PCPU)
		log.Info("%s bound to pCPU %d running %s", t.Name, b.PCPU, b.Policy)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/sched", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fw.DumpAll())
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited: %v", err)
		}
	}()
	log.Info("serving /metrics and /debug/sched on %s", *addr)

	fw.Run(func() {
		wait.PollInfinite(*tick, func() (bool, error) {
			for _, pcpu := range fw.PCPUs() {
				if fw.NeedReschedule(pcpu) {
					fw.Schedule(pcpu)
				}
			}
			return false, nil
		})
	})
}

func intRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// simulatedFleet builds a toy VM configuration: one vCPU per pCPU, each
// pinned to exactly that pCPU and bound to the same policy main gave that
// pCPU (the sorted registered policy names, cycled), purely to give
// schedsimd something to dump and export metrics for.
func simulatedFleet(n int, fleet pcpuset.CPUSet) []schedcfg.VM {
	vm := schedcfg.VM{Name: "vm0", PCPUBitmap: fleet}
	for pcpu := 0; pcpu < n; pcpu++ {
		vm.VCPUs = append(vm.VCPUs, schedcfg.VCPU{
			Name:     fmt.Sprintf("vcpu%d", pcpu),
			Affinity: pcpuset.New(pcpu),
			Policy:   policy.Names()[pcpu%len(policy.Names())],
		})
	}
	return []schedcfg.VM{vm}
}
