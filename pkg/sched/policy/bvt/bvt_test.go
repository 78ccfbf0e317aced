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

package bvt_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intel/pcpu-scheduler/pkg/log"
	"github.com/intel/pcpu-scheduler/pkg/sched/clock"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy"
	"github.com/intel/pcpu-scheduler/pkg/sched/policy/bvt"
	"github.com/intel/pcpu-scheduler/pkg/sched/thread"
)

// fakeContext is a minimal policy.Context for exercising a single Backend
// in isolation, without bringing up a whole Framework.
type fakeContext struct {
	pcpu    int
	clock   clock.Cycles
	idle    *thread.Thread
	current *thread.Thread
	logger  log.Logger
}

func (f *fakeContext) PCPU() int               { return f.pcpu }
func (f *fakeContext) Current() *thread.Thread { return f.current }
func (f *fakeContext) Clock() clock.Cycles     { return f.clock }
func (f *fakeContext) NewTimer() clock.Timer   { return f.clock.(*clock.Fake).NewTimer() }
func (f *fakeContext) Idle() *thread.Thread    { return f.idle }
func (f *fakeContext) RequestReschedule()      {}
func (f *fakeContext) Logger() log.Logger      { return f.logger }

func newFakeContext(fk *clock.Fake) *fakeContext {
	idle := thread.NewIdle(0, func(*thread.Thread) {})
	return &fakeContext{pcpu: 0, clock: fk, idle: idle, current: idle, logger: log.NewLogger("bvt-test")}
}

var _ policy.Context = (*fakeContext)(nil)

// TestBVTPicksLowestEVTFirst covers P6: among equal-weight threads, the one
// with the smallest effective virtual time runs first.
func TestBVTPicksLowestEVTFirst(t *testing.T) {
	fk := clock.NewFake()
	ctx := newFakeContext(fk)
	b := bvt.New(0, 0)().(*bvt.Backend)
	b.Init(ctx)

	a := thread.New("a", 0, nil)
	c := thread.New("c", 0, nil)
	b.InitData(a)
	b.InitData(c)
	b.Insert(a)
	b.Insert(c)

	next := b.PickNext()
	assert.Equal(t, "a", next.Name)
}

// TestBVTRotatesToLaggingEVT covers P6: once the running thread's avt (and
// so evt) advances past a queued thread's, the next pick_next favours the
// thread that has accrued the least virtual time.
func TestBVTRotatesToLaggingEVT(t *testing.T) {
	fk := clock.NewFake()
	ctx := newFakeContext(fk)
	b := bvt.New(time.Microsecond, 0)().(*bvt.Backend)
	b.Init(ctx)

	a := thread.New("a", 0, nil)
	c := thread.New("c", 0, nil)
	b.InitData(a)
	b.InitData(c)
	b.Insert(a)
	b.Insert(c)

	first := b.PickNext()
	require.Equal(t, "a", first.Name)
	ctx.current = first

	fk.Advance(100 * time.Microsecond)
	second := b.PickNext()
	assert.Equal(t, "c", second.Name, "a's advanced avt should yield the front to c")
}

// TestBVTSetWeightSurvivesDispatch covers that a non-default mcu_ratio
// (weight) set before insertion is honoured through pick_next without
// upsetting evt ordering against an unweighted peer.
func TestBVTSetWeightSurvivesDispatch(t *testing.T) {
	fk := clock.NewFake()
	ctx := newFakeContext(fk)
	b := bvt.New(time.Microsecond, 0)().(*bvt.Backend)
	b.Init(ctx)

	heavy := thread.New("heavy", 0, nil)
	light := thread.New("light", 0, nil)
	b.InitData(heavy)
	b.InitData(light)
	b.SetWeight(heavy, 0.5)

	b.Insert(heavy)
	b.Insert(light)

	next := b.PickNext()
	assert.Equal(t, "heavy", next.Name, "equal evt at admission falls back to insertion order")
}

// TestBVTAdmitClampsAvtUpToSVT covers the admit-time clamp: a thread that
// has been sitting idle cannot claim a stale, far-behind avt once admitted.
func TestBVTAdmitClampsAvtUpToSVT(t *testing.T) {
	fk := clock.NewFake()
	ctx := newFakeContext(fk)
	b := bvt.New(time.Microsecond, 0)().(*bvt.Backend)
	b.Init(ctx)

	a := thread.New("a", 0, nil)
	b.InitData(a)
	b.Insert(a)
	ctx.current = a

	fk.Advance(time.Millisecond)
	b.PickNext() // accrues a's avt forward

	late := thread.New("late", 0, nil)
	b.InitData(late)
	b.Insert(late) // late's avt starts at 0, should clamp up to svt

	assert.Contains(t, b.Dump(), "late(evt=1000,avt=1000)")
}
