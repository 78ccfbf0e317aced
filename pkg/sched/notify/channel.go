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

package notify

import "sync"

// Delivery is one notification as observed by a ChannelSender consumer.
type Delivery struct {
	PCPU int
	Mode Mode
}

// ChannelSender is a Sender backed by one buffered channel per pCPU. There
// is no real cross-core IPI line to program from a single process; this
// stands in for it for callers that want to observe deliveries instead of
// only their side effects.
type ChannelSender struct {
	mu   sync.Mutex
	chs  map[int]chan Delivery
	size int
}

// NewChannelSender creates a ChannelSender whose per-pCPU channels buffer up
// to size pending deliveries.
func NewChannelSender(size int) *ChannelSender {
	if size < 1 {
		size = 1
	}
	return &ChannelSender{chs: make(map[int]chan Delivery), size: size}
}

// Channel returns (creating if necessary) the delivery channel for pcpu.
func (c *ChannelSender) Channel(pcpu int) <-chan Delivery {
	return c.channel(pcpu)
}

func (c *ChannelSender) channel(pcpu int) chan Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chs[pcpu]
	if !ok {
		ch = make(chan Delivery, c.size)
		c.chs[pcpu] = ch
	}
	return ch
}

// Notify implements Sender. A full channel drops the notification rather
// than blocking the caller: NEED_RESCHEDULE is already set by the framework
// before Notify is called, so a dropped signal only delays, never loses, the
// eventual reschedule on the target pCPU.
func (c *ChannelSender) Notify(pcpu int, mode Mode) {
	ch := c.channel(pcpu)
	select {
	case ch <- Delivery{PCPU: pcpu, Mode: mode}:
	default:
	}
}
