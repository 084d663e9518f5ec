// Copyright (C) 2013-2026 the sheepdog-cluster-driver contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package cluster

import (
	"fmt"
	"sync/atomic"
)

// LeaveChannel is a bounded single-producer/single-consumer ring buffer of
// pending LEAVE events, fed by member-znode deletion watches and drained by
// the dispatcher ahead of the main queue under the rules in §4.4. The
// producer side runs on the coordination client's watcher goroutine; the
// consumer side runs on the dispatcher goroutine. Synchronization is a pair
// of atomic counters with release/acquire semantics (§5), not a mutex,
// because the two sides never need to block each other beyond "is there
// room" / "is there data".
type LeaveChannel struct {
	slots []NodeID
	head  uint64 // atomic, next slot to write (producer-owned)
	tail  uint64 // atomic, next slot to read (consumer-owned)
}

// NewLeaveChannel returns a ring buffer sized to hold up to capacity pending
// leaves, matching the cluster's configured member cap.
func NewLeaveChannel(capacity int) *LeaveChannel {
	if capacity < 1 {
		capacity = 1
	}
	return &LeaveChannel{slots: make([]NodeID, capacity)}
}

// PushLeave records a pending leave for node. Called from the watcher
// goroutine only. Returns an error if the ring is full, which would indicate
// the dispatcher has fallen far behind or the configured capacity is too
// small for the cluster's member cap.
func (lc *LeaveChannel) PushLeave(node NodeID) error {
	head := atomic.LoadUint64(&lc.head)
	tail := atomic.LoadUint64(&lc.tail)
	if head-tail >= uint64(len(lc.slots)) {
		return fmt.Errorf("cluster: leave channel full (capacity %d)", len(lc.slots))
	}
	cp := make(NodeID, len(node))
	copy(cp, node)
	lc.slots[head%uint64(len(lc.slots))] = cp
	atomic.StoreUint64(&lc.head, head+1) // release: publishes the slot write above
	return nil
}

// Len returns the number of pending leaves. Safe to call from the dispatcher
// goroutine; may undercount transiently if called concurrently with a push,
// which is fine since it's only used to decide whether to keep draining.
func (lc *LeaveChannel) Len() int {
	head := atomic.LoadUint64(&lc.head) // acquire: pairs with the release in PushLeave
	tail := atomic.LoadUint64(&lc.tail)
	return int(head - tail)
}

// Pop removes and returns the oldest pending leave. Called from the
// dispatcher goroutine only. ok is false if the channel is empty.
func (lc *LeaveChannel) Pop() (node NodeID, ok bool) {
	head := atomic.LoadUint64(&lc.head) // acquire
	tail := atomic.LoadUint64(&lc.tail)
	if tail >= head {
		return nil, false
	}
	node = lc.slots[tail%uint64(len(lc.slots))]
	atomic.StoreUint64(&lc.tail, tail+1)
	return node, true
}
