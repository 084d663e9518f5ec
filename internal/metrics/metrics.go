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

// Package metrics holds the small set of in-process counters a Driver
// exposes through Stats(), supplemental to the core spec (§4.9). There is no
// external metrics backend here: just plain atomics a caller can poll, the
// same role the teacher's own periodic status-line logging plays for the
// embedded etcd server.
package metrics

import "sync/atomic"

// Stats is a set of lock-free counters and gauges updated by the dispatcher
// goroutine and readable from any goroutine via Snapshot.
type Stats struct {
	eventsDelivered    atomic.Uint64
	joinsAccepted      atomic.Uint64
	joinsRejected      atomic.Uint64
	leavesDelivered    atomic.Uint64
	notifiesDelivered  atomic.Uint64
	blockEntries       atomic.Uint64
	cursor             atomic.Int64
	memberCount        atomic.Int64
	leaveChannelDepth  atomic.Int64
	blocked            atomic.Bool
}

// Snapshot is a point-in-time copy of Stats, safe to read without further
// synchronization.
type Snapshot struct {
	EventsDelivered   uint64
	JoinsAccepted     uint64
	JoinsRejected     uint64
	LeavesDelivered   uint64
	NotifiesDelivered uint64
	BlockEntries      uint64
	Cursor            int64
	MemberCount       int64
	LeaveChannelDepth int64
	Blocked           bool
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot reads every counter into a Snapshot.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		EventsDelivered:   s.eventsDelivered.Load(),
		JoinsAccepted:     s.joinsAccepted.Load(),
		JoinsRejected:     s.joinsRejected.Load(),
		LeavesDelivered:   s.leavesDelivered.Load(),
		NotifiesDelivered: s.notifiesDelivered.Load(),
		BlockEntries:      s.blockEntries.Load(),
		Cursor:            s.cursor.Load(),
		MemberCount:       s.memberCount.Load(),
		LeaveChannelDepth: s.leaveChannelDepth.Load(),
		Blocked:           s.blocked.Load(),
	}
}

func (s *Stats) RecordDelivered()      { s.eventsDelivered.Add(1) }
func (s *Stats) RecordJoinAccepted()   { s.joinsAccepted.Add(1) }
func (s *Stats) RecordJoinRejected()   { s.joinsRejected.Add(1) }
func (s *Stats) RecordLeave()          { s.leavesDelivered.Add(1) }
func (s *Stats) RecordNotify()         { s.notifiesDelivered.Add(1) }
func (s *Stats) RecordBlockEntry()     { s.blockEntries.Add(1) }
func (s *Stats) SetCursor(pos int64)   { s.cursor.Store(pos) }
func (s *Stats) SetMemberCount(n int)  { s.memberCount.Store(int64(n)) }
func (s *Stats) SetLeaveDepth(n int)   { s.leaveChannelDepth.Store(int64(n)) }
func (s *Stats) SetBlocked(b bool)     { s.blocked.Store(b) }
