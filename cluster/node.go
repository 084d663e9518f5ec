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

// Package cluster implements a cluster-membership and ordered-event-delivery
// driver on top of a ZooKeeper-style coordination service. See the package
// doc on Driver for the external surface.
package cluster

import "bytes"

// NodeID is an opaque node identity. Two nodes compare equal iff their ids
// compare equal as byte strings; ordering is the natural byte-lexicographic
// order, used for master election (the smallest id is master).
type NodeID []byte

// Equal reports whether id and other name the same node.
func (id NodeID) Equal(other NodeID) bool {
	return bytes.Equal(id, other)
}

// Less reports whether id sorts before other under the total order used for
// master election.
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id, other) < 0
}

// String renders the node id for use as a znode path segment and for log
// output. Node ids are treated as opaque bytes everywhere except here and in
// comparisons, per the data model.
func (id NodeID) String() string {
	return string(id)
}

// MemberRecord is the snapshot of a cluster member carried on events and
// stored as the data of its ephemeral member znode.
type MemberRecord struct {
	Node      NodeID
	SessionID int64
	Joined    bool
}

// clone returns a deep copy so callers can't mutate a record reachable from
// MemberSet or a queued Event out from under the dispatcher.
func (m MemberRecord) clone() MemberRecord {
	node := make(NodeID, len(m.Node))
	copy(node, m.Node)
	return MemberRecord{Node: node, SessionID: m.SessionID, Joined: m.Joined}
}
