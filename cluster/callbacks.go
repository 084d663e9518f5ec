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

// Callbacks are the embedding daemon's hooks, invoked from the dispatcher
// goroutine at the points described in §4.6. None of these may block
// indefinitely: they run inline on the single dispatch loop. A nil field is
// treated as a no-op (CheckJoin defaults to always admitting with
// JoinSuccess, BlockHandler defaults to always blocking).
type Callbacks struct {
	// CheckJoin is invoked by the master on a JOIN_REQUEST to decide
	// whether to admit, defer, reject, or transfer mastership to node.
	CheckJoin func(node NodeID, opaque []byte) JoinResult

	// JoinHandler is invoked after a JOIN_RESPONSE has been fully
	// processed, with the resulting membership snapshot.
	JoinHandler func(node NodeID, snapshot []MemberRecord, result JoinResult)

	// LeaveHandler is invoked after a member has been removed from the
	// MemberSet, with the resulting membership snapshot.
	LeaveHandler func(node NodeID, snapshot []MemberRecord)

	// BlockHandler is invoked when node has issued a BLOCK event; it
	// returns whether the cluster should really block.
	BlockHandler func(node NodeID) bool

	// NotifyHandler is invoked for every delivered NOTIFY event.
	NotifyHandler func(node NodeID, msg []byte)
}

func (cb Callbacks) checkJoin(node NodeID, opaque []byte) JoinResult {
	if cb.CheckJoin == nil {
		return JoinSuccess
	}
	return cb.CheckJoin(node, opaque)
}

func (cb Callbacks) joinHandler(node NodeID, snapshot []MemberRecord, result JoinResult) {
	if cb.JoinHandler != nil {
		cb.JoinHandler(node, snapshot, result)
	}
}

func (cb Callbacks) leaveHandler(node NodeID, snapshot []MemberRecord) {
	if cb.LeaveHandler != nil {
		cb.LeaveHandler(node, snapshot)
	}
}

func (cb Callbacks) blockHandler(node NodeID) bool {
	if cb.BlockHandler == nil {
		return true
	}
	return cb.BlockHandler(node)
}

func (cb Callbacks) notifyHandler(node NodeID, msg []byte) {
	if cb.NotifyHandler != nil {
		cb.NotifyHandler(node, msg)
	}
}
