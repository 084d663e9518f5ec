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

import "sort"

// MemberSet is the in-memory ordered set of known cluster members, keyed by
// node id. It is only ever touched from the dispatcher goroutine (§5), so it
// carries no internal locking.
type MemberSet struct {
	byNode map[string]MemberRecord
}

// NewMemberSet returns an empty MemberSet.
func NewMemberSet() *MemberSet {
	return &MemberSet{byNode: make(map[string]MemberRecord)}
}

// Insert adds record if its node isn't already present. It is a no-op
// otherwise, matching §4.2.
func (s *MemberSet) Insert(record MemberRecord) {
	key := record.Node.String()
	if _, ok := s.byNode[key]; ok {
		return
	}
	s.byNode[key] = record.clone()
}

// Erase removes the member with the given node id, if any.
func (s *MemberSet) Erase(node NodeID) {
	delete(s.byNode, node.String())
}

// Lookup returns the member record for node, if present.
func (s *MemberSet) Lookup(node NodeID) (MemberRecord, bool) {
	m, ok := s.byNode[node.String()]
	return m, ok
}

// Len returns the number of known members.
func (s *MemberSet) Len() int {
	return len(s.byNode)
}

// Snapshot returns the members in ascending node-id order, the order handler
// callbacks are always given per §4.2.
func (s *MemberSet) Snapshot() []MemberRecord {
	out := make([]MemberRecord, 0, len(s.byNode))
	for _, m := range s.byNode {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Node.Less(out[j].Node)
	})
	return out
}

// ClearAll removes every member, used on MASTER_TRANSFER per the data model.
func (s *MemberSet) ClearAll() {
	s.byNode = make(map[string]MemberRecord)
}

// IsLocalMaster reports whether self is the master: either the set is empty
// and noMembersInCoord confirms the coordination service agrees no member
// znodes exist (bootstrap case, I3), or self is the lexicographically
// smallest node id currently known.
func (s *MemberSet) IsLocalMaster(self NodeID, noMembersInCoord bool) bool {
	if len(s.byNode) == 0 {
		return noMembersInCoord
	}
	snapshot := s.Snapshot()
	return snapshot[0].Node.Equal(self)
}
