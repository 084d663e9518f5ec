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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberSetInsertIsNoOpIfPresent(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("a"), SessionID: 1, Joined: true})
	s.Insert(MemberRecord{Node: NodeID("a"), SessionID: 999, Joined: false})

	m, ok := s.Lookup(NodeID("a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), m.SessionID)
	assert.True(t, m.Joined)
}

func TestMemberSetSnapshotIsSortedByNodeID(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("charlie")})
	s.Insert(MemberRecord{Node: NodeID("alpha")})
	s.Insert(MemberRecord{Node: NodeID("bravo")})

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alpha", snap[0].Node.String())
	assert.Equal(t, "bravo", snap[1].Node.String())
	assert.Equal(t, "charlie", snap[2].Node.String())
}

func TestMemberSetEraseAndLen(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("a")})
	s.Insert(MemberRecord{Node: NodeID("b")})
	require.Equal(t, 2, s.Len())

	s.Erase(NodeID("a"))
	assert.Equal(t, 1, s.Len())
	_, ok := s.Lookup(NodeID("a"))
	assert.False(t, ok)
}

func TestMemberSetClearAll(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("a")})
	s.Insert(MemberRecord{Node: NodeID("b")})
	s.ClearAll()
	assert.Equal(t, 0, s.Len())
}

func TestMemberSetIsLocalMasterBootstrap(t *testing.T) {
	s := NewMemberSet()
	assert.True(t, s.IsLocalMaster(NodeID("self"), true))
	assert.False(t, s.IsLocalMaster(NodeID("self"), false))
}

func TestMemberSetIsLocalMasterSmallestNodeID(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("b")})
	s.Insert(MemberRecord{Node: NodeID("a")})
	s.Insert(MemberRecord{Node: NodeID("c")})

	assert.True(t, s.IsLocalMaster(NodeID("a"), false))
	assert.False(t, s.IsLocalMaster(NodeID("b"), false))
}

func TestMemberSetSnapshotIsIndependentCopy(t *testing.T) {
	s := NewMemberSet()
	s.Insert(MemberRecord{Node: NodeID("a"), SessionID: 1})
	snap := s.Snapshot()
	snap[0].SessionID = 999

	m, ok := s.Lookup(NodeID("a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), m.SessionID)
}
