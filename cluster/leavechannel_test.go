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

func TestLeaveChannelFIFO(t *testing.T) {
	lc := NewLeaveChannel(4)
	require.NoError(t, lc.PushLeave(NodeID("a")))
	require.NoError(t, lc.PushLeave(NodeID("b")))
	assert.Equal(t, 2, lc.Len())

	n, ok := lc.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", n.String())

	n, ok = lc.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", n.String())

	_, ok = lc.Pop()
	assert.False(t, ok)
}

func TestLeaveChannelFullReturnsError(t *testing.T) {
	lc := NewLeaveChannel(2)
	require.NoError(t, lc.PushLeave(NodeID("a")))
	require.NoError(t, lc.PushLeave(NodeID("b")))
	err := lc.PushLeave(NodeID("c"))
	assert.Error(t, err)
}

func TestLeaveChannelWrapsAround(t *testing.T) {
	lc := NewLeaveChannel(2)
	require.NoError(t, lc.PushLeave(NodeID("a")))
	_, _ = lc.Pop()
	require.NoError(t, lc.PushLeave(NodeID("b")))
	require.NoError(t, lc.PushLeave(NodeID("c")))
	n, ok := lc.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", n.String())
	n, ok = lc.Pop()
	require.True(t, ok)
	assert.Equal(t, "c", n.String())
}
