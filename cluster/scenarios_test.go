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
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// joinEvent captures one JoinHandler invocation, used by the scenario tests
// below to assert on delivery order and membership snapshots without
// reaching into Driver's private fields.
type joinEvent struct {
	node     string
	snapshot []string
	result   JoinResult
}

type leaveEvent struct {
	node     string
	snapshot []string
}

// testHarness wires a Driver to a shared fakeCoordClient and records every
// callback invocation, the same role the teacher's etcd_test.go plays for
// EmbdEtcd: exercise the real object, not a mock of it.
type testHarness struct {
	t      *testing.T
	driver *Driver
	cancel context.CancelFunc

	mu      sync.Mutex
	joins   []joinEvent
	leaves  []leaveEvent
	notifys [][]byte
	blocks  []string

	runErr chan error
}

func snapshotNames(snap []MemberRecord) []string {
	out := make([]string, len(snap))
	for i, m := range snap {
		out[i] = m.Node.String()
	}
	return out
}

func newTestHarness(t *testing.T, cc coordClient, blockHandler func(NodeID) bool) *testHarness {
	t.Helper()
	h := &testHarness{t: t, runErr: make(chan error, 1)}

	cbs := Callbacks{
		JoinHandler: func(node NodeID, snapshot []MemberRecord, result JoinResult) {
			h.mu.Lock()
			h.joins = append(h.joins, joinEvent{node: node.String(), snapshot: snapshotNames(snapshot), result: result})
			h.mu.Unlock()
		},
		LeaveHandler: func(node NodeID, snapshot []MemberRecord) {
			h.mu.Lock()
			h.leaves = append(h.leaves, leaveEvent{node: node.String(), snapshot: snapshotNames(snapshot)})
			h.mu.Unlock()
		},
		NotifyHandler: func(node NodeID, msg []byte) {
			h.mu.Lock()
			h.notifys = append(h.notifys, msg)
			h.mu.Unlock()
		},
		BlockHandler: func(node NodeID) bool {
			h.mu.Lock()
			h.blocks = append(h.blocks, node.String())
			h.mu.Unlock()
			if blockHandler != nil {
				return blockHandler(node)
			}
			return true
		},
	}

	cfg := Config{
		MemberCreateTimeout:  500 * time.Millisecond,
		MemberCreateInterval: 2 * time.Millisecond,
		LeaveChannelCapacity: 16,
	}
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(io.Discard)
	d := NewDriver(cfg, cbs, log)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.initWithCoordClient(ctx, cc))
	h.driver = d
	h.cancel = cancel

	go func() { h.runErr <- d.Run(ctx) }()
	return h
}

func (h *testHarness) joinEvents() []joinEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]joinEvent, len(h.joins))
	copy(out, h.joins)
	return out
}

func (h *testHarness) leaveEvents() []leaveEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]leaveEvent, len(h.leaves))
	copy(out, h.leaves)
	return out
}

func (h *testHarness) stop() {
	h.cancel()
	<-h.runErr
}

func TestScenarioBootstrapSingleNodeBecomesMaster(t *testing.T) {
	cc := newFakeCoordClient()
	h := newTestHarness(t, cc, nil)
	defer h.stop()

	ctx := context.Background()
	require.NoError(t, h.driver.Join(ctx, NodeID("a"), nil))

	require.Eventually(t, func() bool {
		return len(h.joinEvents()) == 1
	}, time.Second, 2*time.Millisecond)

	ev := h.joinEvents()[0]
	assert.Equal(t, "a", ev.node)
	assert.Equal(t, JoinSuccess, ev.result)
	assert.Equal(t, []string{"a"}, ev.snapshot)
}

func TestScenarioSecondNodeJoinsViaMaster(t *testing.T) {
	cc := newFakeCoordClient()
	hA := newTestHarness(t, cc, nil)
	defer hA.stop()
	hB := newTestHarness(t, cc, nil)
	defer hB.stop()

	ctx := context.Background()
	require.NoError(t, hA.driver.Join(ctx, NodeID("a"), nil))
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)

	require.NoError(t, hB.driver.Join(ctx, NodeID("b"), nil))

	require.Eventually(t, func() bool {
		return len(hB.joinEvents()) == 1
	}, time.Second, 2*time.Millisecond)
	bEv := hB.joinEvents()[0]
	assert.Equal(t, "b", bEv.node)
	assert.Equal(t, JoinSuccess, bEv.result)
	assert.ElementsMatch(t, []string{"a", "b"}, bEv.snapshot)

	require.Eventually(t, func() bool {
		return len(hA.joinEvents()) == 2
	}, time.Second, 2*time.Millisecond)
	aEv := hA.joinEvents()[1]
	assert.Equal(t, "b", aEv.node)
	assert.ElementsMatch(t, []string{"a", "b"}, aEv.snapshot)
}

func TestScenarioNotifyBroadcastInTotalOrder(t *testing.T) {
	cc := newFakeCoordClient()
	hA := newTestHarness(t, cc, nil)
	defer hA.stop()
	hB := newTestHarness(t, cc, nil)
	defer hB.stop()

	ctx := context.Background()
	require.NoError(t, hA.driver.Join(ctx, NodeID("a"), nil))
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, hB.driver.Join(ctx, NodeID("b"), nil))
	require.Eventually(t, func() bool { return len(hB.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 2 }, time.Second, 2*time.Millisecond)

	require.NoError(t, hA.driver.Notify(ctx, []byte("hello")))

	require.Eventually(t, func() bool {
		hA.mu.Lock()
		defer hA.mu.Unlock()
		return len(hA.notifys) == 1
	}, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		hB.mu.Lock()
		defer hB.mu.Unlock()
		return len(hB.notifys) == 1
	}, time.Second, 2*time.Millisecond)

	assert.Equal(t, []byte("hello"), hA.notifys[0])
	assert.Equal(t, []byte("hello"), hB.notifys[0])
}

func TestScenarioBlockThenUnblockDelivers(t *testing.T) {
	cc := newFakeCoordClient()
	hA := newTestHarness(t, cc, nil)
	defer hA.stop()
	hB := newTestHarness(t, cc, nil)
	defer hB.stop()

	ctx := context.Background()
	require.NoError(t, hA.driver.Join(ctx, NodeID("a"), nil))
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, hB.driver.Join(ctx, NodeID("b"), nil))
	require.Eventually(t, func() bool { return len(hB.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 2 }, time.Second, 2*time.Millisecond)

	require.NoError(t, hA.driver.Block(ctx))
	require.Eventually(t, func() bool {
		hB.mu.Lock()
		defer hB.mu.Unlock()
		return len(hB.blocks) == 1
	}, time.Second, 2*time.Millisecond)

	// while blocked, a NOTIFY from B must not be delivered anywhere.
	require.NoError(t, hB.driver.Notify(ctx, []byte("should-wait")))
	time.Sleep(30 * time.Millisecond)
	hA.mu.Lock()
	assert.Empty(t, hA.notifys)
	hA.mu.Unlock()

	require.NoError(t, hA.driver.Unblock(ctx, []byte("go")))

	require.Eventually(t, func() bool {
		hA.mu.Lock()
		defer hA.mu.Unlock()
		return len(hA.notifys) == 2
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, []byte("go"), hA.notifys[0])
	assert.Equal(t, []byte("should-wait"), hA.notifys[1])
}

func TestScenarioLeaveRemovesMember(t *testing.T) {
	cc := newFakeCoordClient()
	hA := newTestHarness(t, cc, nil)
	defer hA.stop()
	hB := newTestHarness(t, cc, nil)
	defer hB.stop()

	ctx := context.Background()
	require.NoError(t, hA.driver.Join(ctx, NodeID("a"), nil))
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, hB.driver.Join(ctx, NodeID("b"), nil))
	require.Eventually(t, func() bool { return len(hB.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 2 }, time.Second, 2*time.Millisecond)

	require.NoError(t, hB.driver.Leave(ctx))

	require.Eventually(t, func() bool {
		return len(hA.leaveEvents()) == 1
	}, time.Second, 2*time.Millisecond)
	lev := hA.leaveEvents()[0]
	assert.Equal(t, "b", lev.node)
	assert.Equal(t, []string{"a"}, lev.snapshot)
}

func TestScenarioDeadBlockerIsSkipped(t *testing.T) {
	cc := newFakeCoordClient()
	hA := newTestHarness(t, cc, nil)
	defer hA.stop()
	hB := newTestHarness(t, cc, nil)
	defer hB.stop()

	ctx := context.Background()
	require.NoError(t, hA.driver.Join(ctx, NodeID("a"), nil))
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, hB.driver.Join(ctx, NodeID("b"), nil))
	require.Eventually(t, func() bool { return len(hB.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return len(hA.joinEvents()) == 2 }, time.Second, 2*time.Millisecond)

	require.NoError(t, hB.driver.Block(ctx))
	require.Eventually(t, func() bool {
		hA.mu.Lock()
		defer hA.mu.Unlock()
		return len(hA.blocks) == 1
	}, time.Second, 2*time.Millisecond)

	// B dies without ever unblocking. A's watcher on B's member znode
	// should observe the deletion, push a LEAVE, and rule B should skip
	// the now-permanently-stuck BLOCK rather than wedge the cluster.
	require.NoError(t, hB.driver.Leave(ctx))

	require.Eventually(t, func() bool {
		return len(hA.leaveEvents()) == 1
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, hA.driver.Notify(ctx, []byte("after-dead-blocker")))
	require.Eventually(t, func() bool {
		hA.mu.Lock()
		defer hA.mu.Unlock()
		return len(hA.notifys) == 1
	}, time.Second, 2*time.Millisecond)
	assert.False(t, hA.driver.block.IsBlocked())
}

func TestScenarioMasterTransfer(t *testing.T) {
	cc := newFakeCoordClient()

	// A is the current master, seeded with a CheckJoin that admits its own
	// bootstrap join normally but hands mastership to the next different
	// node that asks (checkJoin runs for every JoinRequest once a node is
	// master, including its own).
	cfg := Config{MemberCreateTimeout: 500 * time.Millisecond, MemberCreateInterval: 2 * time.Millisecond, LeaveChannelCapacity: 16}
	var aJoins []JoinResult
	var mu sync.Mutex
	aCbs := Callbacks{
		CheckJoin: func(node NodeID, opaque []byte) JoinResult {
			if node.Equal(NodeID("a")) {
				return JoinSuccess
			}
			return JoinMasterTransfer
		},
		JoinHandler: func(node NodeID, snapshot []MemberRecord, result JoinResult) {
			mu.Lock()
			aJoins = append(aJoins, result)
			mu.Unlock()
		},
	}
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetOutput(io.Discard)
	driverA := NewDriver(cfg, aCbs, log)
	actx, acancel := context.WithCancel(context.Background())
	defer acancel()
	require.NoError(t, driverA.initWithCoordClient(actx, cc))
	aRunErr := make(chan error, 1)
	go func() { aRunErr <- driverA.Run(actx) }()

	require.NoError(t, driverA.Join(actx, NodeID("a"), nil))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(aJoins) == 1 && aJoins[0] == JoinSuccess
	}, time.Second, 2*time.Millisecond)

	hB := newTestHarness(t, cc, nil)
	defer hB.stop()
	require.NoError(t, hB.driver.Join(context.Background(), NodeID("b"), nil))

	// The scenario's core guarantee: a CheckJoin verdict of
	// MASTER_TRANSFER causes the (now former) master's Run loop to
	// return ErrMasterTransferring, and B is admitted as the new master.
	require.Eventually(t, func() bool {
		select {
		case err := <-aRunErr:
			aRunErr <- err
			return err == ErrMasterTransferring
		default:
			return false
		}
	}, time.Second, 2*time.Millisecond)

	require.Eventually(t, func() bool { return len(hB.joinEvents()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, JoinMasterTransfer, hB.joinEvents()[0].result)
}
