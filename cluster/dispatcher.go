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
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/matsu777/sheepdog/util/errwrap"
)

// dispatchLoop is the single cooperative goroutine that owns MemberSet, the
// EventQueue cursor, and BlockingController (§5). At most one LeaveChannel
// entry or one queue event is handled per wakeup, and every opRequest from
// the public API is applied here too, so that state is never touched from
// two goroutines at once.
func (d *Driver) dispatchLoop(ctx context.Context) error {
	w, err := d.armSuccessor(ctx, "arm initial queue watch")
	if err != nil {
		return err
	}
	d.curWatch = w

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-d.opCh:
			req.resp <- req.apply(ctx, d)
			d.stats.SetBlocked(d.block.IsBlocked())
			continue
		case <-d.wakeup:
		case <-d.curWatch:
		}
		if err := d.drainOnce(ctx); err != nil {
			return err
		}
		d.stats.SetBlocked(d.block.IsBlocked())
	}
}

// drainOnce performs at most one LeaveChannel delivery or one queue-event
// delivery, per §4.4 and §4.6.
func (d *Driver) drainOnce(ctx context.Context) error {
	// Rule A: leaves take priority over queue events.
	if d.leaveCh.Len() > 0 {
		node, ok := d.leaveCh.Pop()
		if ok {
			d.skipDeadBlocker(ctx, node)
			d.handleLeave(ctx, node)
			d.stats.SetLeaveDepth(d.leaveCh.Len())
			// A node that just lost its master to this leave may be
			// pinned (via StepBack) on a slot whose data-watch will
			// never fire again, since the only node that could have
			// rewritten it just left. Repost so the pinned slot gets
			// re-read with the now-updated membership view, mirroring
			// the original's nr_zk_levents || rc == ZOK check.
			pending, err := d.queue.HasPending(ctx)
			if err != nil {
				return errwrap.Wrapf(err, "check pending queue slot after leave")
			}
			if d.leaveCh.Len() > 0 || pending {
				d.postWakeup()
			}
			return nil
		}
	}

	if d.block.IsBlocked() {
		// I5: nothing but LEAVE may be delivered while blocked. The
		// cursor is pinned on the BLOCK slot (handleBlock stepped it
		// back), so the only thing that can possibly be there now is
		// still BLOCK or, once the blocker calls Unblock, the NOTIFY it
		// was rewritten into; re-check that one slot and either stay
		// pinned or clear and deliver.
		ev, ok, watch, err := d.queue.PeekAndPop(ctx)
		if err != nil {
			return errwrap.Wrapf(err, "peek blocked slot")
		}
		if !ok {
			d.curWatch = watch
			return nil
		}
		if ev.Type == Block {
			d.queue.StepBack()
			d.curWatch = watch
			return nil
		}
		d.block.ClearBlocked()
		d.blockedBy = nil
		if err := d.handleEvent(ctx, ev); err != nil {
			return err
		}
		successor, err := d.armSuccessor(ctx, "arm successor watch after unblock")
		if err != nil {
			return err
		}
		d.curWatch = successor
		d.stats.RecordDelivered()
		d.stats.SetCursor(d.queue.Pos())
		return nil
	}

	ev, ok, watch, err := d.queue.PeekAndPop(ctx)
	if err != nil {
		return errwrap.Wrapf(err, "peek and pop queue event")
	}
	if !ok {
		// GetW armed no watch for a path that doesn't exist yet; the
		// cursor didn't move, so arm an ExistsW on the same slot
		// ourselves.
		successor, err := d.armSuccessor(ctx, "arm watch for not-yet-published queue slot")
		if err != nil {
			return err
		}
		d.curWatch = successor
		return nil
	}

	if err := d.handleEvent(ctx, ev); err != nil {
		return err
	}

	if ev.Type.IsBlocking() {
		// The handler either stepped the cursor back (defer) or
		// rewrote the slot in place; either way the data-watch armed
		// by the GetW we just did is what wakes us on the next
		// change, per §4.3.
		d.curWatch = watch
	} else {
		successor, err := d.armSuccessor(ctx, "arm successor watch")
		if err != nil {
			return err
		}
		d.curWatch = successor
	}
	d.stats.RecordDelivered()
	d.stats.SetCursor(d.queue.Pos())
	return nil
}

// armSuccessor arms a watch on the queue's current cursor position and
// returns it for the caller to store as curWatch. If that slot is already
// populated (an event pushed before we got around to arming, so the watch
// itself will never fire for it), it also posts a wakeup so the next
// dispatch iteration drains it immediately instead of stalling forever.
func (d *Driver) armSuccessor(ctx context.Context, errContext string) (<-chan zk.Event, error) {
	exists, watch, err := d.queue.ArmSuccessor(ctx)
	if err != nil {
		return nil, errwrap.Wrapf(err, errContext)
	}
	if exists {
		d.postWakeup()
	}
	return watch, nil
}

// skipDeadBlocker implements LeaveChannel rule B: if the queue head is a
// BLOCK this leaver issued, its death means it can never unblock us, so we
// jump past it rather than deadlocking the cluster forever.
func (d *Driver) skipDeadBlocker(ctx context.Context, leaver NodeID) {
	if !d.block.IsBlocked() || d.blockedBy == nil || !d.blockedBy.Equal(leaver) {
		return
	}
	d.queue.SkipTo(d.queue.Pos() + 1)
	d.block.ClearBlocked()
	d.blockedBy = nil
	if watch, err := d.armSuccessor(ctx, "arm successor watch after skipping dead blocker"); err != nil {
		d.log.WithError(err).Warn("failed to arm successor watch after skipping dead blocker")
	} else {
		d.curWatch = watch
	}
}

func (d *Driver) handleEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case JoinRequest:
		return d.handleJoinRequest(ctx, ev)
	case JoinResponse:
		return d.handleJoinResponse(ctx, ev)
	case Leave:
		d.handleLeave(ctx, ev.Sender.Node)
		return nil
	case Block:
		return d.handleBlock(ctx, ev)
	case Notify:
		d.handleNotify(ev)
		return nil
	default:
		d.log.WithField("type", ev.Type.String()).Warn("unhandled event type, dropping")
		return nil
	}
}

// isLocalMaster queries the coordination service's member/ children only
// when the local MemberSet is empty, matching the original's live
// zk_member_empty() check rather than trusting a cached bootstrap flag.
func (d *Driver) isLocalMaster(ctx context.Context) (bool, error) {
	if d.members.Len() == 0 {
		children, err := d.cc.Children(ctx, d.cfg.memberPath())
		if err != nil {
			return false, errwrap.Wrapf(err, "list member children")
		}
		return d.members.IsLocalMaster(d.self, len(children) == 0), nil
	}
	return d.members.IsLocalMaster(d.self, false), nil
}

// handleJoinRequest is the master-side admission decision, §4.6.
func (d *Driver) handleJoinRequest(ctx context.Context, ev Event) error {
	master, err := d.isLocalMaster(ctx)
	if err != nil {
		return err
	}
	if !master {
		d.queue.StepBack()
		return nil
	}

	res := d.cbs.checkJoin(ev.Sender.Node, ev.Buf)
	response := ev.clone()
	response.Type = JoinResponse
	response.JoinResult = res
	response.Sender.Joined = true // stamped unconditionally, even on FAIL

	if err := d.queue.RewriteCurrent(ctx, response); err != nil {
		return errwrap.Wrapf(err, "rewrite join request as join response")
	}

	if res == JoinMasterTransfer {
		if err := d.Leave(ctx); err != nil {
			d.log.WithError(err).Warn("failed to leave member znode during master transfer")
		}
		return ErrMasterTransferring
	}
	return nil
}

// handleJoinResponse processes the master's verdict, updating MemberSet and
// (for SUCCESS/JOIN_LATER/MASTER_TRANSFER) creating or watching the member
// znode, §4.6.
func (d *Driver) handleJoinResponse(ctx context.Context, ev Event) error {
	sender := ev.Sender

	master, err := d.isLocalMaster(ctx)
	if err != nil {
		return err
	}
	if master && !sender.Node.Equal(d.self) {
		if !d.waitForMemberZnode(ctx, sender.Node) {
			d.log.WithField("node", sender.Node.String()).
				Debug("timed out waiting for joiner's member znode, dropping join response")
			return nil
		}
	}

	if sender.Node.Equal(d.self) {
		if err := d.loadExistingMembers(ctx); err != nil {
			return errwrap.Wrapf(err, "load existing members on own join")
		}
	}

	if ev.JoinResult == JoinMasterTransfer {
		// Only the joining node reaches this branch in practice: the
		// outgoing master already left in handleJoinRequest.
		d.members.ClearAll()
	}
	d.members.Insert(sender)

	switch ev.JoinResult {
	case JoinSuccess, JoinLater, JoinMasterTransfer:
		path := d.cfg.memberNodePath(sender.Node)
		if sender.Node.Equal(d.self) {
			data, err := MarshalMemberRecord(sender)
			if err != nil {
				return errwrap.Wrapf(err, "marshal own member record")
			}
			if err := d.cc.CreateEphemeral(ctx, path, data); err != nil {
				return errwrap.Wrapf(err, "create own member znode")
			}
		} else {
			d.watchMemberDeletion(ctx, sender.Node)
		}
	default:
	}

	if ev.JoinResult == JoinFail {
		d.stats.RecordJoinRejected()
	} else {
		d.stats.RecordJoinAccepted()
	}
	d.stats.SetMemberCount(d.members.Len())

	snapshot := d.members.Snapshot()
	d.cbs.joinHandler(sender.Node, snapshot, ev.JoinResult)
	return nil
}

// waitForMemberZnode polls for path's existence, the bounded wait a master
// performs for a newly admitted joiner to publish its own ephemeral member
// znode before the master's local membership view and callbacks reflect it.
func (d *Driver) waitForMemberZnode(ctx context.Context, node NodeID) bool {
	path := d.cfg.memberNodePath(node)
	deadline := time.Now().Add(d.cfg.MemberCreateTimeout)
	for {
		exists, err := d.cc.Exists(ctx, path)
		if err == nil && exists {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(d.cfg.MemberCreateInterval):
		case <-ctx.Done():
			return false
		}
	}
}

// loadExistingMembers bulk-loads every existing member/ znode into MemberSet,
// run once by a newly joined node before inserting itself (the original's
// zk_member_init). A node that vanished between Children and Get is simply
// skipped, not treated as an error.
func (d *Driver) loadExistingMembers(ctx context.Context) error {
	children, err := d.cc.Children(ctx, d.cfg.memberPath())
	if err != nil {
		return errwrap.Wrapf(err, "list member children")
	}
	for _, child := range children {
		path := d.cfg.memberPath() + "/" + child
		data, exists, err := d.cc.Get(ctx, path)
		if err != nil {
			return errwrap.Wrapf(err, "get member znode %s", path)
		}
		if !exists {
			continue
		}
		record, err := UnmarshalMemberRecord(data)
		if err != nil {
			return errwrap.Wrapf(err, "unmarshal member znode %s", path)
		}
		d.members.Insert(record)
		if !record.Node.Equal(d.self) {
			d.watchMemberDeletion(ctx, record.Node)
		}
	}
	return nil
}

// handleLeave removes a departed member, invoking LeaveHandler only if it
// was actually known, §4.6.
func (d *Driver) handleLeave(ctx context.Context, node NodeID) {
	if _, ok := d.members.Lookup(node); !ok {
		d.log.WithField("node", node.String()).Debug("leave for unknown node, ignoring")
		return
	}
	d.members.Erase(node)
	d.stopWatchingMember(node)
	d.stats.RecordLeave()
	d.stats.SetMemberCount(d.members.Len())
	snapshot := d.members.Snapshot()
	d.cbs.leaveHandler(node, snapshot)
}

// handleBlock defers the cursor and, if the callback agrees, enters the
// blocked state, §4.5.
func (d *Driver) handleBlock(ctx context.Context, ev Event) error {
	d.queue.StepBack()
	if d.cbs.blockHandler(ev.Sender.Node) {
		d.block.SetBlocked()
		d.blockedBy = ev.Sender.Node
		d.stats.RecordBlockEntry()
		d.stats.SetBlocked(true)
	}
	return nil
}

func (d *Driver) handleNotify(ev Event) {
	d.stats.RecordNotify()
	d.cbs.notifyHandler(ev.Sender.Node, ev.Buf)
}
