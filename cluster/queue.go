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

// Package cluster's EventQueue is the totally-ordered persistent queue of
// cluster events, backed by sequentially-named child znodes under
// <base>/queue/. Queue znodes are never deleted by the driver once created;
// garbage collecting them is left to the surrounding system (§9, open
// question (b)).
package cluster

import (
	"context"
	"fmt"
	"strconv"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/matsu777/sheepdog/util/errwrap"
)

// EventQueue holds the local read cursor pos and the coordClient used to
// read and write queue znodes. It is only ever touched from the dispatcher
// goroutine (§5).
type EventQueue struct {
	cc   coordClient
	base string // <base>/queue
	pos  int64

	// maxEventBufSize is the configured cap threaded into every marshal
	// and unmarshal this queue performs, from Config.MaxEventBufSize.
	maxEventBufSize uint64

	// haveOwnPosition is false until this process has pushed its first
	// event, per the "cursor starts at the first event we ourselves
	// publish, if we had no prior knowledge" rule in §4.3.
	haveOwnPosition bool
}

// NewEventQueue returns an EventQueue rooted at basePath+"/queue", with the
// cursor at startPos (0 for a node with no prior knowledge of the queue), and
// maxEventBufSize enforced on every event this queue marshals or unmarshals.
func NewEventQueue(cc coordClient, basePath string, startPos int64, maxEventBufSize uint64) *EventQueue {
	return &EventQueue{cc: cc, base: basePath + "/queue", pos: startPos, maxEventBufSize: maxEventBufSize}
}

// Pos returns the current cursor position.
func (q *EventQueue) Pos() int64 {
	return q.pos
}

// StepBack decrements the cursor by one, the mechanism handlers use to defer
// processing of the current event so it's re-read after an external change
// (I4b), and that BLOCK uses to line itself up for a later rewrite (§4.5).
func (q *EventQueue) StepBack() {
	q.pos--
}

// SkipTo advances the cursor to newPos directly, used by the
// skip-dead-blocker exception (§4.4 rule B) to jump past a blocking event
// whose sender has left.
func (q *EventQueue) SkipTo(newPos int64) {
	q.pos = newPos
}

func (q *EventQueue) pathAt(pos int64) string {
	return fmt.Sprintf("%s/%010d", q.base, pos)
}

// parseSeq extracts the 10-digit sequence suffix zk assigned to a created
// path, per the bit-exact layout in §6.
func parseSeq(created string) (int64, error) {
	if len(created) < 10 {
		return 0, fmt.Errorf("cluster: created path %q too short to contain a sequence suffix", created)
	}
	suffix := created[len(created)-10:]
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, errwrap.Wrapf(err, "parse sequence suffix of %q", created)
	}
	return n, nil
}

// Push serializes ev and appends it as a new sequential child of the queue.
// On the very first push by this process (haveOwnPosition is false) it
// additionally seeds the local cursor from the assigned sequence number, per
// §4.3.
func (q *EventQueue) Push(ctx context.Context, ev Event) error {
	data, err := MarshalEvent(ev, q.maxEventBufSize)
	if err != nil {
		return errwrap.Wrapf(err, "marshal event for push")
	}
	created, err := q.cc.CreateSequential(ctx, q.base+"/", data)
	if err != nil {
		return errwrap.Wrapf(err, "create sequential queue node")
	}
	if !q.haveOwnPosition {
		seq, err := parseSeq(created)
		if err != nil {
			return err
		}
		q.pos = seq
		q.haveOwnPosition = true
	}
	return nil
}

// PeekAndPop reads the znode at pos. If absent, ok is false and watch is nil:
// a GetW against a path that doesn't exist arms no watch in real ZooKeeper,
// so callers that need to wake on that slot's eventual creation must arm
// their own ExistsW (see ArmSuccessor) rather than trust watch here. If
// present, pos is advanced past it and watch is the data-watch armed by the
// read itself (which fires on a rewrite of the slot we just read, per §4.3's
// rewrite-in-place rationale). Callers must not rely on watch when the
// returned event is a blocking event AND they've already armed a successor
// watch; see ArmSuccessor.
func (q *EventQueue) PeekAndPop(ctx context.Context) (ev Event, ok bool, watch <-chan zk.Event, err error) {
	path := q.pathAt(q.pos)
	data, exists, w, err := q.cc.GetW(ctx, path)
	if err != nil {
		return Event{}, false, nil, errwrap.Wrapf(err, "get queue node %s", path)
	}
	if !exists {
		return Event{}, false, w, nil
	}
	ev, err = UnmarshalEvent(data, q.maxEventBufSize)
	if err != nil {
		return Event{}, false, nil, errwrap.Wrapf(err, "unmarshal queue node %s", path)
	}
	q.pos++
	return ev, true, w, nil
}

// HasPending reports whether an event already sits at the current cursor
// position, without consuming it or arming a watch. drainOnce uses this
// after delivering a leave to decide whether to also repost a wakeup,
// mirroring the original's "uatomic_read(&nr_zk_levents) || rc == ZOK" check:
// a node that just became master by erasing its former master may be pinned
// on a slot (e.g. a deferred JOIN_REQUEST) whose data-watch will never fire
// again, since nothing is left alive to rewrite it.
func (q *EventQueue) HasPending(ctx context.Context) (bool, error) {
	exists, err := q.cc.Exists(ctx, q.pathAt(q.pos))
	if err != nil {
		return false, errwrap.Wrapf(err, "check pending queue slot at %s", q.pathAt(q.pos))
	}
	return exists, nil
}

// ArmSuccessor arms an existence watch on the current cursor position, so the
// driver is notified when the event at that position is published. The
// dispatcher calls it after popping a non-blocking event, when the slot at the
// cursor is not yet published, after an unblock, after skipping a dead
// blocker, and once when the dispatch loop starts; after popping a blocking
// event it relies on the watch from PeekAndPop's GetW instead.
// exists reports whether the successor slot was already populated at arm
// time (a pending event this node hasn't drained yet, e.g. one pushed while
// it was busy with the event before it); the watch alone never fires for
// that case since nothing further writes to the slot, so callers must check
// exists and schedule another drain themselves rather than only waiting on
// watch.
func (q *EventQueue) ArmSuccessor(ctx context.Context) (exists bool, watch <-chan zk.Event, err error) {
	exists, watch, err = q.cc.ExistsW(ctx, q.pathAt(q.pos))
	if err != nil {
		return false, nil, errwrap.Wrapf(err, "arm successor watch at %s", q.pathAt(q.pos))
	}
	return exists, watch, nil
}

// RewriteCurrent decrements pos and overwrites the znode at the resulting
// position with ev. This is the rewrite-in-place mechanism: the slot's
// sequence number, and therefore its position in the total order, never
// changes, only its payload (§4.3).
func (q *EventQueue) RewriteCurrent(ctx context.Context, ev Event) error {
	q.pos--
	data, err := MarshalEvent(ev, q.maxEventBufSize)
	if err != nil {
		return errwrap.Wrapf(err, "marshal event for rewrite")
	}
	path := q.pathAt(q.pos)
	if err := q.cc.Set(ctx, path, data, -1); err != nil {
		return errwrap.Wrapf(err, "set queue node %s", path)
	}
	return nil
}
