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
	"fmt"
	"sync"

	"github.com/samuel/go-zookeeper/zk"
	"github.com/sirupsen/logrus"

	"github.com/matsu777/sheepdog/internal/metrics"
	"github.com/matsu777/sheepdog/util/errwrap"
)

// ErrMasterTransferring is returned by Run when this node was the master and
// has just granted mastership to a joiner via JoinMasterTransfer. Per the
// data model, only one node is ever alive across a master-transfer boundary:
// the caller is expected to leave and exit, exactly like the node that loses
// a join-request race in the original design.
var ErrMasterTransferring = fmt.Errorf("cluster: master transferred to a newly admitted joiner, exiting")

// opRequest carries one serialized external-API call into the dispatcher
// goroutine, mirroring the teacher's "struct + resp channel" idiom (AW/KV/GQ
// in etcd/etcd.go, event.Resp in event/event.go): every Driver method that
// touches MemberSet, the EventQueue cursor, or BlockingController builds one
// of these and waits on resp rather than touching that state itself.
type opRequest struct {
	apply func(ctx context.Context, d *Driver) error
	resp  chan error
}

// Driver is the external surface: a long-lived handle on one node's
// membership in the cluster and its view of the ordered event stream. All of
// its fields are owned by the single dispatcher goroutine started by Run,
// except opCh/leaveCh/cc/log/cfg/cbs, which are safe for concurrent use by
// construction (§5).
type Driver struct {
	cfg Config
	cbs Callbacks
	log *logrus.Entry

	cc coordClient

	self       NodeID
	selfOpaque []byte

	members *MemberSet
	queue   *EventQueue
	leaveCh *LeaveChannel
	block   BlockingController
	stats   *metrics.Stats

	// blockedBy is the node that issued the current BLOCK, valid only
	// while block.IsBlocked(); used by LeaveChannel rule B to recognize
	// a dead blocker.
	blockedBy NodeID

	// curWatch is whatever watch channel should wake the dispatcher next
	// for queue-related reasons; re-armed after every drainOnce that
	// touches the queue.
	curWatch <-chan zk.Event

	// watchedMembers tracks which member nodes currently have a live
	// per-node ExistsW watcher goroutine running, keyed by NodeID.String,
	// so Run doesn't spawn duplicates across repeated membership churn.
	watchedMembers map[string]context.CancelFunc
	watchersWG     sync.WaitGroup

	opCh   chan opRequest
	wakeup chan struct{}

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewDriver constructs a Driver from cfg and cbs. It does not touch the
// coordination service; call Init to connect and Run to start processing.
func NewDriver(cfg Config, cbs Callbacks, log *logrus.Entry) *Driver {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{
		cfg:            cfg,
		cbs:            cbs,
		log:            log,
		members:        NewMemberSet(),
		leaveCh:        NewLeaveChannel(cfg.LeaveChannelCapacity),
		stats:          metrics.NewStats(),
		watchedMembers: make(map[string]context.CancelFunc),
		opCh:           make(chan opRequest),
		wakeup:         make(chan struct{}, 1),
	}
}

// Init connects to the coordination service at connectString and ensures the
// base znode layout exists (§4.1, §4.2). It must be called once, before Join
// and before Run.
func (d *Driver) Init(ctx context.Context, connectString string) error {
	cc, sessionEvents, err := newZKCoordClient(connectString, d.cfg.SessionTimeout, d.log)
	if err != nil {
		return errwrap.Wrapf(err, "connect to coordination service")
	}
	d.cc = cc
	fatal := cc.runSessionWatcher(ctx, sessionEvents)
	go func() {
		if err, ok := <-fatal; ok {
			d.log.WithError(err).Error("coordination-service session lost")
			d.postWakeup()
		}
	}()

	return d.initWithCoordClient(ctx, cc)
}

// initWithCoordClient is the coordination-service-agnostic half of Init,
// split out so tests can wire a Driver to an in-memory fake without a real
// zk.Conn.
func (d *Driver) initWithCoordClient(ctx context.Context, cc coordClient) error {
	d.cc = cc
	for _, p := range []string{d.cfg.BasePath, d.cfg.memberPath(), d.cfg.queuePath()} {
		if err := d.cc.EnsureParent(ctx, p); err != nil {
			return errwrap.Wrapf(err, "ensure parent znode %s", p)
		}
	}
	d.queue = NewEventQueue(d.cc, d.cfg.BasePath, 0, d.cfg.MaxEventBufSize)
	return nil
}

// Join publishes a JOIN_REQUEST for self, carrying opaque as the request
// payload examined by the master's CheckJoin callback (§4.6, Join scenario).
// It returns ErrStaleSession without touching the queue if self's own member
// znode is already present, matching the original "shoot myself" guard: a
// prior session of ours is still registered, and the caller should exit and
// let its supervisor retry with a fresh session.
func (d *Driver) Join(ctx context.Context, self NodeID, opaque []byte) error {
	exists, err := d.cc.Exists(ctx, d.cfg.memberNodePath(self))
	if err != nil {
		return errwrap.Wrapf(err, "check own member znode before join")
	}
	if exists {
		return ErrStaleSession
	}
	d.self = append(NodeID(nil), self...)
	d.selfOpaque = append([]byte(nil), opaque...)

	ev := Event{
		Type:   JoinRequest,
		Sender: MemberRecord{Node: d.self, SessionID: d.cc.SessionID(), Joined: false},
		Buf:    opaque,
	}
	if err := d.queue.Push(ctx, ev); err != nil {
		return errwrap.Wrapf(err, "push join request")
	}
	d.postWakeup()
	return nil
}

// Leave removes self's ephemeral member znode, the mechanism that propagates
// a LEAVE to every other node via their per-node watchers (§4.4).
func (d *Driver) Leave(ctx context.Context) error {
	return d.cc.Delete(ctx, d.cfg.memberNodePath(d.self), -1)
}

// Notify publishes a NOTIFY event carrying msg to every node, delivered in
// total order relative to every other queued event (§4.6).
func (d *Driver) Notify(ctx context.Context, msg []byte) error {
	ev := Event{
		Type:   Notify,
		Sender: MemberRecord{Node: d.self, SessionID: d.cc.SessionID(), Joined: true},
		Buf:    msg,
	}
	if err := d.queue.Push(ctx, ev); err != nil {
		return errwrap.Wrapf(err, "push notify")
	}
	d.postWakeup()
	return nil
}

// Block publishes a BLOCK event, which halts delivery of every subsequent
// non-LEAVE event cluster-wide until this node calls Unblock (§4.5, I5).
func (d *Driver) Block(ctx context.Context) error {
	ev := Event{
		Type:   Block,
		Sender: MemberRecord{Node: d.self, SessionID: d.cc.SessionID(), Joined: true},
	}
	if err := d.queue.Push(ctx, ev); err != nil {
		return errwrap.Wrapf(err, "push block")
	}
	d.postWakeup()
	return nil
}

// Unblock ends a block this node previously issued with Block, rewriting it
// in place into a NOTIFY carrying msg (§4.5). It must run on the dispatcher
// goroutine since it directly manipulates the queue cursor and
// BlockingController, so it is submitted as an opRequest like every other
// queue-cursor-touching call.
func (d *Driver) Unblock(ctx context.Context, msg []byte) error {
	return d.submit(ctx, func(ctx context.Context, d *Driver) error {
		return d.doUnblock(ctx, msg)
	})
}

func (d *Driver) doUnblock(ctx context.Context, msg []byte) error {
	ev, ok, _, err := d.queue.PeekAndPop(ctx)
	if err != nil {
		return errwrap.Wrapf(err, "peek current event for unblock")
	}
	assertf(ok, "Unblock called with nothing at the current cursor position")
	assertf(ev.Type == Block, "Unblock called but current event is %s, not BLOCK", ev.Type)

	notify := Event{
		Type:   Notify,
		Sender: ev.Sender,
		Buf:    msg,
	}
	if err := d.queue.RewriteCurrent(ctx, notify); err != nil {
		return errwrap.Wrapf(err, "rewrite block as notify")
	}
	d.block.ClearBlocked()
	d.postWakeup()
	return nil
}

// submit hands op to the dispatcher goroutine and waits for it to run,
// matching the teacher's ACK/NACK-over-a-channel idiom.
func (d *Driver) submit(ctx context.Context, op func(ctx context.Context, d *Driver) error) error {
	req := opRequest{apply: op, resp: make(chan error, 1)}
	select {
	case d.opCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.runDone:
		return fmt.Errorf("cluster: driver is not running")
	}
	select {
	case err := <-req.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postWakeup nudges the dispatcher loop without blocking; a wakeup already
// pending is sufficient, matching the original single eventfd's
// coalescing-writes semantics.
func (d *Driver) postWakeup() {
	select {
	case d.wakeup <- struct{}{}:
	default:
	}
}

// Stats returns a point-in-time snapshot of the driver's internal counters
// (§4.9, supplemental).
func (d *Driver) Stats() metrics.Snapshot {
	return d.stats.Snapshot()
}

// Run starts the single dispatcher goroutine and blocks until ctx is
// cancelled, a fatal coordination error occurs, or a master transfer requires
// this node to exit. It must be called exactly once.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.runCancel = cancel
	d.runDone = make(chan struct{})
	defer close(d.runDone)
	defer cancel()

	return d.dispatchLoop(ctx)
}

// Close tears down the coordination-service connection and stops any
// outstanding member-watcher goroutines. Aggregates independent teardown
// errors the way util/errwrap.Append does throughout the rest of the driver.
func (d *Driver) Close() error {
	if d.runCancel != nil {
		d.runCancel()
	}
	d.watchersWG.Wait()

	var retErr error
	if d.cc != nil {
		if err := d.cc.Close(); err != nil {
			retErr = errwrap.Append(retErr, errwrap.Wrapf(err, "close coordination client"))
		}
	}
	return retErr
}

// watchMemberDeletion starts (if not already running) a per-node watcher
// goroutine that re-arms an ExistsW on node's member znode until it observes
// a deletion, at which point it pushes a LEAVE onto the LeaveChannel and
// posts a wakeup, then exits (§4.4). Called only from the dispatcher
// goroutine.
func (d *Driver) watchMemberDeletion(ctx context.Context, node NodeID) {
	key := node.String()
	if _, ok := d.watchedMembers[key]; ok {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	d.watchedMembers[key] = cancel
	d.watchersWG.Add(1)
	go func() {
		defer d.watchersWG.Done()
		path := d.cfg.memberNodePath(node)
		for {
			exists, watch, err := d.cc.ExistsW(wctx, path)
			if err != nil {
				// ExistsW already retries every transient error
				// forever; anything surfacing here is either ctx
				// cancellation or a non-transient coordination
				// error, neither of which this watcher can repair.
				if wctx.Err() == nil {
					d.log.WithError(err).WithField("node", node.String()).
						Warn("member watch failed, giving up")
				}
				return
			}
			if !exists {
				if err := d.leaveCh.PushLeave(node); err != nil {
					d.log.WithError(err).WithField("node", node.String()).
						Error("leave channel full, dropping leave")
				}
				d.postWakeup()
				return
			}
			select {
			case ev := <-watch:
				if ev.Type == zk.EventNodeDeleted {
					if err := d.leaveCh.PushLeave(node); err != nil {
						d.log.WithError(err).WithField("node", node.String()).
							Error("leave channel full, dropping leave")
					}
					d.postWakeup()
					return
				}
				// Created/Changed: loop and re-arm.
			case <-wctx.Done():
				return
			}
		}
	}()
}

// stopWatchingMember cancels node's watcher goroutine, if any, used once its
// LEAVE has been fully processed so a future re-join starts a fresh watcher.
func (d *Driver) stopWatchingMember(node NodeID) {
	key := node.String()
	if cancel, ok := d.watchedMembers[key]; ok {
		cancel()
		delete(d.watchedMembers, key)
	}
}
