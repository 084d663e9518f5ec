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
	"strings"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/samuel/go-zookeeper/zk"
	"github.com/sirupsen/logrus"

	"github.com/matsu777/sheepdog/util/errwrap"
)

// coordClient is the facade CoordClient presents to the rest of the driver.
// It exists so EventQueue, MemberSet loading, and Driver can be exercised
// against an in-memory fake in tests (see fakecoord_test.go) without a live
// ZooKeeper ensemble.
type coordClient interface {
	// EnsureParent creates path as a persistent node if it doesn't already
	// exist. A "node exists" result is success (idempotent).
	EnsureParent(ctx context.Context, path string) error

	// CreateSequential creates a sequential child of path and returns the
	// full path the coordination service assigned, including its numeric
	// suffix.
	CreateSequential(ctx context.Context, path string, data []byte) (string, error)

	// CreateEphemeral creates path as an ephemeral node.
	CreateEphemeral(ctx context.Context, path string, data []byte) error

	// Delete removes path. version -1 means "any version".
	Delete(ctx context.Context, path string, version int32) error

	// Set overwrites path's data. version -1 means "any version".
	Set(ctx context.Context, path string, data []byte, version int32) error

	// Get reads path's data without arming a watch.
	Get(ctx context.Context, path string) (data []byte, exists bool, err error)

	// Exists checks for path's existence without arming a watch.
	Exists(ctx context.Context, path string) (exists bool, err error)

	// GetW reads path's data and arms a one-shot watch that fires on the
	// next data change or deletion of path.
	GetW(ctx context.Context, path string) (data []byte, exists bool, watch <-chan zk.Event, err error)

	// ExistsW checks for path's existence and arms a one-shot watch that
	// fires the next time path is created, changed, or deleted.
	ExistsW(ctx context.Context, path string) (exists bool, watch <-chan zk.Event, err error)

	// Children lists path's children without arming a watch.
	Children(ctx context.Context, path string) ([]string, error)

	// SessionID returns the coordination-service session id currently
	// cached from the last SESSION_EVENT observed.
	SessionID() int64

	// Close tears down the underlying connection.
	Close() error
}

// zkCoordClient wraps a *zk.Conn with indefinite retries of the transient
// error classes and a cached session id, per §4.1.
type zkCoordClient struct {
	conn      *zk.Conn
	acl       []zk.ACL
	sessionID int64 // atomic
	log       *logrus.Entry
}

// newZKCoordClient dials connectString (comma-separated host:port pairs) and
// returns a ready coordClient. The caller must drain events from the
// returned session channel via runSessionWatcher for SessionID to stay fresh.
func newZKCoordClient(connectString string, sessionTimeout time.Duration, log *logrus.Entry) (*zkCoordClient, <-chan zk.Event, error) {
	servers := strings.Split(connectString, ",")
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, nil, errwrap.Wrapf(err, "zk connect")
	}
	c := &zkCoordClient{
		conn: conn,
		acl:  zk.WorldACL(zk.PermAll),
		log:  log,
	}
	return c, events, nil
}

// runSessionWatcher drains the global session event channel until ctx is
// cancelled or the channel closes, refreshing the cached session id and
// detecting terminal session expiry, per §4.1 and §7. It never touches
// MemberSet, the cursor, or BlockingController, only CoordClient's own
// session cache.
func (c *zkCoordClient) runSessionWatcher(ctx context.Context, events <-chan zk.Event) <-chan error {
	fatal := make(chan error, 1)
	go func() {
		defer close(fatal)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type != zk.EventSession {
					continue
				}
				switch ev.State {
				case zk.StateHasSession:
					atomic.StoreInt64(&c.sessionID, c.conn.SessionID())
				case zk.StateExpired:
					fatal <- ErrSessionExpired
					return
				}
			}
		}
	}()
	return fatal
}

func (c *zkCoordClient) SessionID() int64 {
	return atomic.LoadInt64(&c.sessionID)
}

func (c *zkCoordClient) Close() error {
	c.conn.Close()
	return nil
}

// retryForever retries op on the transient error classes until it succeeds,
// ctx is cancelled, or op returns a non-transient error. Backoff is seeded
// with jpillora/backoff, mirroring the exponential-reconnect-delay idiom the
// pack uses for coordination-service flakiness.
func retryForever(ctx context.Context, log *logrus.Entry, op func() error) error {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		d := b.Duration()
		log.WithError(err).Debugf("transient coordination error, retrying in %s", d)
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isTransient reports whether err belongs to the OPERATION_TIMEOUT /
// CONNECTION_LOSS classes that CoordClient retries indefinitely, per §4.1
// and §7.
func isTransient(err error) bool {
	switch err {
	case zk.ErrConnectionClosed, zk.ErrNoServer:
		return true
	}
	return false
}

func (c *zkCoordClient) EnsureParent(ctx context.Context, path string) error {
	return retryForever(ctx, c.log, func() error {
		_, err := c.conn.Create(path, []byte{}, 0, c.acl)
		if err == zk.ErrNodeExists {
			return nil // idempotent
		}
		return err
	})
}

func (c *zkCoordClient) CreateSequential(ctx context.Context, path string, data []byte) (string, error) {
	var created string
	err := retryForever(ctx, c.log, func() error {
		var err error
		created, err = c.conn.Create(path, data, zk.FlagSequence, c.acl)
		return err
	})
	return created, err
}

func (c *zkCoordClient) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	return retryForever(ctx, c.log, func() error {
		_, err := c.conn.Create(path, data, zk.FlagEphemeral, c.acl)
		return err
	})
}

func (c *zkCoordClient) Delete(ctx context.Context, path string, version int32) error {
	return retryForever(ctx, c.log, func() error {
		err := c.conn.Delete(path, version)
		if err == zk.ErrNoNode {
			return nil
		}
		return err
	})
}

func (c *zkCoordClient) Set(ctx context.Context, path string, data []byte, version int32) error {
	return retryForever(ctx, c.log, func() error {
		_, err := c.conn.Set(path, data, version)
		return err
	})
}

func (c *zkCoordClient) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var data []byte
	var exists bool
	err := retryForever(ctx, c.log, func() error {
		var err error
		data, _, err = c.conn.Get(path)
		if err == zk.ErrNoNode {
			exists = false
			return nil
		}
		exists = err == nil
		return err
	})
	return data, exists, err
}

func (c *zkCoordClient) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := retryForever(ctx, c.log, func() error {
		var err error
		exists, _, err = c.conn.Exists(path)
		return err
	})
	return exists, err
}

func (c *zkCoordClient) GetW(ctx context.Context, path string) ([]byte, bool, <-chan zk.Event, error) {
	var data []byte
	var exists bool
	var watch <-chan zk.Event
	err := retryForever(ctx, c.log, func() error {
		var err error
		data, _, watch, err = c.conn.GetW(path)
		if err == zk.ErrNoNode {
			exists = false
			return nil
		}
		exists = err == nil
		return err
	})
	return data, exists, watch, err
}

func (c *zkCoordClient) ExistsW(ctx context.Context, path string) (bool, <-chan zk.Event, error) {
	var exists bool
	var watch <-chan zk.Event
	err := retryForever(ctx, c.log, func() error {
		var err error
		exists, _, watch, err = c.conn.ExistsW(path)
		return err
	})
	return exists, watch, err
}

func (c *zkCoordClient) Children(ctx context.Context, path string) ([]string, error) {
	var children []string
	err := retryForever(ctx, c.log, func() error {
		var err error
		children, _, err = c.conn.Children(path)
		if err == zk.ErrNoNode {
			children = nil
			return nil
		}
		return err
	})
	return children, err
}
