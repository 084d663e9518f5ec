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
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/samuel/go-zookeeper/zk"
)

// fakeNode is one entry of fakeCoordClient's in-memory znode tree.
type fakeNode struct {
	data []byte
}

// fakeCoordClient is an in-memory stand-in for coordClient, built directly
// against the same interface the zk-backed implementation satisfies, the way
// the teacher's own etcd_test.go exercises EmbdEtcd without a live cluster.
// Watches are one-shot per path, exactly like real ZooKeeper: a registered
// watcher fires (and is discarded) on the next create, set, or delete of
// that exact path.
type fakeCoordClient struct {
	mu       sync.Mutex
	nodes    map[string]*fakeNode
	seqNext  map[string]int64
	watchers map[string][]chan zk.Event

	sessionID int64 // atomic
}

func newFakeCoordClient() *fakeCoordClient {
	return &fakeCoordClient{
		nodes:     make(map[string]*fakeNode),
		seqNext:   make(map[string]int64),
		watchers:  make(map[string][]chan zk.Event),
		sessionID: 1,
	}
}

func (f *fakeCoordClient) fireLocked(path string, evType zk.EventType) []chan zk.Event {
	chans := f.watchers[path]
	delete(f.watchers, path)
	return chans
}

func (f *fakeCoordClient) notify(chans []chan zk.Event, path string, evType zk.EventType) {
	for _, ch := range chans {
		ch <- zk.Event{Type: evType, Path: path}
	}
}

func (f *fakeCoordClient) EnsureParent(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; !ok {
		f.nodes[path] = &fakeNode{data: []byte{}}
	}
	return nil
}

func (f *fakeCoordClient) CreateSequential(ctx context.Context, path string, data []byte) (string, error) {
	f.mu.Lock()
	prefix := strings.TrimSuffix(path, "/")
	seq := f.seqNext[prefix]
	f.seqNext[prefix] = seq + 1
	full := fmt.Sprintf("%s/%010d", prefix, seq)
	f.nodes[full] = &fakeNode{data: append([]byte(nil), data...)}
	chans := f.fireLocked(full, zk.EventNodeCreated)
	f.mu.Unlock()
	f.notify(chans, full, zk.EventNodeCreated)
	return full, nil
}

func (f *fakeCoordClient) CreateEphemeral(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	if _, exists := f.nodes[path]; exists {
		f.mu.Unlock()
		return zk.ErrNodeExists
	}
	f.nodes[path] = &fakeNode{data: append([]byte(nil), data...)}
	chans := f.fireLocked(path, zk.EventNodeCreated)
	f.mu.Unlock()
	f.notify(chans, path, zk.EventNodeCreated)
	return nil
}

func (f *fakeCoordClient) Delete(ctx context.Context, path string, version int32) error {
	f.mu.Lock()
	if _, ok := f.nodes[path]; !ok {
		f.mu.Unlock()
		return nil // EnsureParent-style idempotence mirrors zkCoordClient.Delete
	}
	delete(f.nodes, path)
	chans := f.fireLocked(path, zk.EventNodeDeleted)
	f.mu.Unlock()
	f.notify(chans, path, zk.EventNodeDeleted)
	return nil
}

func (f *fakeCoordClient) Set(ctx context.Context, path string, data []byte, version int32) error {
	f.mu.Lock()
	node, ok := f.nodes[path]
	if !ok {
		f.mu.Unlock()
		return zk.ErrNoNode
	}
	node.data = append([]byte(nil), data...)
	chans := f.fireLocked(path, zk.EventNodeDataChanged)
	f.mu.Unlock()
	f.notify(chans, path, zk.EventNodeDataChanged)
	return nil
}

func (f *fakeCoordClient) Get(ctx context.Context, path string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[path]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), node.data...), true, nil
}

func (f *fakeCoordClient) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path]
	return ok, nil
}

// GetW mirrors zkCoordClient.GetW: a path that doesn't exist arms no watch,
// exactly as real ZooKeeper's GetW returns ErrNoNode without registering one.
func (f *fakeCoordClient) GetW(ctx context.Context, path string) ([]byte, bool, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.nodes[path]
	if !ok {
		return nil, false, nil, nil
	}
	ch := make(chan zk.Event, 1)
	f.watchers[path] = append(f.watchers[path], ch)
	return append([]byte(nil), node.data...), true, ch, nil
}

func (f *fakeCoordClient) ExistsW(ctx context.Context, path string) (bool, <-chan zk.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan zk.Event, 1)
	f.watchers[path] = append(f.watchers[path], ch)
	_, ok := f.nodes[path]
	return ok, ch, nil
}

func (f *fakeCoordClient) Children(ctx context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := path + "/"
	var out []string
	for key := range f.nodes {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if strings.Contains(rest, "/") {
			continue
		}
		out = append(out, rest)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeCoordClient) SessionID() int64 {
	return atomic.LoadInt64(&f.sessionID)
}

func (f *fakeCoordClient) Close() error {
	return nil
}

var _ coordClient = (*fakeCoordClient)(nil)
