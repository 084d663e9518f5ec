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

// Command clusterdriverd runs a single cluster-membership node against a
// ZooKeeper-style coordination service, logging every membership and event
// callback it receives. It exists as a smoke-test harness for the driver, not
// a production daemon: the callbacks it wires always admit joiners and never
// veto a block.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/matsu777/sheepdog/cluster"
)

func waitForSignal(ctx context.Context, cancel context.CancelFunc, log *logrus.Entry) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	case <-ctx.Done():
	}
}

func main() {
	connect := flag.String("connect", "127.0.0.1:2181", "ZooKeeper-style coordination service connect string")
	basePath := flag.String("base-path", cluster.DefaultBasePath, "root znode under which member/ and queue/ live")
	node := flag.String("node", "", "this node's id (defaults to a random uuid)")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clusterdriverd: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	log := logrus.New()
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	self := *node
	if self == "" {
		self = uuid.NewString()
	}

	cbs := cluster.Callbacks{
		JoinHandler: func(n cluster.NodeID, snapshot []cluster.MemberRecord, result cluster.JoinResult) {
			entry.WithFields(logrus.Fields{"node": n.String(), "result": result.String(), "members": len(snapshot)}).
				Info("join processed")
		},
		LeaveHandler: func(n cluster.NodeID, snapshot []cluster.MemberRecord) {
			entry.WithFields(logrus.Fields{"node": n.String(), "members": len(snapshot)}).Info("leave processed")
		},
		NotifyHandler: func(n cluster.NodeID, msg []byte) {
			entry.WithFields(logrus.Fields{"node": n.String(), "bytes": len(msg)}).Info("notify delivered")
		},
		BlockHandler: func(n cluster.NodeID) bool {
			entry.WithField("node", n.String()).Info("block requested")
			return true
		},
	}

	cfg := cluster.Config{BasePath: *basePath}
	driver := cluster.NewDriver(cfg, cbs, entry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := driver.Init(ctx, *connect); err != nil {
		entry.WithError(err).Fatal("failed to connect to coordination service")
	}
	defer func() {
		if err := driver.Close(); err != nil {
			entry.WithError(err).Warn("error during shutdown")
		}
	}()

	if err := driver.Join(ctx, cluster.NodeID(self), nil); err != nil {
		entry.WithError(err).Fatal("failed to publish join request")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- driver.Run(ctx) }()

	entry.WithFields(logrus.Fields{"node": self, "connect": *connect, "base_path": *basePath}).Info("clusterdriverd running")

	go waitForSignal(ctx, cancel, entry)

	select {
	case err := <-runErr:
		cancel()
		if err == cluster.ErrMasterTransferring {
			entry.Info("mastership transferred to a newly admitted joiner, exiting")
			return
		}
		if err != nil && err != context.Canceled {
			entry.WithError(err).Error("dispatcher loop exited with an error")
			os.Exit(1)
		}
	case <-ctx.Done():
		select {
		case <-runErr:
		case <-time.After(5 * time.Second):
			entry.Warn("dispatcher loop did not exit within grace period")
		}
	}
}
