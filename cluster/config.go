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

import "time"

// Default tunables, named the way the teacher names its constants block
// rather than buried as magic numbers at each call site.
const (
	// DefaultBasePath is the root znode under which the member/ and
	// queue/ namespaces live.
	DefaultBasePath = "/sheepdog"

	// DefaultMemberCreateTimeout bounds how long a master waits for a
	// newly-admitted joiner's ephemeral member znode to appear.
	DefaultMemberCreateTimeout = 30 * time.Second

	// DefaultMemberCreateInterval is the poll step within
	// DefaultMemberCreateTimeout.
	DefaultMemberCreateInterval = 10 * time.Millisecond

	// DefaultLeaveChannelCapacity sizes the LeaveChannel ring buffer.
	DefaultLeaveChannelCapacity = 256

	// DefaultSessionTimeout is the coordination-service session timeout
	// passed to zk.Connect.
	DefaultSessionTimeout = 10 * time.Second

	// DefaultMaxEventBufSize caps the opaque payload carried on a single
	// event when Config.MaxEventBufSize is left at zero. The wire format
	// itself has no hard limit beyond the uint64 length prefix.
	DefaultMaxEventBufSize uint64 = 1 << 20 // 1 MiB
)

// Config carries every tunable of a Driver. Zero-valued fields are replaced
// by their Default* constant in NewDriver, so callers only need to set the
// fields they want to override.
type Config struct {
	// BasePath is the root znode, see DefaultBasePath.
	BasePath string

	// MaxEventBufSize caps the opaque payload carried on a single event.
	// Zero means DefaultMaxEventBufSize.
	MaxEventBufSize uint64

	// MemberCreateTimeout and MemberCreateInterval bound the master's
	// poll loop waiting for a joiner's ephemeral znode, per §4.6.
	MemberCreateTimeout  time.Duration
	MemberCreateInterval time.Duration

	// LeaveChannelCapacity sizes the LeaveChannel ring buffer; it should
	// be at least the cluster's maximum expected member count.
	LeaveChannelCapacity int

	// SessionTimeout is passed to the underlying zk.Connect call.
	SessionTimeout time.Duration
}

// withDefaults returns a copy of cfg with every zero-valued field replaced by
// its default.
func (cfg Config) withDefaults() Config {
	if cfg.BasePath == "" {
		cfg.BasePath = DefaultBasePath
	}
	if cfg.MaxEventBufSize == 0 {
		cfg.MaxEventBufSize = DefaultMaxEventBufSize
	}
	if cfg.MemberCreateTimeout == 0 {
		cfg.MemberCreateTimeout = DefaultMemberCreateTimeout
	}
	if cfg.MemberCreateInterval == 0 {
		cfg.MemberCreateInterval = DefaultMemberCreateInterval
	}
	if cfg.LeaveChannelCapacity == 0 {
		cfg.LeaveChannelCapacity = DefaultLeaveChannelCapacity
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	return cfg
}

func (cfg Config) memberPath() string {
	return cfg.BasePath + "/member"
}

func (cfg Config) queuePath() string {
	return cfg.BasePath + "/queue"
}

func (cfg Config) memberNodePath(node NodeID) string {
	return cfg.memberPath() + "/" + node.String()
}
