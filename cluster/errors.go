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

import "fmt"

// ErrStaleSession is returned by Join when this node's own ephemeral member
// znode already exists at join time, which means a previous session of ours
// is still registered (or hasn't expired yet). This is fatal: the daemon is
// expected to exit and let its supervisor restart it with a fresh session.
var ErrStaleSession = fmt.Errorf("cluster: member znode for this node already exists (stale session)")

// ErrSessionExpired indicates the coordination-service session was lost and
// cannot be recovered in place. The session watcher started by Init reports
// it, and Init logs it and posts a dispatcher wakeup. Run does not return
// this error, and nothing else in the driver acts on it.
var ErrSessionExpired = fmt.Errorf("cluster: coordination-service session expired")

// protocolViolation marks an error as a structural invariant breach (e.g. a
// get-data failing on an event we just observed the existence of, or setting
// the block flag while it's already set). These are not supposed to be
// recoverable: they indicate a bug in the driver or an unexpected coordination
// service behavior, so the caller asserts rather than limping onward.
type protocolViolation struct {
	msg string
}

func (e *protocolViolation) Error() string { return "protocol violation: " + e.msg }

// assertf panics with a protocolViolation if cond is false. It exists so
// structural invariants (I1-I5) read as assertions at the point they're
// relied upon, rather than being silently trusted.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&protocolViolation{msg: fmt.Sprintf(format, args...)})
	}
}
