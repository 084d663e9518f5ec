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

import "sync/atomic"

// BlockingController holds the single block/unblock flag implementing the
// distributed critical section of §4.5. While blocked, the dispatcher must
// not deliver any event other than LEAVE (I5).
type BlockingController struct {
	notifyBlocked atomic.Bool
}

// IsBlocked reports the current state.
func (b *BlockingController) IsBlocked() bool {
	return b.notifyBlocked.Load()
}

// SetBlocked transitions IDLE -> BLOCKED. Calling it while already blocked is
// a structural bug: the BLOCK handler is only ever supposed to run once
// before an Unblock clears the flag, so we assert rather than silently
// clobbering state.
func (b *BlockingController) SetBlocked() {
	swapped := b.notifyBlocked.CompareAndSwap(false, true)
	assertf(swapped, "SetBlocked called while notifyBlocked was already true")
}

// ClearBlocked transitions BLOCKED -> IDLE, used by the unblock protocol.
func (b *BlockingController) ClearBlocked() {
	b.notifyBlocked.Store(false)
}
