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

// EventType discriminates the Event union.
type EventType uint32

// The five event variants carried on the queue (and, for LEAVE, also on the
// side-channel).
const (
	JoinRequest EventType = iota
	JoinResponse
	Leave
	Block
	Notify
)

func (t EventType) String() string {
	switch t {
	case JoinRequest:
		return "JOIN_REQUEST"
	case JoinResponse:
		return "JOIN_RESPONSE"
	case Leave:
		return "LEAVE"
	case Block:
		return "BLOCK"
	case Notify:
		return "NOTIFY"
	default:
		return fmt.Sprintf("EventType(%d)", uint32(t))
	}
}

// IsBlocking reports whether delivering t halts the queue at every node until
// its originator rewrites it in place (or its member znode is deleted).
func (t EventType) IsBlocking() bool {
	return t == Block || t == JoinRequest
}

// JoinResult is the master's verdict on a JOIN_REQUEST, stamped onto the
// derived JOIN_RESPONSE.
type JoinResult uint32

const (
	// JoinSuccess admits the requester as a full member.
	JoinSuccess JoinResult = iota
	// JoinLater is handled by the driver like JoinSuccess: the requester is
	// inserted into MemberSet and creates its member znode.
	JoinLater
	// JoinMasterTransfer tells the requester it is becoming the new
	// master; the current master leaves immediately after publishing
	// this result.
	JoinMasterTransfer
	// JoinFail rejects the requester outright.
	JoinFail
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "SUCCESS"
	case JoinLater:
		return "JOIN_LATER"
	case JoinMasterTransfer:
		return "MASTER_TRANSFER"
	case JoinFail:
		return "FAIL"
	default:
		return fmt.Sprintf("JoinResult(%d)", uint32(r))
	}
}

// Event is the tagged union stored at each queue position (and, for LEAVE,
// passed through the LeaveChannel side-channel).
type Event struct {
	Type       EventType
	Sender     MemberRecord
	JoinResult JoinResult // meaningful only when Type == JoinResponse
	Buf        []byte     // opaque payload, length <= Config.MaxEventBufSize
}

func (e Event) clone() Event {
	buf := make([]byte, len(e.Buf))
	copy(buf, e.Buf)
	return Event{Type: e.Type, Sender: e.Sender.clone(), JoinResult: e.JoinResult, Buf: buf}
}
