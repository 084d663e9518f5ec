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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/matsu777/sheepdog/util/errwrap"
)

// marshalMemberRecord writes {NodeLen u32, Node []byte, SessionID i64, Joined bool}.
func marshalMemberRecord(buf *bytes.Buffer, m MemberRecord) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(m.Node))); err != nil {
		return errwrap.Wrapf(err, "write node length")
	}
	if _, err := buf.Write(m.Node); err != nil {
		return errwrap.Wrapf(err, "write node")
	}
	if err := binary.Write(buf, binary.BigEndian, m.SessionID); err != nil {
		return errwrap.Wrapf(err, "write session id")
	}
	var joined uint8
	if m.Joined {
		joined = 1
	}
	if err := binary.Write(buf, binary.BigEndian, joined); err != nil {
		return errwrap.Wrapf(err, "write joined flag")
	}
	return nil
}

func unmarshalMemberRecord(r *bytes.Reader) (MemberRecord, error) {
	var nodeLen uint32
	if err := binary.Read(r, binary.BigEndian, &nodeLen); err != nil {
		return MemberRecord{}, errwrap.Wrapf(err, "read node length")
	}
	node := make([]byte, nodeLen)
	if _, err := io.ReadFull(r, node); err != nil {
		return MemberRecord{}, errwrap.Wrapf(err, "read node")
	}
	var sessionID int64
	if err := binary.Read(r, binary.BigEndian, &sessionID); err != nil {
		return MemberRecord{}, errwrap.Wrapf(err, "read session id")
	}
	var joined uint8
	if err := binary.Read(r, binary.BigEndian, &joined); err != nil {
		return MemberRecord{}, errwrap.Wrapf(err, "read joined flag")
	}
	return MemberRecord{Node: NodeID(node), SessionID: sessionID, Joined: joined != 0}, nil
}

// MarshalMemberRecord serializes m alone, the format stored as the data of a
// member znode (§6).
func MarshalMemberRecord(m MemberRecord) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := marshalMemberRecord(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalMemberRecord is the inverse of MarshalMemberRecord.
func UnmarshalMemberRecord(data []byte) (MemberRecord, error) {
	return unmarshalMemberRecord(bytes.NewReader(data))
}

// MarshalEvent packs e into the bit-exact wire format described in the
// coordination-service external interface: a fixed header followed by a
// length-prefixed payload. It returns an error if e.Buf exceeds maxBufSize,
// the caller's configured Config.MaxEventBufSize.
func MarshalEvent(e Event, maxBufSize uint64) ([]byte, error) {
	if uint64(len(e.Buf)) > maxBufSize {
		return nil, fmt.Errorf("event payload of %d bytes exceeds configured maximum of %d", len(e.Buf), maxBufSize)
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, uint32(e.Type)); err != nil {
		return nil, errwrap.Wrapf(err, "write type")
	}
	if err := marshalMemberRecord(buf, e.Sender); err != nil {
		return nil, errwrap.Wrapf(err, "write sender")
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(e.JoinResult)); err != nil {
		return nil, errwrap.Wrapf(err, "write join result")
	}
	if err := binary.Write(buf, binary.BigEndian, uint64(len(e.Buf))); err != nil {
		return nil, errwrap.Wrapf(err, "write buf length")
	}
	if _, err := buf.Write(e.Buf); err != nil {
		return nil, errwrap.Wrapf(err, "write buf")
	}
	return buf.Bytes(), nil
}

// UnmarshalEvent is the inverse of MarshalEvent. It rejects a declared
// buf_len greater than maxBufSize even if the bytes are present, since a
// node should never trust a peer to exceed the agreed cap.
func UnmarshalEvent(data []byte, maxBufSize uint64) (Event, error) {
	r := bytes.NewReader(data)
	var typ uint32
	if err := binary.Read(r, binary.BigEndian, &typ); err != nil {
		return Event{}, errwrap.Wrapf(err, "read type")
	}
	sender, err := unmarshalMemberRecord(r)
	if err != nil {
		return Event{}, errwrap.Wrapf(err, "read sender")
	}
	var joinResult uint32
	if err := binary.Read(r, binary.BigEndian, &joinResult); err != nil {
		return Event{}, errwrap.Wrapf(err, "read join result")
	}
	var bufLen uint64
	if err := binary.Read(r, binary.BigEndian, &bufLen); err != nil {
		return Event{}, errwrap.Wrapf(err, "read buf length")
	}
	if bufLen > maxBufSize {
		return Event{}, fmt.Errorf("declared buf_len of %d exceeds configured maximum of %d", bufLen, maxBufSize)
	}
	payload := make([]byte, bufLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Event{}, errwrap.Wrapf(err, "read buf")
	}
	return Event{
		Type:       EventType(typ),
		Sender:     sender,
		JoinResult: JoinResult(joinResult),
		Buf:        payload,
	}, nil
}
