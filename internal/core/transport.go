package core

import (
	"errors"

	"github.com/dkeye/Rendezvous/internal/domain"
)

// ErrUnknownTarget is returned by SendTo when no live connection has the id.
var ErrUnknownTarget = errors.New("target connection is not connected")

// Transport is what the signaling core needs from the connection layer.
// Every method must be non-blocking: implementations enqueue and return.
type Transport interface {
	// SendTo delivers an event to one connection. Unknown ids are reported
	// with an error and otherwise ignored.
	SendTo(sid SessionID, event string, payload any) error
	// BroadcastToGroup delivers an event to every connection in the group
	// except exclude (pass "" to exclude nobody).
	BroadcastToGroup(room domain.RoomID, event string, payload any, exclude SessionID)
	// JoinGroup and LeaveGroup maintain the transport's addressing groups.
	// They are a delivery hint; the membership store stays authoritative.
	JoinGroup(sid SessionID, room domain.RoomID)
	LeaveGroup(sid SessionID, room domain.RoomID)
}
