package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/app/turn"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type JoinRequest struct {
	Nickname string `json:"nickname" validate:"max=64"`
	RoomID   string `json:"roomId" validate:"omitempty,max=64,printascii"`
}

type CreateRoomReply struct {
	RoomID domain.RoomID `json:"roomId"`
}

// UsersList is unicast to a joiner: who is already there, plus its relay
// credential.
type UsersList struct {
	RoomID     domain.RoomID      `json:"roomId"`
	Users      []domain.User      `json:"users"`
	TurnConfig turn.Credential    `json:"turnConfig"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// CreateRoom registers an empty room. The requester is not joined; it must
// send a separate join.
func (o *Orchestrator) CreateRoom(sid core.SessionID) CreateRoomReply {
	if o.Global {
		return CreateRoomReply{RoomID: domain.GlobalRoom}
	}
	id := o.Registry.CreateRoom(sid)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(id)).Msg("room created")
	return CreateRoomReply{RoomID: id}
}

// Join registers sid under req.Nickname in req.RoomID (created on demand).
// The joiner gets the users-list before anyone hears user-joined.
func (o *Orchestrator) Join(sid core.SessionID, req JoinRequest) error {
	room := domain.RoomID(req.RoomID)
	if o.Global {
		room = domain.GlobalRoom
	}
	if room == "" {
		return fmt.Errorf("join: %w: roomId is required", ErrMalformedPayload)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	res, err := o.Registry.Join(sid, req.Nickname, room)
	if errors.Is(err, domain.ErrNicknameTooLong) || errors.Is(err, app.ErrEmptyRoomID) {
		return fmt.Errorf("join: %w: %v", ErrMalformedPayload, err)
	}
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	if res.Left != nil {
		o.announceDeparture(sid, *res.Left)
	}
	o.Transport.JoinGroup(sid, room)

	cred := o.Credentials.Issue()
	reply := UsersList{
		RoomID:     room,
		Users:      res.Others,
		TurnConfig: cred,
		ICEServers: o.Credentials.ICEServers(cred),
	}
	if err := o.Transport.SendTo(sid, core.EventUsersList, reply); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("users-list not delivered")
	}

	switch {
	case !res.AlreadyMember:
		o.Transport.BroadcastToGroup(room, core.EventUserJoined, res.User, sid)
	case res.Renamed:
		o.Transport.BroadcastToGroup(room, core.EventUserUpdated, res.User, sid)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room)).Str("nickname", req.Nickname).Int("others", len(res.Others)).Msg("joined")
	return nil
}
