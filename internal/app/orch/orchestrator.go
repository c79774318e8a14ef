package orch

import (
	"errors"
	"sync"

	"github.com/dkeye/Rendezvous/internal/app"
	"github.com/dkeye/Rendezvous/internal/app/turn"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrMalformedPayload = errors.New("malformed payload")

// CredentialIssuer mints the relay credential handed to every joiner.
type CredentialIssuer interface {
	Issue() turn.Credential
	ICEServers(turn.Credential) []webrtc.ICEServer
}

// Orchestrator reacts to connection lifecycle and signaling events. It
// drives the Registry and decides which notifications go to whom.
type Orchestrator struct {
	Registry    *app.Registry
	Credentials CredentialIssuer
	Transport   core.Transport
	// Global collapses every join into the pinned domain.GlobalRoom.
	Global bool

	// mu serialises membership changes with the notifications they cause,
	// so recipients always match the store snapshot.
	mu sync.Mutex
}

func (o *Orchestrator) OnConnect(sid core.SessionID) {
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("client connected")
}

// OnDisconnect runs the single cleanup pass for sid and tells the rest of
// its room. Connections that never joined produce no notification.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := o.Registry.RemoveConnection(sid)
	o.announceDeparture(sid, res)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("client disconnected")
}

func (o *Orchestrator) announceDeparture(sid core.SessionID, res app.RemovalResult) {
	if !res.InRoom {
		return
	}
	o.Transport.LeaveGroup(sid, res.Room)
	if !res.HadUser || len(res.Remaining) == 0 {
		return
	}
	o.Transport.BroadcastToGroup(res.Room, core.EventUserDisconnected, res.User.Departure(), sid)
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("room", string(res.Room)).Int("notified", len(res.Remaining)).Msg("announced departure")
}
