package signal

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/rs/zerolog/log"
)

// Envelope is the server-to-client frame.
type Envelope struct {
	Event string `json:"event"`
	ID    *int64 `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Hub owns the live connections and their addressing groups. It implements
// core.Transport; every delivery is a non-blocking enqueue.
type Hub struct {
	mu     sync.RWMutex
	conns  map[core.SessionID]*WsSignalConn
	groups map[domain.RoomID]map[core.SessionID]struct{}
	policy Policy

	wg sync.WaitGroup
}

var _ core.Transport = (*Hub)(nil)

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Hub{
		conns:  make(map[core.SessionID]*WsSignalConn),
		groups: make(map[domain.RoomID]map[core.SessionID]struct{}),
		policy: policy,
	}
}

func (h *Hub) Register(c *WsSignalConn) {
	h.mu.Lock()
	h.conns[c.sid] = c
	h.mu.Unlock()
	h.wg.Add(1)
}

// Unregister forgets sid and drops it from every group. It must be called
// exactly once per registered connection.
func (h *Hub) Unregister(sid core.SessionID) {
	h.mu.Lock()
	delete(h.conns, sid)
	for room, members := range h.groups {
		delete(members, sid)
		if len(members) == 0 {
			delete(h.groups, room)
		}
	}
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) SendTo(sid core.SessionID, event string, payload any) error {
	return h.send(sid, Envelope{Event: event, Data: payload})
}

// Reply answers a client request, echoing its ack id.
func (h *Hub) Reply(sid core.SessionID, ack *int64, event string, payload any) error {
	return h.send(sid, Envelope{Event: event, ID: ack, Data: payload})
}

func (h *Hub) send(sid core.SessionID, env Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[sid]
	if !ok {
		return core.ErrUnknownTarget
	}
	return h.deliver(c, env.Event, frame)
}

func (h *Hub) BroadcastToGroup(room domain.RoomID, event string, payload any, exclude core.SessionID) {
	frame, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		log.Error().Err(err).Str("module", "signal.hub").Str("event", event).Msg("broadcast marshal")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sid := range h.groups[room] {
		if sid == exclude {
			continue
		}
		if c, ok := h.conns[sid]; ok {
			_ = h.deliver(c, event, frame)
		}
	}
}

func (h *Hub) JoinGroup(sid core.SessionID, room domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[sid]; !ok {
		return
	}
	members, ok := h.groups[room]
	if !ok {
		members = make(map[core.SessionID]struct{})
		h.groups[room] = members
	}
	members[sid] = struct{}{}
}

func (h *Hub) LeaveGroup(sid core.SessionID, room domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[room]
	if !ok {
		return
	}
	delete(members, sid)
	if len(members) == 0 {
		delete(h.groups, room)
	}
}

// deliver must be called with h.mu held.
func (h *Hub) deliver(c *WsSignalConn, event string, frame core.Frame) error {
	err := c.TrySend(frame)
	if err != ErrBackpressure {
		return err
	}
	switch h.policy.OnBackPressure(c.sid, event) {
	case KickMember:
		log.Warn().Str("module", "signal.hub").Str("sid", string(c.sid)).Str("event", event).Msg("slow consumer kicked")
		c.Close()
	default:
		log.Warn().Str("module", "signal.hub").Str("sid", string(c.sid)).Str("event", event).Msg("frame dropped")
	}
	return err
}

// Shutdown closes every connection and waits until their disconnect
// cleanup has run or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	for _, c := range h.conns {
		c.Close()
	}
	h.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
