package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// request is the client-to-server frame.
type request struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the connection's teardown: whatever ends the read loop,
// the disconnect cleanup runs exactly once.
func (ctl *SignalWSController) readPump(c *WsSignalConn) {
	defer func() {
		c.Close()
		if ctl.limiter != nil {
			ctl.limiter.Forget(c.sid)
		}
		ctl.Orch.OnDisconnect(c.sid)
		ctl.Hub.Unregister(c.sid)
		log.Info().Str("module", "signal").Str("sid", string(c.sid)).Msg("readPump closed")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.handleSignal(c.sid, data)
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, data []byte) {
	if ctl.limiter != nil {
		if ok, notify := ctl.limiter.Allow(sid); !ok {
			if notify {
				ctl.replyError(sid, nil, CodeRateLimited, "too many messages")
			}
			return
		}
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil || req.Event == "" {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.replyError(sid, nil, CodeBadPayload, "malformed frame")
		return
	}

	switch req.Event {
	case core.EventCreateRoom:
		ctl.handleCreateRoom(sid, req)
	case core.EventJoin:
		ctl.handleJoin(sid, req)
	case core.EventSignal:
		ctl.handleRelay(sid, req)
	case core.EventPing:
		ctl.handlePing(sid, req)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("event", req.Event).Msg("unknown event")
		ctl.replyError(sid, req.ID, CodeBadPayload, "unknown event "+req.Event)
	}
}

func (ctl *SignalWSController) reply(sid core.SessionID, req request, event string, payload any) {
	if err := ctl.Hub.Reply(sid, req.ID, event, payload); err != nil && !errors.Is(err, ErrBackpressure) {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("event", event).Msg("reply not delivered")
	}
}
