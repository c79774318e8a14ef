package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Rendezvous/internal/app/orch"
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCreateRoom(sid core.SessionID, req request) {
	ctl.reply(sid, req, core.EventCreateRoom, ctl.Orch.CreateRoom(sid))
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, req request) {
	var p orch.JoinRequest
	if err := json.Unmarshal(req.Data, &p); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad join payload")
		ctl.replyError(sid, req.ID, CodeBadPayload, "join: malformed payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.replyError(sid, req.ID, CodeBadPayload, "join: "+err.Error())
		return
	}

	if err := ctl.Orch.Join(sid, p); err != nil {
		if errors.Is(err, orch.ErrMalformedPayload) {
			ctl.replyError(sid, req.ID, CodeBadPayload, err.Error())
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join failed")
		ctl.replyError(sid, req.ID, CodeInternal, "join failed")
	}
}
