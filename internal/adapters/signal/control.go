package signal

import (
	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/rs/zerolog/log"
)

// Error codes carried by the error event.
const (
	CodeBadPayload  = "bad_payload"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

type ErrorReply struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ctl *SignalWSController) handlePing(sid core.SessionID, req request) {
	ctl.reply(sid, req, core.EventPong, nil)
}

func (ctl *SignalWSController) replyError(sid core.SessionID, ack *int64, code, msg string) {
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("code", code).Msg(msg)
	_ = ctl.Hub.Reply(sid, ack, core.EventError, ErrorReply{Code: code, Message: msg})
}
