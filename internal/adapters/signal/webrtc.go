package signal

import (
	"errors"

	"github.com/dkeye/Rendezvous/internal/app/orch"
	"github.com/dkeye/Rendezvous/internal/core"
)

// handleRelay forwards an offer, answer or candidate envelope to its
// targetId without looking inside it.
func (ctl *SignalWSController) handleRelay(sid core.SessionID, req request) {
	if err := ctl.Orch.Relay(sid, req.Data); err != nil {
		code := CodeInternal
		if errors.Is(err, orch.ErrMalformedPayload) {
			code = CodeBadPayload
		}
		ctl.replyError(sid, req.ID, code, err.Error())
	}
}
