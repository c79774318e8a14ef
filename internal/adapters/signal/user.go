package signal

import "github.com/dkeye/Rendezvous/internal/core"

// Welcome tells a fresh connection the id peers will know it by.
type Welcome struct {
	ID core.SessionID `json:"id"`
}

func (ctl *SignalWSController) sendWelcome(c *WsSignalConn) {
	_ = ctl.Hub.SendTo(c.sid, core.EventWelcome, Welcome{ID: c.sid})
}
