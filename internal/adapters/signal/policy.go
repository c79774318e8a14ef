package signal

import "github.com/dkeye/Rendezvous/internal/core"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens when a connection's send queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, event string) BackpressureAction
}

// DropPolicy drops the frame for that connection only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.SessionID, string) BackpressureAction {
	return DropFrame
}

// KickPolicy disconnects the slow consumer; peers learn about it through
// the usual user-disconnected notification.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.SessionID, string) BackpressureAction {
	return KickMember
}

// PolicyByName maps the slow_consumer config value to a Policy.
func PolicyByName(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return DropPolicy{}
}
