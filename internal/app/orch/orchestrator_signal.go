package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/rs/zerolog/log"
)

// Relay forwards an opaque signaling envelope to envelope.targetId, stamped
// with the sender's id. Only targetId and type are inspected; sdp, candidate
// and any other fields pass through untouched. A target that is not
// connected is not an error for the sender.
func (o *Orchestrator) Relay(sender core.SessionID, envelope json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(envelope, &fields); err != nil || fields == nil {
		return fmt.Errorf("signal: %w: expected an object", ErrMalformedPayload)
	}

	var target, kind string
	if err := json.Unmarshal(fields["targetId"], &target); err != nil || target == "" {
		return fmt.Errorf("signal: %w: targetId is required", ErrMalformedPayload)
	}
	if err := json.Unmarshal(fields["type"], &kind); err != nil || kind == "" {
		return fmt.Errorf("signal: %w: type is required", ErrMalformedPayload)
	}

	// The server is the only authority on who sent a signal.
	senderID, err := json.Marshal(sender)
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	fields["senderId"] = senderID

	out, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("signal: %w", err)
	}

	err = o.Transport.SendTo(core.SessionID(target), core.EventSignal, json.RawMessage(out))
	if errors.Is(err, core.ErrUnknownTarget) {
		log.Debug().Str("module", "orch").Str("sid", string(sender)).Str("target", target).Msg("signal target not connected")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sender)).Str("target", target).Msg("signal not delivered")
		return nil
	}
	log.Debug().Str("module", "orch").Str("sid", string(sender)).Str("target", target).Str("type", kind).Msg("signal relayed")
	return nil
}
