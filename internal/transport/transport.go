// Package transport adapts the conferencing service's messaging primitives for playlist replication.
//
// The conference exposes two best-effort send paths: a structured endpoint channel and a free-text
// chat stream. Neither guarantees delivery, ordering, or uniqueness, and either may echo a sender's
// own message back to it. Sends are attempted as an ordered list of strategies; the first success
// ends the attempt and no failure is ever fatal.
package transport

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
)

// Conference is the messaging capability supplied by the conferencing collaborator.
type Conference interface {
	SendLowLevel(ctx context.Context, raw []byte) error
	SendChatText(ctx context.Context, text string) error
	// Join subscribes handler to session events and announces participant to the room.
	Join(ctx context.Context, participant playlist.ParticipantID, handler Handler) error
	// Leave drops the subscription. In-flight deliveries are abandoned.
	Leave() error
}

// Handler receives conference events. Calls arrive in receipt order from a single goroutine.
type Handler interface {
	OnLowLevelReceived(raw []byte)
	OnChatReceived(text string)
	OnSessionJoined()
	OnParticipantJoined(participant playlist.ParticipantID)
}

// TransportError reports a failed send on one channel.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: send on %s failed: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
