package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
)

// Marker prefixes the envelope JSON when it travels over the chat stream.
const Marker = "[PLAYLIST_SYNC]"

// SourceKind identifies which transport a raw payload arrived on.
type SourceKind int

const (
	// SourceStructured is the low-level endpoint channel carrying bare JSON.
	SourceStructured SourceKind = iota
	// SourceChat is the free-text chat stream carrying marker-prefixed JSON.
	SourceChat
)

// ErrNotSyncMessage marks chat text that does not carry the marker. Callers ignore it.
var ErrNotSyncMessage = errors.New("envelope: not a sync message")

const (
	reasonMalformedJSON   = "malformed_json"
	reasonWrongKind       = "wrong_kind"
	reasonUnknownAction   = "unknown_action"
	reasonMissingOrigin   = "missing_origin"
	reasonInvalidPayload  = "invalid_payload"
	reasonEmptyStructured = "empty_payload"
)

// DecodeError reports an inbound payload that cannot be turned into an Envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "envelope: decode " + e.Reason
	}
	return fmt.Sprintf("envelope: decode %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(reason string, cause error) error {
	return &DecodeError{Reason: reason, Err: cause}
}

// Frame holds both transport encodings of one envelope.
type Frame struct {
	Structured []byte
	Text       string
}

type wireEnvelope struct {
	Kind      string          `json:"kind"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	OriginID  string          `json:"originId"`
	EmittedAt int64           `json:"emittedAt"`
}

type removePayload struct {
	ID playlist.ItemID `json:"id"`
}

// Encode renders the structured and chat encodings of e.
func Encode(e Envelope) (Frame, error) {
	payload, err := encodePayload(e)
	if err != nil {
		return Frame{}, err
	}
	wire := wireEnvelope{
		Kind:      Kind,
		Action:    e.action.String(),
		Payload:   payload,
		OriginID:  e.originID.String(),
		EmittedAt: e.emittedAt.UnixMilli(),
	}
	structured, err := json.Marshal(wire)
	if err != nil {
		return Frame{}, fmt.Errorf("envelope: encode %s: %w", e.action, err)
	}
	return Frame{
		Structured: structured,
		Text:       Marker + " " + string(structured),
	}, nil
}

func encodePayload(e Envelope) (json.RawMessage, error) {
	var value any
	switch e.action {
	case ActionAdd:
		value = e.item
	case ActionRemove:
		value = removePayload{ID: e.itemID}
	case ActionFullSync, ActionReorder:
		items := e.playlist
		if items == nil {
			items = playlist.Playlist{}
		}
		value = items
	case ActionRequestSync:
		return json.RawMessage("null"), nil
	default:
		return nil, fmt.Errorf("envelope: encode: %w: %q", errUnknownAction, e.action)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s payload: %w", e.action, err)
	}
	return raw, nil
}

// Decode parses raw bytes received on source. Chat text without the marker yields ErrNotSyncMessage;
// every other failure is a *DecodeError.
func Decode(raw []byte, source SourceKind) (Envelope, error) {
	body := bytes.TrimSpace(raw)
	if source == SourceChat {
		if !bytes.HasPrefix(body, []byte(Marker)) {
			return Envelope{}, ErrNotSyncMessage
		}
	}
	body = bytes.TrimSpace(bytes.TrimPrefix(body, []byte(Marker)))
	if len(body) == 0 {
		return Envelope{}, newDecodeError(reasonEmptyStructured, nil)
	}

	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return Envelope{}, newDecodeError(reasonMalformedJSON, err)
	}
	if wire.Kind != Kind {
		return Envelope{}, newDecodeError(reasonWrongKind, fmt.Errorf("kind %q", wire.Kind))
	}
	action, err := ParseAction(wire.Action)
	if err != nil {
		return Envelope{}, newDecodeError(reasonUnknownAction, err)
	}
	origin, err := playlist.NewParticipantID(wire.OriginID)
	if err != nil {
		return Envelope{}, newDecodeError(reasonMissingOrigin, err)
	}
	emittedAt := time.UnixMilli(wire.EmittedAt).UTC()

	envelope, err := decodePayload(action, origin, wire.Payload, emittedAt)
	if err != nil {
		return Envelope{}, newDecodeError(reasonInvalidPayload, err)
	}
	return envelope, nil
}

// DecodeText is Decode for chat text.
func DecodeText(text string) (Envelope, error) {
	return Decode([]byte(text), SourceChat)
}

func decodePayload(action Action, origin playlist.ParticipantID, payload json.RawMessage, emittedAt time.Time) (Envelope, error) {
	switch action {
	case ActionAdd:
		var item playlist.Item
		if err := unmarshalObject(payload, &item); err != nil {
			return Envelope{}, err
		}
		return NewAdd(origin, item, emittedAt)
	case ActionRemove:
		var target removePayload
		if err := unmarshalObject(payload, &target); err != nil {
			return Envelope{}, err
		}
		return NewRemove(origin, target.ID, emittedAt)
	case ActionFullSync, ActionReorder:
		if isNull(payload) {
			return Envelope{}, errors.New("playlist payload is required")
		}
		var items playlist.Playlist
		if err := json.Unmarshal(payload, &items); err != nil {
			return Envelope{}, err
		}
		return newPlaylistEnvelope(action, origin, items, emittedAt)
	default:
		return NewRequestSync(origin, emittedAt)
	}
}

func unmarshalObject(payload json.RawMessage, target any) error {
	if isNull(payload) {
		return errors.New("payload is required")
	}
	return json.Unmarshal(payload, target)
}

func isNull(payload json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(payload))
	return trimmed == "" || trimmed == "null"
}
