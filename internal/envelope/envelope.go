package envelope

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
)

// Kind is the only envelope kind this protocol emits or accepts.
const Kind = "PLAYLIST_SYNC"

// Action enumerates the replicated playlist operations.
type Action string

const (
	// ActionAdd appends one item.
	ActionAdd Action = "ADD"
	// ActionRemove deletes one item by id.
	ActionRemove Action = "REMOVE"
	// ActionFullSync carries the sender's entire playlist.
	ActionFullSync Action = "FULL_SYNC"
	// ActionReorder carries the sender's entire playlist after a local reorder.
	ActionReorder Action = "REORDER"
	// ActionRequestSync asks peers to broadcast a FULL_SYNC.
	ActionRequestSync Action = "REQUEST_SYNC"
)

var errUnknownAction = errors.New("envelope: unknown action")

// ParseAction maps a wire value onto the closed set of actions.
func ParseAction(value string) (Action, error) {
	switch Action(strings.TrimSpace(value)) {
	case ActionAdd:
		return ActionAdd, nil
	case ActionRemove:
		return ActionRemove, nil
	case ActionFullSync:
		return ActionFullSync, nil
	case ActionReorder:
		return ActionReorder, nil
	case ActionRequestSync:
		return ActionRequestSync, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownAction, value)
	}
}

// String returns the wire value.
func (a Action) String() string {
	return string(a)
}

// CarriesPlaylist reports whether the payload is a full playlist.
func (a Action) CarriesPlaylist() bool {
	return a == ActionFullSync || a == ActionReorder
}

// Envelope is one replicated sync message. Values are immutable once constructed.
type Envelope struct {
	action    Action
	originID  playlist.ParticipantID
	emittedAt time.Time
	item      playlist.Item
	itemID    playlist.ItemID
	playlist  playlist.Playlist
}

// NewAdd builds an ADD envelope.
func NewAdd(origin playlist.ParticipantID, item playlist.Item, emittedAt time.Time) (Envelope, error) {
	if err := validateOrigin(origin); err != nil {
		return Envelope{}, err
	}
	if err := item.Validate(); err != nil {
		return Envelope{}, err
	}
	return Envelope{action: ActionAdd, originID: origin, emittedAt: emittedAt, item: item}, nil
}

// NewRemove builds a REMOVE envelope.
func NewRemove(origin playlist.ParticipantID, id playlist.ItemID, emittedAt time.Time) (Envelope, error) {
	if err := validateOrigin(origin); err != nil {
		return Envelope{}, err
	}
	if _, err := playlist.NewItemID(id.String()); err != nil {
		return Envelope{}, err
	}
	return Envelope{action: ActionRemove, originID: origin, emittedAt: emittedAt, itemID: id}, nil
}

// NewFullSync builds a FULL_SYNC envelope carrying a copy of items.
func NewFullSync(origin playlist.ParticipantID, items playlist.Playlist, emittedAt time.Time) (Envelope, error) {
	return newPlaylistEnvelope(ActionFullSync, origin, items, emittedAt)
}

// NewReorder builds a REORDER envelope carrying a copy of items.
func NewReorder(origin playlist.ParticipantID, items playlist.Playlist, emittedAt time.Time) (Envelope, error) {
	return newPlaylistEnvelope(ActionReorder, origin, items, emittedAt)
}

// NewRequestSync builds a REQUEST_SYNC envelope.
func NewRequestSync(origin playlist.ParticipantID, emittedAt time.Time) (Envelope, error) {
	if err := validateOrigin(origin); err != nil {
		return Envelope{}, err
	}
	return Envelope{action: ActionRequestSync, originID: origin, emittedAt: emittedAt}, nil
}

func newPlaylistEnvelope(action Action, origin playlist.ParticipantID, items playlist.Playlist, emittedAt time.Time) (Envelope, error) {
	if err := validateOrigin(origin); err != nil {
		return Envelope{}, err
	}
	if err := items.Validate(); err != nil {
		return Envelope{}, err
	}
	return Envelope{action: action, originID: origin, emittedAt: emittedAt, playlist: items.Clone()}, nil
}

func validateOrigin(origin playlist.ParticipantID) error {
	_, err := playlist.NewParticipantID(origin.String())
	return err
}

// Action returns the envelope action.
func (e Envelope) Action() Action {
	return e.action
}

// OriginID returns the sender's participant token.
func (e Envelope) OriginID() playlist.ParticipantID {
	return e.originID
}

// EmittedAt returns the sender's clock reading at construction.
func (e Envelope) EmittedAt() time.Time {
	return e.emittedAt
}

// Item returns the ADD payload.
func (e Envelope) Item() playlist.Item {
	return e.item
}

// ItemID returns the REMOVE payload.
func (e Envelope) ItemID() playlist.ItemID {
	return e.itemID
}

// Playlist returns a copy of the FULL_SYNC or REORDER payload.
func (e Envelope) Playlist() playlist.Playlist {
	return e.playlist.Clone()
}
