package playlist

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidItemID indicates that an item identifier is empty or exceeds storage bounds.
	ErrInvalidItemID = errors.New("playlist: invalid item id")
	// ErrInvalidParticipantID indicates that a participant token is empty or exceeds storage bounds.
	ErrInvalidParticipantID = errors.New("playlist: invalid participant id")
	// ErrDuplicateItemID indicates that a playlist carries the same item id more than once.
	ErrDuplicateItemID = errors.New("playlist: duplicate item id")
	// ErrNotPermutation indicates that a proposed order does not list exactly the current item ids.
	ErrNotPermutation = errors.New("playlist: order is not a permutation of current items")
)

// ItemID represents a validated playlist item identifier.
type ItemID string

// NewItemID validates raw input and returns an ItemID.
func NewItemID(rawInput string) (ItemID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidItemID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidItemID, maxIdentifierLength)
	}
	return ItemID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ItemID) String() string {
	return string(id)
}

// ParticipantID is the ephemeral token minted for one joined session instance.
type ParticipantID string

// NewParticipantID validates raw input and returns a ParticipantID.
func NewParticipantID(rawInput string) (ParticipantID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidParticipantID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidParticipantID, maxIdentifierLength)
	}
	return ParticipantID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ParticipantID) String() string {
	return string(id)
}

// Item is one entry of the shared watch queue. Fields other than ID are only ever replaced as a whole.
type Item struct {
	ID              ItemID `json:"id"`
	SourceURL       string `json:"sourceUrl"`
	ExternalVideoID string `json:"externalVideoId"`
	Title           string `json:"title"`
}

// Validate reports whether the item carries a usable identifier.
func (item Item) Validate() error {
	_, err := NewItemID(item.ID.String())
	return err
}

// Playlist is an ordered sequence of items with unique ids. Methods never modify the receiver.
type Playlist []Item

// Validate checks every item and the uniqueness of item ids.
func (p Playlist) Validate() error {
	seen := make(map[ItemID]struct{}, len(p))
	for index, item := range p {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", index, err)
		}
		if _, ok := seen[item.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateItemID, item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return nil
}

// Clone returns an independent copy; a nil playlist clones to an empty one.
func (p Playlist) Clone() Playlist {
	cloned := make(Playlist, len(p))
	copy(cloned, p)
	return cloned
}

// IDs lists item identifiers in playlist order.
func (p Playlist) IDs() []ItemID {
	ids := make([]ItemID, 0, len(p))
	for _, item := range p {
		ids = append(ids, item.ID)
	}
	return ids
}

// IndexOf returns the position of the item with the given id, or -1.
func (p Playlist) IndexOf(id ItemID) int {
	for index, item := range p {
		if item.ID == id {
			return index
		}
	}
	return -1
}

// Contains reports whether an item with the given id is present.
func (p Playlist) Contains(id ItemID) bool {
	return p.IndexOf(id) >= 0
}

// Append returns a copy with item added at the end. The second result is false when the id already exists.
func (p Playlist) Append(item Item) (Playlist, bool) {
	if p.Contains(item.ID) {
		return p.Clone(), false
	}
	next := make(Playlist, 0, len(p)+1)
	next = append(next, p...)
	next = append(next, item)
	return next, true
}

// Without returns a copy with the item removed. The second result is false when the id was absent.
func (p Playlist) Without(id ItemID) (Playlist, bool) {
	next := make(Playlist, 0, len(p))
	removed := false
	for _, item := range p {
		if item.ID == id {
			removed = true
			continue
		}
		next = append(next, item)
	}
	return next, removed
}

// Reorder returns the items arranged in the order given by ids.
// ids must name every current item exactly once.
func (p Playlist) Reorder(ids []ItemID) (Playlist, error) {
	if len(ids) != len(p) {
		return nil, fmt.Errorf("%w: expected %d ids, got %d", ErrNotPermutation, len(p), len(ids))
	}
	byID := make(map[ItemID]Item, len(p))
	for _, item := range p {
		byID[item.ID] = item
	}
	next := make(Playlist, 0, len(ids))
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown or repeated id %s", ErrNotPermutation, id)
		}
		delete(byID, id)
		next = append(next, item)
	}
	return next, nil
}

// Move returns the id order produced by dropping dragged onto target's position.
func (p Playlist) Move(dragged, target ItemID) ([]ItemID, error) {
	oldIndex := p.IndexOf(dragged)
	newIndex := p.IndexOf(target)
	if oldIndex < 0 || newIndex < 0 {
		return nil, fmt.Errorf("%w: move references unknown id", ErrNotPermutation)
	}
	ids := p.IDs()
	ids = append(ids[:oldIndex], ids[oldIndex+1:]...)
	ids = append(ids[:newIndex], append([]ItemID{dragged}, ids[newIndex:]...)...)
	return ids, nil
}

// Filter returns items whose title contains term, ignoring case. An empty term returns every item.
func (p Playlist) Filter(term string) Playlist {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return p.Clone()
	}
	matches := make(Playlist, 0, len(p))
	for _, item := range p {
		if strings.Contains(strings.ToLower(item.Title), needle) {
			matches = append(matches, item)
		}
	}
	return matches
}

// Equal reports whether both playlists hold the same items in the same order.
func (p Playlist) Equal(other Playlist) bool {
	if len(p) != len(other) {
		return false
	}
	for index := range p {
		if p[index] != other[index] {
			return false
		}
	}
	return true
}
