package playlist

import "github.com/google/uuid"

const participantPrefix = "participant_"

// IDProvider issues opaque unique identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers,
// a millisecond timestamp followed by random bits.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewItemIDFrom issues a fresh ItemID from the provider.
func NewItemIDFrom(provider IDProvider) (ItemID, error) {
	raw, err := provider.NewID()
	if err != nil {
		return "", err
	}
	return NewItemID(raw)
}

// MintParticipantID issues a fresh participant token for one joined session.
func MintParticipantID(provider IDProvider) (ParticipantID, error) {
	raw, err := provider.NewID()
	if err != nil {
		return "", err
	}
	return NewParticipantID(participantPrefix + raw)
}
