package snapshot

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
)

// DefaultRecordName is the single named record holding the shared playlist.
const DefaultRecordName = "watchparty_shared_playlist"

// Snapshot is the persisted device-local copy of the playlist plus attribution.
type Snapshot struct {
	Playlist playlist.Playlist
	SavedAt  time.Time
	OwnerID  playlist.ParticipantID
}

// Age returns how long ago the snapshot was saved relative to now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.SavedAt)
}

// Store persists exactly one Snapshot. Writes overwrite; the last writer wins.
type Store interface {
	// Load returns the stored snapshot; the bool is false when no record exists.
	Load(ctx context.Context) (Snapshot, bool, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Clear(ctx context.Context) error
}
