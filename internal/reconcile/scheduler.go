// Package reconcile runs the periodic snapshot adoption and staleness resync for a replication engine.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/metrics"
	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"go.uber.org/zap"
)

const (
	// DefaultPeriod is the interval between reconciliation ticks.
	DefaultPeriod = 5 * time.Second
	// DefaultFreshnessWindow bounds the age of a foreign snapshot that may still be adopted.
	DefaultFreshnessWindow = 30 * time.Second
)

var errMissingEngine = errors.New("reconcile: engine is required")

// Engine is the part of the replication engine the scheduler drives.
type Engine interface {
	ParticipantID() playlist.ParticipantID
	AdoptFromStore(ctx context.Context, accept func(snapshot.Snapshot) bool) (snapshot.Snapshot, bool, error)
	NeedsResync(now time.Time) bool
	RequestSync(ctx context.Context)
}

// Config describes a Scheduler.
type Config struct {
	Engine          Engine
	Clock           func() time.Time
	Period          time.Duration
	FreshnessWindow time.Duration
	Logger          *zap.Logger
}

// TickResult reports what one tick did.
type TickResult struct {
	Adopted         bool
	ResyncRequested bool
}

type adoptionKey struct {
	owner   playlist.ParticipantID
	savedAt int64
}

// Scheduler adopts fresh foreign snapshots and requests a resync when local state looks stale.
type Scheduler struct {
	engine    Engine
	clock     func() time.Time
	period    time.Duration
	freshness time.Duration
	logger    *zap.Logger

	lastAdopted adoptionKey
}

// NewScheduler validates cfg and applies defaults.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	period := cfg.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	freshness := cfg.FreshnessWindow
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:    cfg.Engine,
		clock:     clock,
		period:    period,
		freshness: freshness,
		logger:    logger,
	}, nil
}

// Run ticks every period until ctx is done. Tick is not safe for concurrent use, so callers
// either use Run or drive Tick themselves.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one reconciliation pass.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var result TickResult
	now := s.clock()

	// Load failures are logged by the store; the resync check below still runs.
	stored, adopted, _ := s.engine.AdoptFromStore(ctx, func(candidate snapshot.Snapshot) bool {
		return s.adoptable(candidate, now)
	})
	if adopted {
		s.lastAdopted = adoptionKey{owner: stored.OwnerID, savedAt: stored.SavedAt.UnixMilli()}
		metrics.SnapshotAdoptionsTotal.Inc()
		s.logger.Info("adopted foreign snapshot",
			zap.String("owner_id", stored.OwnerID.String()),
			zap.Int("items", len(stored.Playlist)))
		result.Adopted = true
	}

	if s.engine.NeedsResync(now) {
		s.engine.RequestSync(ctx)
		metrics.ResyncRequestsTotal.Inc()
		result.ResyncRequested = true
	}
	return result
}

func (s *Scheduler) adoptable(stored snapshot.Snapshot, now time.Time) bool {
	if stored.OwnerID == "" || stored.OwnerID == s.engine.ParticipantID() {
		return false
	}
	if stored.Age(now) > s.freshness {
		return false
	}
	key := adoptionKey{owner: stored.OwnerID, savedAt: stored.SavedAt.UnixMilli()}
	return key != s.lastAdopted
}
