// Package session wires one joined conference session: participant token, transport,
// replication engine, and reconciliation scheduler.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/reconcile"
	"github.com/MarcoPoloResearchLab/watchparty/internal/replication"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"github.com/MarcoPoloResearchLab/watchparty/internal/transport"
	"go.uber.org/zap"
)

var (
	errMissingConference = errors.New("session: conference is required")
	errMissingStore      = errors.New("session: snapshot store is required")
)

// Config describes the collaborators of a session.
type Config struct {
	Conference         transport.Conference
	Store              snapshot.Store
	IDProvider         playlist.IDProvider
	Clock              func() time.Time
	Logger             *zap.Logger
	OutboxSize         int
	StalenessThreshold time.Duration
	Period             time.Duration
	FreshnessWindow    time.Duration
	OnChange           func(replication.ChangeEvent)
}

// Session is the lifetime of one participant in one conference.
type Session struct {
	participant playlist.ParticipantID
	engine      *replication.Engine
	conference  transport.Conference
	dispatcher  *transport.Dispatcher
	scheduler   *reconcile.Scheduler
	logger      *zap.Logger

	runCtx        context.Context
	cancel        context.CancelFunc
	workers       sync.WaitGroup
	schedulerOnce sync.Once
	leaveOnce     sync.Once
}

// Join mints a participant token, builds the replication stack, and joins the conference.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Conference == nil {
		return nil, errMissingConference
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = playlist.NewUUIDProvider()
	}

	participant, err := playlist.MintParticipantID(ids)
	if err != nil {
		return nil, fmt.Errorf("session: mint participant: %w", err)
	}
	logger = logger.With(zap.String("participant_id", participant.String()))

	sender, err := transport.NewConferenceSender(cfg.Conference, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := transport.NewDispatcher(sender, cfg.OutboxSize, logger)

	engine, err := replication.NewEngine(replication.Config{
		Participant:        participant,
		Store:              cfg.Store,
		Broadcaster:        dispatcher,
		Clock:              cfg.Clock,
		IDProvider:         ids,
		Logger:             logger,
		StalenessThreshold: cfg.StalenessThreshold,
		OnChange:           cfg.OnChange,
	})
	if err != nil {
		return nil, err
	}
	scheduler, err := reconcile.NewScheduler(reconcile.Config{
		Engine:          engine,
		Clock:           cfg.Clock,
		Period:          cfg.Period,
		FreshnessWindow: cfg.FreshnessWindow,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		participant: participant,
		engine:      engine,
		conference:  cfg.Conference,
		dispatcher:  dispatcher,
		scheduler:   scheduler,
		logger:      logger,
		runCtx:      runCtx,
		cancel:      cancel,
	}
	session.spawn(dispatcher.Run)

	if err := cfg.Conference.Join(ctx, participant, conferenceHandler{session: session}); err != nil {
		cancel()
		session.workers.Wait()
		return nil, fmt.Errorf("session: join conference: %w", err)
	}
	logger.Info("joined conference session")
	return session, nil
}

// ParticipantID returns the token minted for this session.
func (s *Session) ParticipantID() playlist.ParticipantID {
	return s.participant
}

// Engine returns the session's replication engine.
func (s *Session) Engine() *replication.Engine {
	return s.engine
}

// Leave stops background work, leaves the conference, and resets the engine and stored snapshot.
func (s *Session) Leave(ctx context.Context) error {
	var leaveErr error
	s.leaveOnce.Do(func() {
		s.cancel()
		if err := s.conference.Leave(); err != nil {
			leaveErr = fmt.Errorf("session: leave conference: %w", err)
		}
		s.workers.Wait()
		s.engine.Reset(ctx)
		s.logger.Info("left conference session")
	})
	return leaveErr
}

func (s *Session) spawn(run func(context.Context)) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		run(s.runCtx)
	}()
}

func (s *Session) startScheduler() {
	s.schedulerOnce.Do(func() {
		if s.runCtx.Err() != nil {
			return
		}
		s.spawn(s.scheduler.Run)
	})
}

type conferenceHandler struct {
	session *Session
}

func (h conferenceHandler) OnLowLevelReceived(raw []byte) {
	h.session.engine.HandleLowLevel(h.session.runCtx, raw)
}

func (h conferenceHandler) OnChatReceived(text string) {
	h.session.engine.HandleChat(h.session.runCtx, text)
}

func (h conferenceHandler) OnSessionJoined() {
	h.session.engine.MarkTransportReady(h.session.runCtx)
	h.session.startScheduler()
}

func (h conferenceHandler) OnParticipantJoined(participant playlist.ParticipantID) {
	h.session.logger.Debug("participant joined", zap.String("joined_id", participant.String()))
	h.session.engine.HandleParticipantJoined(h.session.runCtx, participant)
}
