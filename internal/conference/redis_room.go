// Package conference provides a Redis pub/sub backed conference room for playlist replication.
package conference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const routerDrainTimeout = 2 * time.Second

var _ transport.Conference = (*RedisRoom)(nil)

var (
	// ErrRoomClosed is returned by sends issued outside a joined session.
	ErrRoomClosed = errors.New("conference: room is not joined")
	// ErrLowLevelUnavailable is returned by SendLowLevel when the endpoint channel is disabled.
	ErrLowLevelUnavailable = errors.New("conference: endpoint channel unavailable")

	errMissingClient = errors.New("conference: redis client is required")
	errMissingRoom   = errors.New("conference: room name is required")
	errAlreadyJoined = errors.New("conference: room already joined")
)

// RedisRoomConfig describes a RedisRoom.
type RedisRoomConfig struct {
	Client redis.UniversalClient
	Room   string
	// DisableLowLevel makes the endpoint channel refuse sends, leaving chat as the only path.
	DisableLowLevel bool
	Logger          *zap.Logger
}

type roomChannels struct {
	endpoint string
	chat     string
	presence string
}

func channelsFor(room string) roomChannels {
	return roomChannels{
		endpoint: room + ":endpoint",
		chat:     room + ":chat",
		presence: room + ":presence",
	}
}

// RedisRoom maps one conference room onto three Redis channels: structured endpoint
// messages, free-text chat, and presence announcements.
type RedisRoom struct {
	client          redis.UniversalClient
	channels        roomChannels
	disableLowLevel bool
	logger          *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	routed chan struct{}
}

// NewRedisRoom validates cfg and returns an unjoined room.
func NewRedisRoom(cfg RedisRoomConfig) (*RedisRoom, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	room := strings.TrimSpace(cfg.Room)
	if room == "" {
		return nil, errMissingRoom
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRoom{
		client:          cfg.Client,
		channels:        channelsFor(room),
		disableLowLevel: cfg.DisableLowLevel,
		logger:          logger,
	}, nil
}

// Join subscribes to the room, starts routing to handler, and announces participant.
// OnSessionJoined fires once the subscription is confirmed.
func (r *RedisRoom) Join(ctx context.Context, participant playlist.ParticipantID, handler transport.Handler) error {
	if handler == nil {
		return errors.New("conference: handler is required")
	}
	r.mu.Lock()
	if r.pubsub != nil {
		r.mu.Unlock()
		return errAlreadyJoined
	}
	pubsub := r.client.Subscribe(ctx, r.channels.endpoint, r.channels.chat, r.channels.presence)
	for confirmed := 0; confirmed < 3; confirmed++ {
		if _, err := pubsub.Receive(ctx); err != nil {
			r.mu.Unlock()
			_ = pubsub.Close()
			return fmt.Errorf("conference: subscribe: %w", err)
		}
	}
	routed := make(chan struct{})
	r.pubsub = pubsub
	r.routed = routed
	r.mu.Unlock()

	go r.route(pubsub.Channel(), participant, handler, routed)

	if err := r.client.Publish(ctx, r.channels.presence, participant.String()).Err(); err != nil {
		r.logger.Warn("presence announcement failed", zap.String("participant_id", participant.String()), zap.Error(err))
	}
	handler.OnSessionJoined()
	return nil
}

func (r *RedisRoom) route(messages <-chan *redis.Message, self playlist.ParticipantID, handler transport.Handler, routed chan struct{}) {
	defer close(routed)
	for message := range messages {
		switch message.Channel {
		case r.channels.endpoint:
			handler.OnLowLevelReceived([]byte(message.Payload))
		case r.channels.chat:
			handler.OnChatReceived(message.Payload)
		case r.channels.presence:
			joined, err := playlist.NewParticipantID(message.Payload)
			if err != nil || joined == self {
				continue
			}
			handler.OnParticipantJoined(joined)
		}
	}
}

// SendLowLevel publishes raw on the endpoint channel.
func (r *RedisRoom) SendLowLevel(ctx context.Context, raw []byte) error {
	if r.disableLowLevel {
		return ErrLowLevelUnavailable
	}
	if !r.joined() {
		return ErrRoomClosed
	}
	return r.client.Publish(ctx, r.channels.endpoint, raw).Err()
}

// SendChatText publishes text on the chat channel.
func (r *RedisRoom) SendChatText(ctx context.Context, text string) error {
	if !r.joined() {
		return ErrRoomClosed
	}
	return r.client.Publish(ctx, r.channels.chat, text).Err()
}

// Leave closes the subscription and waits for the router to drain. Leaving twice is a no-op.
func (r *RedisRoom) Leave() error {
	r.mu.Lock()
	pubsub := r.pubsub
	routed := r.routed
	r.pubsub = nil
	r.routed = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	select {
	case <-routed:
	case <-time.After(routerDrainTimeout):
		r.logger.Warn("message router did not stop after leave")
	}
	return err
}

func (r *RedisRoom) joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub != nil
}
