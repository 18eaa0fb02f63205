package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/replication"
)

const (
	realtimeEventPlaylist  = "playlist"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSource         = "watchparty"
	defaultBufferSize      = 16
)

// PlaylistUpdate is the change stream payload.
type PlaylistUpdate struct {
	Seq           uint64            `json:"seq,omitempty"`
	Items         playlist.Playlist `json:"items"`
	Status        string            `json:"status"`
	Source        string            `json:"source"`
	Action        string            `json:"action,omitempty"`
	OriginID      string            `json:"originId,omitempty"`
	ActiveItemID  string            `json:"activeItemId,omitempty"`
	ActiveRemoved bool              `json:"activeRemoved"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewPlaylistUpdate converts an engine change event.
func NewPlaylistUpdate(event replication.ChangeEvent, timestamp time.Time) PlaylistUpdate {
	items := event.Playlist
	if items == nil {
		items = playlist.Playlist{}
	}
	return PlaylistUpdate{
		Seq:           event.Seq,
		Items:         items,
		Status:        string(event.Status),
		Source:        string(event.Source),
		Action:        event.Action.String(),
		OriginID:      event.OriginID.String(),
		ActiveItemID:  event.ActiveItemID.String(),
		ActiveRemoved: event.ActiveRemoved,
		Timestamp:     timestamp,
	}
}

// ChangeNotifier fans playlist updates out to stream subscribers. Slow subscribers miss updates.
type ChangeNotifier struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan PlaylistUpdate
}

func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  defaultBufferSize,
		clock:       time.Now,
	}
}

// Subscribe registers a stream that is removed when ctx ends or cleanup is called.
func (n *ChangeNotifier) Subscribe(ctx context.Context) (<-chan PlaylistUpdate, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan PlaylistUpdate, n.bufferSize),
	}
	n.register(subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { n.unregister(subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers update to every subscriber without blocking.
func (n *ChangeNotifier) Publish(update PlaylistUpdate) {
	n.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(n.subscribers))
	for _, subscriber := range n.subscribers {
		copies = append(copies, subscriber)
	}
	n.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- update:
		default:
		}
	}
}

// HandleChange is the engine change callback.
func (n *ChangeNotifier) HandleChange(event replication.ChangeEvent) {
	n.Publish(NewPlaylistUpdate(event, n.clock().UTC()))
}

// SubscriberCount reports the number of open streams.
func (n *ChangeNotifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}

func (n *ChangeNotifier) register(subscriber *realtimeSubscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	subscriber.id = n.nextID
	n.subscribers[subscriber.id] = subscriber
}

func (n *ChangeNotifier) unregister(subscriberID int64) {
	n.mu.Lock()
	delete(n.subscribers, subscriberID)
	n.mu.Unlock()
}
