package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/conference"
	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/replication"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func joinPeer(t *testing.T, client *redis.Client, chatOnly bool) *Session {
	t.Helper()
	room, err := conference.NewRedisRoom(conference.RedisRoomConfig{Client: client, Room: "watch", DisableLowLevel: chatOnly})
	if err != nil {
		t.Fatalf("failed to construct room: %v", err)
	}
	joined, err := Join(context.Background(), Config{
		Conference:         room,
		Store:              snapshot.NewMemoryStore(),
		StalenessThreshold: time.Minute,
		Period:             time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to join: %v", err)
	}
	t.Cleanup(func() { _ = joined.Leave(context.Background()) })
	return joined
}

func waitForPlaylist(t *testing.T, peer *Session, expected playlist.Playlist) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if peer.Engine().Playlist().Equal(expected) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected playlist %v, got %v", expected.IDs(), peer.Engine().Playlist().IDs())
}

func waitForStatus(t *testing.T, peer *Session, expected replication.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if peer.Engine().SyncStatus() == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected status %s, got %s", expected, peer.Engine().SyncStatus())
}

func TestJoinRequiresCollaborators(t *testing.T) {
	if _, err := Join(context.Background(), Config{Store: snapshot.NewMemoryStore()}); !errors.Is(err, errMissingConference) {
		t.Fatalf("expected missing conference error, got %v", err)
	}
}

func TestPeersConvergeOverRedis(t *testing.T) {
	client := newRedisClient(t)
	first := joinPeer(t, client, false)
	second := joinPeer(t, client, false)

	if first.ParticipantID() == second.ParticipantID() {
		t.Fatalf("expected distinct participant tokens")
	}
	waitForStatus(t, first, replication.StatusSyncing)

	if _, err := first.Engine().AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "First"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	waitForPlaylist(t, second, first.Engine().Playlist())
	if _, err := second.Engine().AddItem(context.Background(), "https://www.youtube.com/watch?v=9bZkp7q19f0", "Second"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	waitForPlaylist(t, first, second.Engine().Playlist())
	waitForStatus(t, second, replication.StatusConnected)

	ids := first.Engine().Playlist().IDs()
	if err := first.Engine().LocalReorder(context.Background(), []playlist.ItemID{ids[1], ids[0]}); err != nil {
		t.Fatalf("unexpected reorder error: %v", err)
	}
	waitForPlaylist(t, second, first.Engine().Playlist())
}

func TestLateJoinerCatchesUp(t *testing.T) {
	client := newRedisClient(t)
	first := joinPeer(t, client, false)
	if _, err := first.Engine().AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "Existing"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	late := joinPeer(t, client, false)
	waitForPlaylist(t, late, first.Engine().Playlist())
}

func TestChatFallbackCarriesEnvelopes(t *testing.T) {
	client := newRedisClient(t)
	first := joinPeer(t, client, true)
	second := joinPeer(t, client, true)

	if _, err := first.Engine().AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", "Over chat"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	waitForPlaylist(t, second, first.Engine().Playlist())
}

func TestLeaveResetsEngine(t *testing.T) {
	client := newRedisClient(t)
	peer := joinPeer(t, client, false)
	if _, err := peer.Engine().AddItem(context.Background(), "https://youtu.be/dQw4w9WgXcQ", ""); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}

	if err := peer.Leave(context.Background()); err != nil {
		t.Fatalf("unexpected leave error: %v", err)
	}
	if len(peer.Engine().Playlist()) != 0 {
		t.Fatalf("expected empty playlist after leave")
	}
	if peer.Engine().SyncStatus() != replication.StatusDisconnected {
		t.Fatalf("expected disconnected after leave")
	}
	if err := peer.Leave(context.Background()); err != nil {
		t.Fatalf("second leave should be a no-op, got %v", err)
	}
}
