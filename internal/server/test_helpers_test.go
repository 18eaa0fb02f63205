package server

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/watchparty/internal/envelope"
	"github.com/MarcoPoloResearchLab/watchparty/internal/replication"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type discardBroadcaster struct{}

func (discardBroadcaster) Broadcast(envelope.Envelope) {}

type counterIDs struct {
	mu   sync.Mutex
	next int
}

func (c *counterIDs) NewID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return fmt.Sprintf("item-%d", c.next), nil
}

func newTestEngine(t *testing.T, notifier *ChangeNotifier) *replication.Engine {
	t.Helper()
	engine, err := replication.NewEngine(replication.Config{
		Participant: "participant_http",
		Store:       snapshot.NewMemoryStore(),
		Broadcaster: discardBroadcaster{},
		IDProvider:  &counterIDs{},
		OnChange:    notifier.HandleChange,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	return engine
}

func newTestHandler(t *testing.T) (http.Handler, *replication.Engine, *ChangeNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	notifier := NewChangeNotifier()
	engine := newTestEngine(t, notifier)
	handler, err := NewHTTPHandler(Dependencies{
		Playlist: engine,
		Notifier: notifier,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return handler, engine, notifier
}
