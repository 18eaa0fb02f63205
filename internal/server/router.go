package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/replication"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 15 * time.Second

var (
	errMissingPlaylistService = errors.New("playlist service dependency required")
	errMissingNotifier        = errors.New("change notifier dependency required")
)

// PlaylistService is the engine surface exposed over HTTP.
type PlaylistService interface {
	ParticipantID() playlist.ParticipantID
	Playlist() playlist.Playlist
	Search(term string) playlist.Playlist
	SyncStatus() replication.Status
	LastApplied() replication.AppliedAction
	ActiveItemID() playlist.ItemID
	AddItem(ctx context.Context, rawURL string, title string) (playlist.Item, error)
	RemoveItem(ctx context.Context, rawID string) (replication.RemoveResult, error)
	Reorder(ctx context.Context, rawIDs []string) error
	Move(ctx context.Context, dragged, target playlist.ItemID) error
	SetActive(id playlist.ItemID) error
}

type Dependencies struct {
	Playlist          PlaylistService
	Notifier          *ChangeNotifier
	Logger            *zap.Logger
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Playlist == nil {
		return nil, errMissingPlaylistService
	}
	if deps.Notifier == nil {
		return nil, errMissingNotifier
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		playlist:  deps.Playlist,
		notifier:  deps.Notifier,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/sync/status", handler.handleSyncStatus)
	router.GET("/playlist", handler.handleListPlaylist)
	router.GET("/playlist/stream", handler.handlePlaylistStream)
	router.POST("/playlist/items", handler.handleAddItem)
	router.DELETE("/playlist/items/:id", handler.handleRemoveItem)
	router.POST("/playlist/items/:id/move", handler.handleMoveItem)
	router.PUT("/playlist/order", handler.handleReorder)
	router.PUT("/playlist/active", handler.handleSetActive)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Accept", "Cache-Control"},
		MaxAge:       12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			origins = nil
			break
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	playlist  PlaylistService
	notifier  *ChangeNotifier
	logger    *zap.Logger
	heartbeat time.Duration
}

type playlistResponsePayload struct {
	Items        playlist.Playlist `json:"items"`
	Status       string            `json:"status"`
	ActiveItemID string            `json:"activeItemId,omitempty"`
}

type addItemRequestPayload struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type reorderRequestPayload struct {
	IDs []string `json:"ids"`
}

type moveRequestPayload struct {
	TargetID string `json:"targetId"`
}

type activeRequestPayload struct {
	ID string `json:"id"`
}

type removeResponsePayload struct {
	Removed   bool `json:"removed"`
	WasActive bool `json:"wasActive"`
}

type lastAppliedPayload struct {
	Action    string    `json:"action,omitempty"`
	Source    string    `json:"source,omitempty"`
	OriginID  string    `json:"originId,omitempty"`
	AppliedAt time.Time `json:"appliedAt"`
}

type statusResponsePayload struct {
	Status        string              `json:"status"`
	ParticipantID string              `json:"participantId"`
	Items         int                 `json:"items"`
	LastApplied   *lastAppliedPayload `json:"lastApplied,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	response := statusResponsePayload{
		Status:        string(h.playlist.SyncStatus()),
		ParticipantID: h.playlist.ParticipantID().String(),
		Items:         len(h.playlist.Playlist()),
	}
	if applied := h.playlist.LastApplied(); !applied.AppliedAt.IsZero() {
		response.LastApplied = &lastAppliedPayload{
			Action:    applied.Action.String(),
			Source:    string(applied.Source),
			OriginID:  applied.OriginID.String(),
			AppliedAt: applied.AppliedAt.UTC(),
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleListPlaylist(c *gin.Context) {
	items := h.playlist.Search(c.Query("q"))
	c.JSON(http.StatusOK, h.playlistResponse(items))
}

func (h *httpHandler) handleAddItem(c *gin.Context) {
	var request addItemRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	item, err := h.playlist.AddItem(c.Request.Context(), request.URL, request.Title)
	if err != nil {
		h.respondError(c, "add item", err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *httpHandler) handleRemoveItem(c *gin.Context) {
	result, err := h.playlist.RemoveItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "remove item", err)
		return
	}
	c.JSON(http.StatusOK, removeResponsePayload{Removed: result.Removed, WasActive: result.WasActive})
}

func (h *httpHandler) handleReorder(c *gin.Context) {
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.playlist.Reorder(c.Request.Context(), request.IDs); err != nil {
		h.respondError(c, "reorder", err)
		return
	}
	c.JSON(http.StatusOK, h.playlistResponse(h.playlist.Playlist()))
}

func (h *httpHandler) handleMoveItem(c *gin.Context) {
	var request moveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	dragged, err := playlist.NewItemID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item_id"})
		return
	}
	target, err := playlist.NewItemID(request.TargetID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item_id"})
		return
	}
	if err := h.playlist.Move(c.Request.Context(), dragged, target); err != nil {
		h.respondError(c, "move", err)
		return
	}
	c.JSON(http.StatusOK, h.playlistResponse(h.playlist.Playlist()))
}

func (h *httpHandler) handleSetActive(c *gin.Context) {
	var request activeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.playlist.SetActive(playlist.ItemID(strings.TrimSpace(request.ID))); err != nil {
		h.respondError(c, "set active", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handlePlaylistStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.notifier.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	initial := PlaylistUpdate{
		Items:        h.playlist.Playlist(),
		Status:       string(h.playlist.SyncStatus()),
		Source:       realtimeSource,
		ActiveItemID: h.playlist.ActiveItemID().String(),
		Timestamp:    time.Now().UTC(),
	}
	c.SSEvent(realtimeEventPlaylist, initial)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case update, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(realtimeEventPlaylist, update)
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSource, "timestamp": time.Now().UTC()})
			return true
		}
	})
}

func (h *httpHandler) playlistResponse(items playlist.Playlist) playlistResponsePayload {
	if items == nil {
		items = playlist.Playlist{}
	}
	return playlistResponsePayload{
		Items:        items,
		Status:       string(h.playlist.SyncStatus()),
		ActiveItemID: h.playlist.ActiveItemID().String(),
	}
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	var validationErr *replication.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationCode(err), "detail": err.Error()})
		return
	}
	h.logger.Error("playlist operation failed", zap.String("operation", operation), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "playlist_update_failed"})
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, playlist.ErrInvalidSourceURL):
		return "invalid_url"
	case errors.Is(err, playlist.ErrNotPermutation):
		return "invalid_order"
	case errors.Is(err, playlist.ErrInvalidItemID):
		return "invalid_item_id"
	default:
		return "invalid_request"
	}
}
