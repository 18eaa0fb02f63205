package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/envelope"
	"github.com/MarcoPoloResearchLab/watchparty/internal/metrics"
	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"github.com/MarcoPoloResearchLab/watchparty/internal/snapshot"
	"go.uber.org/zap"
)

var (
	errMissingParticipant = errors.New("participant token is required")
	errMissingStore       = errors.New("snapshot store is required")
	errMissingBroadcaster = errors.New("broadcaster is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errDuplicateItem      = errors.New("item id already present")
	errUnknownItem        = errors.New("item id not present")
	noOpLogger            = zap.NewNop()
)

const (
	opEngineNew     = "replication.engine.new"
	opLocalAdd      = "replication.local_add"
	opLocalRemove   = "replication.local_remove"
	opLocalReorder  = "replication.local_reorder"
	opApplyRemote   = "replication.apply_remote"
	opPersist       = "replication.persist"
	opSetActive     = "replication.set_active"
	opReset         = "replication.reset"
	opBuildEnvelope = "replication.build_envelope"
)

// Status is the replication health reported to the UI.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusSyncing      Status = "syncing"
	StatusConnected    Status = "connected"
)

// EngineError carries an operation.reason code.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *EngineError) Code() string {
	return e.code
}

func newEngineError(operation, reason string, cause error) error {
	return &EngineError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ValidationError reports a rejected local operation. The playlist is unchanged.
type ValidationError struct {
	Operation string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Broadcaster hands an envelope to the transport. It must not block.
type Broadcaster interface {
	Broadcast(e envelope.Envelope)
}

// ChangeSource says what caused a ChangeEvent.
type ChangeSource string

const (
	SourceLocal    ChangeSource = "local"
	SourceRemote   ChangeSource = "remote"
	SourceSnapshot ChangeSource = "snapshot"
	SourceStatus   ChangeSource = "status"
	SourceReset    ChangeSource = "reset"
)

// ChangeEvent is delivered to the change callback after every accepted mutation or status transition.
// Events are delivered one at a time in Seq order, which is the order the engine committed them.
type ChangeEvent struct {
	Seq           uint64
	Playlist      playlist.Playlist
	Status        Status
	Source        ChangeSource
	Action        envelope.Action
	OriginID      playlist.ParticipantID
	ActiveItemID  playlist.ItemID
	ActiveRemoved bool
}

// AppliedAction describes the last mutation the engine accepted.
type AppliedAction struct {
	Action    envelope.Action
	Source    ChangeSource
	OriginID  playlist.ParticipantID
	AppliedAt time.Time
}

// RemoveResult reports the effect of a local removal.
type RemoveResult struct {
	Removed bool
	// WasActive is true when the removed item was the one the external player was showing.
	WasActive bool
}

// Config describes the dependencies of an Engine.
type Config struct {
	Participant playlist.ParticipantID
	Store       snapshot.Store
	Broadcaster Broadcaster
	Clock       func() time.Time
	IDProvider  playlist.IDProvider
	Logger      *zap.Logger
	// StalenessThreshold bounds how long the playlist may go without an accepted mutation
	// before NeedsResync reports true. Zero or negative means always.
	StalenessThreshold time.Duration
	// OnChange runs outside the engine lock. It must not wait for a later mutation to return.
	OnChange func(ChangeEvent)
}

// Engine owns the replicated playlist. All state changes are serialized by mu.
type Engine struct {
	mu          sync.Mutex
	participant playlist.ParticipantID
	store       snapshot.Store
	broadcaster Broadcaster
	clock       func() time.Time
	ids         playlist.IDProvider
	logger      *zap.Logger
	staleness   time.Duration
	onChange    func(ChangeEvent)

	items          playlist.Playlist
	status         Status
	activeID       playlist.ItemID
	lastAcceptedAt time.Time
	lastApplied    AppliedAction
	seq            uint64

	deliverMu   sync.Mutex
	deliverCond *sync.Cond
	delivered   uint64
}

// NewEngine constructs an Engine in the disconnected state with an empty playlist.
func NewEngine(cfg Config) (*Engine, error) {
	if _, err := playlist.NewParticipantID(cfg.Participant.String()); err != nil {
		return nil, newEngineError(opEngineNew, "missing_participant", errors.Join(errMissingParticipant, err))
	}
	if cfg.Store == nil {
		return nil, newEngineError(opEngineNew, "missing_store", errMissingStore)
	}
	if cfg.Broadcaster == nil {
		return nil, newEngineError(opEngineNew, "missing_broadcaster", errMissingBroadcaster)
	}
	if cfg.IDProvider == nil {
		return nil, newEngineError(opEngineNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	engine := &Engine{
		participant: cfg.Participant,
		store:       cfg.Store,
		broadcaster: cfg.Broadcaster,
		clock:       clock,
		ids:         cfg.IDProvider,
		logger:      logger,
		staleness:   cfg.StalenessThreshold,
		onChange:    cfg.OnChange,
		items:       playlist.Playlist{},
		status:      StatusDisconnected,
	}
	engine.deliverCond = sync.NewCond(&engine.deliverMu)
	return engine, nil
}

// ParticipantID returns the local participant token.
func (e *Engine) ParticipantID() playlist.ParticipantID {
	return e.participant
}

// Playlist returns a copy of the current playlist.
func (e *Engine) Playlist() playlist.Playlist {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items.Clone()
}

// Search returns items whose title contains term, ignoring case.
func (e *Engine) Search(term string) playlist.Playlist {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items.Filter(term)
}

// SyncStatus returns the current replication status.
func (e *Engine) SyncStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastApplied returns metadata about the most recently accepted mutation.
func (e *Engine) LastApplied() AppliedAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplied
}

// ActiveItemID returns the item the external player is showing, if any.
func (e *Engine) ActiveItemID() playlist.ItemID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

// SetActive records which item the external player is showing. An empty id clears it.
func (e *Engine) SetActive(id playlist.ItemID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id != "" && !e.items.Contains(id) {
		return &ValidationError{Operation: opSetActive, Err: fmt.Errorf("%w: %s", errUnknownItem, id)}
	}
	e.activeID = id
	return nil
}

// AddItem creates an item for rawURL and adds it locally. A blank title becomes "Video N".
func (e *Engine) AddItem(ctx context.Context, rawURL string, title string) (playlist.Item, error) {
	videoID, err := playlist.ExtractVideoID(rawURL)
	if err != nil {
		return playlist.Item{}, &ValidationError{Operation: opLocalAdd, Err: err}
	}
	id, err := playlist.NewItemIDFrom(e.ids)
	if err != nil {
		e.logError(opLocalAdd, "id_generation_failed", err)
		return playlist.Item{}, newEngineError(opLocalAdd, "id_generation_failed", err)
	}
	if trimmedTitle := strings.TrimSpace(title); trimmedTitle != "" {
		title = trimmedTitle
	} else {
		title = fmt.Sprintf("Video %d", len(e.Playlist())+1)
	}
	item := playlist.Item{
		ID:              id,
		SourceURL:       strings.TrimSpace(rawURL),
		ExternalVideoID: videoID,
		Title:           title,
	}
	if err := e.LocalAdd(ctx, item); err != nil {
		return playlist.Item{}, err
	}
	return item, nil
}

// LocalAdd appends item, persists, and broadcasts ADD.
func (e *Engine) LocalAdd(ctx context.Context, item playlist.Item) error {
	if err := item.Validate(); err != nil {
		return &ValidationError{Operation: opLocalAdd, Err: err}
	}

	e.mu.Lock()
	next, added := e.items.Append(item)
	if !added {
		e.mu.Unlock()
		return &ValidationError{Operation: opLocalAdd, Err: fmt.Errorf("%w: %s", errDuplicateItem, item.ID)}
	}
	outgoing, err := envelope.NewAdd(e.participant, item, e.clock())
	if err != nil {
		e.mu.Unlock()
		e.logError(opBuildEnvelope, "add_envelope_invalid", err)
		return newEngineError(opLocalAdd, "envelope_invalid", err)
	}
	event := e.commitLocked(next, envelope.ActionAdd, SourceLocal, e.participant)
	e.persistLocked(ctx)
	e.broadcaster.Broadcast(outgoing)
	e.mu.Unlock()

	e.notify(event)
	return nil
}

// RemoveItem validates rawID and removes it locally.
func (e *Engine) RemoveItem(ctx context.Context, rawID string) (RemoveResult, error) {
	id, err := playlist.NewItemID(rawID)
	if err != nil {
		return RemoveResult{}, &ValidationError{Operation: opLocalRemove, Err: err}
	}
	return e.LocalRemove(ctx, id)
}

// LocalRemove removes id if present and broadcasts REMOVE either way, so peers still holding it converge.
func (e *Engine) LocalRemove(ctx context.Context, id playlist.ItemID) (RemoveResult, error) {
	e.mu.Lock()
	outgoing, err := envelope.NewRemove(e.participant, id, e.clock())
	if err != nil {
		e.mu.Unlock()
		return RemoveResult{}, &ValidationError{Operation: opLocalRemove, Err: err}
	}
	next, removed := e.items.Without(id)
	result := RemoveResult{Removed: removed}
	var event ChangeEvent
	if removed {
		event = e.commitLocked(next, envelope.ActionRemove, SourceLocal, e.participant)
		result.WasActive = event.ActiveRemoved
		e.persistLocked(ctx)
	}
	e.broadcaster.Broadcast(outgoing)
	e.mu.Unlock()

	if removed {
		e.notify(event)
	}
	return result, nil
}

// Reorder validates raw ids and reorders locally.
func (e *Engine) Reorder(ctx context.Context, rawIDs []string) error {
	ids := make([]playlist.ItemID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := playlist.NewItemID(raw)
		if err != nil {
			return &ValidationError{Operation: opLocalReorder, Err: err}
		}
		ids = append(ids, id)
	}
	return e.LocalReorder(ctx, ids)
}

// Move drops dragged onto target's position.
func (e *Engine) Move(ctx context.Context, dragged, target playlist.ItemID) error {
	if dragged == target {
		return nil
	}
	ids, err := e.Playlist().Move(dragged, target)
	if err != nil {
		return &ValidationError{Operation: opLocalReorder, Err: err}
	}
	return e.LocalReorder(ctx, ids)
}

// LocalReorder applies ids as the new order. ids must be a permutation of the current item ids;
// otherwise a *ValidationError is returned and nothing changes.
func (e *Engine) LocalReorder(ctx context.Context, ids []playlist.ItemID) error {
	e.mu.Lock()
	next, err := e.items.Reorder(ids)
	if err != nil {
		e.mu.Unlock()
		e.logger.Info("reorder rejected", zap.String("operation", opLocalReorder), zap.Error(err))
		return &ValidationError{Operation: opLocalReorder, Err: err}
	}
	outgoing, err := envelope.NewReorder(e.participant, next, e.clock())
	if err != nil {
		e.mu.Unlock()
		e.logError(opBuildEnvelope, "reorder_envelope_invalid", err)
		return newEngineError(opLocalReorder, "envelope_invalid", err)
	}
	event := e.commitLocked(next, envelope.ActionReorder, SourceLocal, e.participant)
	e.persistLocked(ctx)
	e.broadcaster.Broadcast(outgoing)
	e.mu.Unlock()

	e.notify(event)
	return nil
}

// BuildFullSync returns a FULL_SYNC envelope carrying the current playlist.
func (e *Engine) BuildFullSync() (envelope.Envelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return envelope.NewFullSync(e.participant, e.items, e.clock())
}

// RequestSync broadcasts REQUEST_SYNC.
func (e *Engine) RequestSync(_ context.Context) {
	outgoing, err := envelope.NewRequestSync(e.participant, e.clock())
	if err != nil {
		e.logError(opBuildEnvelope, "request_sync_invalid", err)
		return
	}
	e.broadcaster.Broadcast(outgoing)
}

// NeedsResync reports whether the local state may be incomplete: the playlist is empty,
// or nothing has been accepted within the staleness threshold.
func (e *Engine) NeedsResync(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 || e.staleness <= 0 || e.lastAcceptedAt.IsZero() {
		return true
	}
	return now.Sub(e.lastAcceptedAt) > e.staleness
}

// MarkTransportReady moves a disconnected engine to syncing and announces local state:
// FULL_SYNC when the playlist has items, REQUEST_SYNC when it is empty.
func (e *Engine) MarkTransportReady(_ context.Context) {
	e.mu.Lock()
	transitioned := false
	var event ChangeEvent
	if e.status == StatusDisconnected {
		e.status = StatusSyncing
		transitioned = true
		event = e.eventLocked(SourceStatus, "", e.participant)
	}
	e.announceLocked()
	e.mu.Unlock()

	if transitioned {
		e.notify(event)
	}
}

// HandleParticipantJoined re-broadcasts the playlist so a newcomer can catch up.
func (e *Engine) HandleParticipantJoined(_ context.Context, participant playlist.ParticipantID) {
	if participant == e.participant {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		return
	}
	e.broadcastFullSyncLocked()
}

// AdoptSnapshot replaces the playlist with a foreign snapshot's. It reports false for the engine's
// own or invalid snapshots. Freshness is the caller's decision. Adoption does not rewrite the store.
func (e *Engine) AdoptSnapshot(_ context.Context, stored snapshot.Snapshot) bool {
	e.mu.Lock()
	event, adopted := e.adoptLocked(stored)
	e.mu.Unlock()

	if adopted {
		e.notify(event)
	}
	return adopted
}

// AdoptFromStore loads the stored snapshot and adopts it when accept approves, all under the
// engine lock, so a local mutation cannot land between the read and the adoption. It returns the
// loaded snapshot, whether it was adopted, and any load error.
func (e *Engine) AdoptFromStore(ctx context.Context, accept func(snapshot.Snapshot) bool) (snapshot.Snapshot, bool, error) {
	e.mu.Lock()
	stored, ok, err := e.store.Load(ctx)
	if err != nil || !ok || (accept != nil && !accept(stored)) {
		e.mu.Unlock()
		return stored, false, err
	}
	event, adopted := e.adoptLocked(stored)
	e.mu.Unlock()

	if adopted {
		e.notify(event)
	}
	return stored, adopted, nil
}

func (e *Engine) adoptLocked(stored snapshot.Snapshot) (ChangeEvent, bool) {
	if stored.OwnerID == "" || stored.OwnerID == e.participant {
		return ChangeEvent{}, false
	}
	if err := stored.Playlist.Validate(); err != nil {
		e.logger.Warn("snapshot rejected", zap.String("owner_id", stored.OwnerID.String()), zap.Error(err))
		return ChangeEvent{}, false
	}
	return e.commitLocked(stored.Playlist.Clone(), "", SourceSnapshot, stored.OwnerID), true
}

// Reset empties the playlist, clears the stored snapshot, and returns to disconnected.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	e.items = playlist.Playlist{}
	e.status = StatusDisconnected
	e.activeID = ""
	e.lastAcceptedAt = time.Time{}
	e.lastApplied = AppliedAction{}
	if err := e.store.Clear(ctx); err != nil {
		e.logError(opReset, "store_clear_failed", err)
	}
	metrics.PlaylistLength.Set(0)
	event := e.eventLocked(SourceReset, "", e.participant)
	e.mu.Unlock()

	e.notify(event)
}

func (e *Engine) commitLocked(next playlist.Playlist, action envelope.Action, source ChangeSource, origin playlist.ParticipantID) ChangeEvent {
	activeRemoved := e.activeID != "" && !next.Contains(e.activeID)
	if activeRemoved {
		e.activeID = ""
	}
	e.items = next
	e.acceptLocked(action, source, origin)
	metrics.PlaylistLength.Set(float64(len(e.items)))

	event := e.eventLocked(source, action, origin)
	event.ActiveRemoved = activeRemoved
	return event
}

// acceptLocked records an accepted mutation and promotes syncing to connected.
func (e *Engine) acceptLocked(action envelope.Action, source ChangeSource, origin playlist.ParticipantID) {
	now := e.clock()
	e.lastAcceptedAt = now
	e.lastApplied = AppliedAction{Action: action, Source: source, OriginID: origin, AppliedAt: now}
	if e.status == StatusSyncing {
		e.status = StatusConnected
	}
}

// eventLocked stamps the next delivery sequence number. Every event it returns must be passed to notify.
func (e *Engine) eventLocked(source ChangeSource, action envelope.Action, origin playlist.ParticipantID) ChangeEvent {
	e.seq++
	return ChangeEvent{
		Seq:          e.seq,
		Playlist:     e.items.Clone(),
		Status:       e.status,
		Source:       source,
		Action:       action,
		OriginID:     origin,
		ActiveItemID: e.activeID,
	}
}

func (e *Engine) persistLocked(ctx context.Context) {
	record := snapshot.Snapshot{
		Playlist: e.items.Clone(),
		SavedAt:  e.clock(),
		OwnerID:  e.participant,
	}
	if err := e.store.Save(ctx, record); err != nil {
		e.logError(opPersist, "store_save_failed", err)
	}
}

func (e *Engine) announceLocked() {
	if len(e.items) > 0 {
		e.broadcastFullSyncLocked()
		return
	}
	outgoing, err := envelope.NewRequestSync(e.participant, e.clock())
	if err != nil {
		e.logError(opBuildEnvelope, "request_sync_invalid", err)
		return
	}
	e.broadcaster.Broadcast(outgoing)
}

func (e *Engine) broadcastFullSyncLocked() {
	outgoing, err := envelope.NewFullSync(e.participant, e.items, e.clock())
	if err != nil {
		e.logError(opBuildEnvelope, "full_sync_invalid", err)
		return
	}
	e.broadcaster.Broadcast(outgoing)
}

// notify waits for every earlier event to be delivered, then runs the callback.
func (e *Engine) notify(event ChangeEvent) {
	if e.onChange == nil {
		return
	}
	e.deliverMu.Lock()
	for e.delivered+1 != event.Seq {
		e.deliverCond.Wait()
	}
	e.deliverMu.Unlock()

	defer func() {
		e.deliverMu.Lock()
		e.delivered = event.Seq
		e.deliverCond.Broadcast()
		e.deliverMu.Unlock()
	}()
	e.onChange(event)
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("participant_id", e.participant.String()),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("replication engine error", attrs...)
}
