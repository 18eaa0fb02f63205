package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/watchparty/internal/playlist"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opSave                = "snapshot.save"
	opLoad                = "snapshot.load"
	opClear               = "snapshot.clear"
	queryName             = "name = ?"
	reasonMissingDatabase = "missing_database"
	reasonEncodeFailed    = "encode_failed"
	reasonUpsertFailed    = "upsert_failed"
	reasonQueryFailed     = "query_failed"
	reasonPayloadInvalid  = "payload_invalid"
	reasonOwnerInvalid    = "owner_invalid"
	reasonDeleteFailed    = "delete_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Record is the table row backing the single named snapshot.
type Record struct {
	Name          string `gorm:"column:name;primaryKey;size:190;not null"`
	PlaylistJSON  string `gorm:"column:playlist_json;type:text;not null"`
	SavedAtMillis int64  `gorm:"column:saved_at_ms;not null"`
	OwnerID       string `gorm:"column:owner_id;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "playlist_snapshots"
}

// StoreError carries an operation.reason code for failed store calls.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: operation + "." + reason, err: cause}
}

// SQLStoreConfig describes the dependencies of a SQLStore.
type SQLStoreConfig struct {
	Database   *gorm.DB
	RecordName string
	Logger     *zap.Logger
}

// SQLStore keeps the snapshot in a SQL table. Processes opening the same database file share it.
type SQLStore struct {
	db     *gorm.DB
	name   string
	logger *zap.Logger
}

// NewSQLStore constructs a SQLStore.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError("snapshot.new", reasonMissingDatabase, errMissingDatabase)
	}
	name := cfg.RecordName
	if name == "" {
		name = DefaultRecordName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLStore{db: cfg.Database, name: name, logger: logger}, nil
}

// Save overwrites the record.
func (s *SQLStore) Save(ctx context.Context, snapshot Snapshot) error {
	items := snapshot.Playlist
	if items == nil {
		items = playlist.Playlist{}
	}
	payload, err := json.Marshal(items)
	if err != nil {
		s.logError(opSave, reasonEncodeFailed, err)
		return newStoreError(opSave, reasonEncodeFailed, err)
	}
	record := Record{
		Name:          s.name,
		PlaylistJSON:  string(payload),
		SavedAtMillis: snapshot.SavedAt.UnixMilli(),
		OwnerID:       snapshot.OwnerID.String(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
		s.logError(opSave, reasonUpsertFailed, err)
		return newStoreError(opSave, reasonUpsertFailed, err)
	}
	return nil
}

// Load reads the record.
func (s *SQLStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var record Record
	err := s.db.WithContext(ctx).Where(queryName, s.name).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		s.logError(opLoad, reasonQueryFailed, err)
		return Snapshot{}, false, newStoreError(opLoad, reasonQueryFailed, err)
	}

	var items playlist.Playlist
	if err := json.Unmarshal([]byte(record.PlaylistJSON), &items); err != nil {
		s.logError(opLoad, reasonPayloadInvalid, err)
		return Snapshot{}, false, newStoreError(opLoad, reasonPayloadInvalid, err)
	}
	if err := items.Validate(); err != nil {
		s.logError(opLoad, reasonPayloadInvalid, err)
		return Snapshot{}, false, newStoreError(opLoad, reasonPayloadInvalid, err)
	}
	owner, err := playlist.NewParticipantID(record.OwnerID)
	if err != nil {
		s.logError(opLoad, reasonOwnerInvalid, err)
		return Snapshot{}, false, newStoreError(opLoad, reasonOwnerInvalid, err)
	}
	return Snapshot{
		Playlist: items.Clone(),
		SavedAt:  time.UnixMilli(record.SavedAtMillis).UTC(),
		OwnerID:  owner,
	}, true, nil
}

// Clear deletes the record. Clearing an absent record is not an error.
func (s *SQLStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where(queryName, s.name).Delete(&Record{}).Error; err != nil {
		s.logError(opClear, reasonDeleteFailed, err)
		return newStoreError(opClear, reasonDeleteFailed, err)
	}
	return nil
}

func (s *SQLStore) logError(operation, reason string, err error) {
	s.logger.Error("snapshot store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("record", s.name),
		zap.Error(err))
}
