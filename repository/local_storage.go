package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var _ gate.LocalStorage = (*BunStorage)(nil)

// LocalStorageModel is the Bun model for client scoped key/value rows.
type LocalStorageModel struct {
	bun.BaseModel `bun:"table:client_local_storage"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	ClientID  string    `bun:"client_id,notnull"`
	Key       string    `bun:"key,notnull"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// BunStorage implements gate.LocalStorage on top of Bun.
type BunStorage struct {
	db  *bun.DB
	now func() time.Time
}

// NewBunStorage creates a new storage backed by db.
func NewBunStorage(db *bun.DB) *BunStorage {
	return &BunStorage{
		db:  db,
		now: time.Now,
	}
}

// WithClock overrides the clock used to stamp rows.
func (s *BunStorage) WithClock(now func() time.Time) *BunStorage {
	if now != nil {
		s.now = now
	}
	return s
}

// Migrate creates the storage table if missing.
func (s *BunStorage) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*LocalStorageModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Get implements gate.LocalStorage.
func (s *BunStorage) Get(ctx context.Context, clientID, key string) (string, bool, error) {
	id, err := rowID(clientID, key)
	if err != nil {
		return "", false, err
	}

	var model LocalStorageModel
	err = s.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	return model.Value, true, nil
}

// Set implements gate.LocalStorage.
func (s *BunStorage) Set(ctx context.Context, clientID, key, value string) error {
	id, err := rowID(clientID, key)
	if err != nil {
		return err
	}

	model := &LocalStorageModel{
		ID:        id,
		ClientID:  clientID,
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC(),
	}

	_, err = s.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// Delete implements gate.LocalStorage.
func (s *BunStorage) Delete(ctx context.Context, clientID, key string) error {
	id, err := rowID(clientID, key)
	if err != nil {
		return err
	}

	_, err = s.db.NewDelete().
		Model((*LocalStorageModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Prune removes rows for key written before cutoff and returns how many
// were deleted.
func (s *BunStorage) Prune(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*LocalStorageModel)(nil)).
		Where("key = ?", key).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// rowID derives a stable primary key so upserts never need a lookup.
func rowID(clientID, key string) (uuid.UUID, error) {
	return hashid.NewUUID(clientID + "/" + key)
}
