package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"walletkit/core/ids"
)

const cursorPrefix = "cursor/"

// CursorStore persists composite id cursors as JSON records in a Database.
type CursorStore struct {
	db Database
}

// NewCursorStore wraps db.
func NewCursorStore(db Database) *CursorStore {
	return &CursorStore{db: db}
}

type cursorRecord struct {
	Window uint32 `json:"window"`
	Slot   uint32 `json:"slot"`
}

// LoadCursor implements ids.Store.
func (s *CursorStore) LoadCursor(ctx context.Context, account string) (ids.CompositeID, bool, error) {
	if err := ctx.Err(); err != nil {
		return ids.CompositeID{}, false, err
	}
	raw, err := s.db.Get([]byte(cursorPrefix + account))
	if errors.Is(err, ErrNotFound) {
		return ids.CompositeID{}, false, nil
	}
	if err != nil {
		return ids.CompositeID{}, false, fmt.Errorf("read cursor: %w", err)
	}
	var rec cursorRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ids.CompositeID{}, false, fmt.Errorf("decode cursor: %w", err)
	}
	return ids.CompositeID{Window: rec.Window, Slot: rec.Slot}, true, nil
}

// SaveCursor implements ids.Store.
func (s *CursorStore) SaveCursor(ctx context.Context, account string, cursor ids.CompositeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(cursorRecord{Window: cursor.Window, Slot: cursor.Slot})
	if err != nil {
		return fmt.Errorf("encode cursor: %w", err)
	}
	if err := s.db.Put([]byte(cursorPrefix+account), raw); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	return nil
}

var _ ids.Store = (*CursorStore)(nil)
