package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jp-673/isktreon/internal/app/storage/queries"
)

// GetDictEntry returns the value of a dictionary entry and reports whether it was found.
func (st *Storage) GetDictEntry(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := st.q.DictGet(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get dict entry %s: %w", key, err)
	}
	return v, true, nil
}

// SetDictEntry creates or updates a dictionary entry.
func (st *Storage) SetDictEntry(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("set dict entry: empty key: %w", ErrInvalid)
	}
	if value == nil {
		value = []byte{}
	}
	if err := st.q.DictSet(ctx, queries.DictSetParams{Key: key, Value: value}); err != nil {
		return fmt.Errorf("set dict entry %s: %w", key, err)
	}
	return nil
}

// DeleteDictEntry deletes a dictionary entry. Deleting a non existing entry is not an error.
func (st *Storage) DeleteDictEntry(ctx context.Context, key string) error {
	if err := st.q.DictDelete(ctx, key); err != nil {
		return fmt.Errorf("delete dict entry %s: %w", key, err)
	}
	return nil
}

// ClearDict deletes all dictionary entries.
func (st *Storage) ClearDict(ctx context.Context) error {
	if err := st.q.DictClear(ctx); err != nil {
		return fmt.Errorf("clear dict: %w", err)
	}
	return nil
}
