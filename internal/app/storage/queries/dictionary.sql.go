package queries

import (
	"context"
)

const dictClear = `-- name: DictClear :exec
DELETE FROM dictionary
`

func (q *Queries) DictClear(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, dictClear)
	return err
}

const dictDelete = `-- name: DictDelete :exec
DELETE FROM dictionary
WHERE key = ?
`

func (q *Queries) DictDelete(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, dictDelete, key)
	return err
}

const dictGet = `-- name: DictGet :one
SELECT value
FROM dictionary
WHERE key = ?
`

func (q *Queries) DictGet(ctx context.Context, key string) ([]byte, error) {
	row := q.db.QueryRowContext(ctx, dictGet, key)
	var value []byte
	err := row.Scan(&value)
	return value, err
}

const dictSet = `-- name: DictSet :exec
INSERT INTO dictionary(key, value, updated_at)
VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at
`

type DictSetParams struct {
	Key   string
	Value []byte
}

func (q *Queries) DictSet(ctx context.Context, arg DictSetParams) error {
	_, err := q.db.ExecContext(ctx, dictSet, arg.Key, arg.Value)
	return err
}
