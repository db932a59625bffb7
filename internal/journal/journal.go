// Package journal persists notification mutations that were applied locally
// but not yet acknowledged by the store. Rows survive restarts; the session
// replays them on open and on refresh, which is safe because every journaled
// op is idempotent.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Kind is the journaled operation type.
type Kind string

const (
	KindWrite  Kind = "write"
	KindDelete Kind = "delete"
)

// Op is one journaled store mutation. Value holds the JSON-encoded value for
// writes and is empty for deletes.
type Op struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      Kind      `db:"kind"`
	Path      string    `db:"path"`
	Value     string    `db:"value"`
	CreatedAt time.Time `db:"created_at"`
}

// DecodedValue unmarshals the journaled value for a write op.
func (o Op) DecodedValue() (any, error) {
	if o.Kind != KindWrite {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(o.Value), &v); err != nil {
		return nil, fmt.Errorf("journal row %d: %w", o.ID, err)
	}
	return v, nil
}

// Journal is a sqlite-backed op log.
type Journal struct {
	db *sqlx.DB
}

// Open opens (and if needed creates) the journal at path. Use ":memory:" for
// an ephemeral journal in tests.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path must not be empty")
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func ensureSchema(db *sqlx.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS pending_ops (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        path TEXT NOT NULL,
        value TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMP NOT NULL
    );`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_ops_user ON pending_ops(user_id, id);`)
	return err
}

// AppendWrite journals a value write and returns the row ID.
func (j *Journal) AppendWrite(ctx context.Context, userID, path string, value any) (int64, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0, err
	}
	return j.append(ctx, Op{UserID: userID, Kind: KindWrite, Path: path, Value: string(encoded)})
}

// AppendDelete journals a deletion and returns the row ID.
func (j *Journal) AppendDelete(ctx context.Context, userID, path string) (int64, error) {
	return j.append(ctx, Op{UserID: userID, Kind: KindDelete, Path: path})
}

func (j *Journal) append(ctx context.Context, op Op) (int64, error) {
	op.CreatedAt = time.Now().UTC()
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO pending_ops (user_id, kind, path, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		op.UserID, op.Kind, op.Path, op.Value, op.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Pending returns the user's unacknowledged ops in insertion order.
func (j *Journal) Pending(ctx context.Context, userID string) ([]Op, error) {
	var ops []Op
	err := j.db.SelectContext(ctx, &ops,
		`SELECT id, user_id, kind, path, value, created_at FROM pending_ops WHERE user_id = ? ORDER BY id`,
		userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return ops, nil
}

// Ack removes a journaled op after the store confirmed it. Acking a missing
// row is a no-op so replays can race.
func (j *Journal) Ack(ctx context.Context, id int64) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id)
	return err
}

// Close releases the underlying database handle.
func (j *Journal) Close() error { return j.db.Close() }
