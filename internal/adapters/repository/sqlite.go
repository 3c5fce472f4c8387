package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/okian/trackpick/internal/domain/model"
)

// Schema of the request journal.
const Schema = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at);
CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);
`

const upsertRequest = `INSERT INTO requests (id, state, created_at, updated_at, payload)
VALUES (:id, :state, :created_at, :updated_at, :payload)
ON CONFLICT(id) DO UPDATE SET
	state = excluded.state,
	updated_at = excluded.updated_at,
	payload = excluded.payload`

type requestRow struct {
	ID        string `db:"id"`
	State     string `db:"state"`
	CreatedAt int64  `db:"created_at"` // unix nanoseconds
	UpdatedAt int64  `db:"updated_at"`
	Payload   []byte `db:"payload"`
}

func toRow(r model.TrackRequest) (requestRow, error) { //nolint:gocritic // snapshot passed by value
	payload, err := json.Marshal(r)
	if err != nil {
		return requestRow{}, fmt.Errorf("encode request %s: %w", r.ID, err)
	}
	return requestRow{
		ID:        r.ID,
		State:     string(r.State),
		CreatedAt: r.CreatedAt.UnixNano(),
		UpdatedAt: r.UpdatedAt.UnixNano(),
		Payload:   payload,
	}, nil
}

func (row requestRow) decode() (model.TrackRequest, error) {
	var r model.TrackRequest
	if err := json.Unmarshal(row.Payload, &r); err != nil {
		return model.TrackRequest{}, fmt.Errorf("decode request %s: %w", row.ID, err)
	}
	return r, nil
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (creating if needed) the database at dsn and applies
// the schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r model.TrackRequest) error { //nolint:gocritic // snapshot passed by value
	row, err := toRow(r)
	if err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertRequest, row); err != nil {
		return fmt.Errorf("save request %s: %w", r.ID, err)
	}
	return nil
}

// SaveBatch implements Store.
func (s *SQLiteStore) SaveBatch(ctx context.Context, rs []model.TrackRequest) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i := range rs {
		row, err := toRow(rs[i])
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, upsertRequest, row); err != nil {
			return fmt.Errorf("save request %s: %w", rs[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete request %s: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (model.TrackRequest, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, `SELECT id, state, created_at, updated_at, payload FROM requests WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TrackRequest{}, fmt.Errorf("load request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.TrackRequest{}, fmt.Errorf("load request %s: %w", id, err)
	}
	return row.decode()
}

// LoadAll implements Store.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]model.TrackRequest, error) {
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, state, created_at, updated_at, payload FROM requests ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	out := make([]model.TrackRequest, 0, len(rows))
	for _, row := range rows {
		r, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CountByState returns the number of stored requests per state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[model.State]int, error) {
	var rows []struct {
		State string `db:"state"`
		N     int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT state, COUNT(*) AS n FROM requests GROUP BY state`); err != nil {
		return nil, fmt.Errorf("count requests: %w", err)
	}
	out := make(map[model.State]int, len(rows))
	for _, r := range rows {
		out[model.State(r.State)] = r.N
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
