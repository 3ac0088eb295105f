package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/vin-resolver/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: empty database path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection; a single connection keeps them applied.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// resolved_at holds Unix nanoseconds so range scans compare numerically.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	id          TEXT PRIMARY KEY,
	vin         TEXT NOT NULL,
	resolved_at INTEGER NOT NULL,
	payload     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_vin_resolved ON resolutions(vin, resolved_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveResolution(ctx context.Context, res *model.Resolution) error {
	id, payload, err := prepare(res)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resolutions (id, vin, resolved_at, payload) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET vin = excluded.vin, resolved_at = excluded.resolved_at, payload = excluded.payload`,
		id, res.Record.VIN, res.ResolvedAt.UnixNano(), string(payload),
	)
	return eris.Wrapf(err, "sqlite: save resolution %s", id)
}

func (s *SQLiteStore) LatestResolution(ctx context.Context, vin string, notBefore time.Time) (*model.Resolution, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM resolutions WHERE vin = ? AND resolved_at >= ? ORDER BY resolved_at DESC LIMIT 1`,
		vin, notBefore.UnixNano(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest resolution %s", vin)
	}
	return decodePayload([]byte(payload))
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, vin string, limit int) ([]model.Resolution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM resolutions WHERE vin = ? ORDER BY resolved_at DESC LIMIT ?`,
		vin, historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list resolutions %s", vin)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Resolution
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		res, err := decodePayload([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate resolutions")
}
