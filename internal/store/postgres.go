package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vin-resolver/internal/db"
	"github.com/sells-group/vin-resolver/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	id          TEXT PRIMARY KEY,
	vin         TEXT NOT NULL,
	resolved_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_vin_resolved ON resolutions(vin, resolved_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveResolution(ctx context.Context, res *model.Resolution) error {
	id, payload, err := prepare(res)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO resolutions (id, vin, resolved_at, payload) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET vin = EXCLUDED.vin, resolved_at = EXCLUDED.resolved_at, payload = EXCLUDED.payload`,
		id, res.Record.VIN, res.ResolvedAt.UTC(), payload,
	)
	return eris.Wrapf(err, "postgres: save resolution %s", id)
}

func (s *PostgresStore) LatestResolution(ctx context.Context, vin string, notBefore time.Time) (*model.Resolution, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM resolutions WHERE vin = $1 AND resolved_at >= $2 ORDER BY resolved_at DESC LIMIT 1`,
		vin, notBefore.UTC(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest resolution %s", vin)
	}
	return decodePayload(payload)
}

func (s *PostgresStore) ListResolutions(ctx context.Context, vin string, limit int) ([]model.Resolution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM resolutions WHERE vin = $1 ORDER BY resolved_at DESC LIMIT $2`,
		vin, historyLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list resolutions %s", vin)
	}
	defer rows.Close()

	var out []model.Resolution
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		res, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate resolutions")
}
