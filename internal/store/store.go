// Package store is the durable resolution log. The resolver writes every
// fresh resolution behind the in-memory cache and reads recent entries back
// as a second cache tier.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vin-resolver/internal/config"
	"github.com/sells-group/vin-resolver/internal/model"
)

// DefaultHistoryLimit caps ListResolutions when no limit is given.
const DefaultHistoryLimit = 20

// Store persists resolutions keyed by VIN.
type Store interface {
	// SaveResolution appends res to the log. A missing ID is generated.
	SaveResolution(ctx context.Context, res *model.Resolution) error
	// LatestResolution returns the newest resolution for vin resolved at or
	// after notBefore, or nil when there is none.
	LatestResolution(ctx context.Context, vin string, notBefore time.Time) (*model.Resolution, error)
	// ListResolutions returns up to limit resolutions for vin, newest first.
	ListResolutions(ctx context.Context, vin string, limit int) ([]model.Resolution, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the store selected by cfg. It returns nil, nil for the
// none driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.StoreNone, "":
		return nil, nil
	case config.StoreSQLite:
		s, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorePostgres:
		s, err := NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepare fills in a missing ID and encodes res for storage.
func prepare(res *model.Resolution) (string, []byte, error) {
	if res == nil {
		return "", nil, eris.New("store: nil resolution")
	}
	if res.Record.VIN == "" {
		return "", nil, eris.New("store: resolution has no VIN")
	}
	id := res.ID
	if id == "" {
		id = uuid.NewString()
	}
	rec := *res
	rec.ID = id
	payload, err := json.Marshal(&rec)
	if err != nil {
		return "", nil, eris.Wrap(err, "store: marshal resolution")
	}
	return id, payload, nil
}

func decodePayload(payload []byte) (*model.Resolution, error) {
	var res model.Resolution
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal resolution")
	}
	return &res, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
