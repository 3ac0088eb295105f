package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/vin-resolver/internal/model"
)

// --- Decoder Mock ---

type mockDecoder struct {
	mock.Mock
}

func (m *mockDecoder) Decode(ctx context.Context, vin string) (map[string]any, error) {
	args := m.Called(ctx, vin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// countingDecoder returns a fixed row and counts calls. release, when set,
// blocks each call until it is closed.
type countingDecoder struct {
	row     map[string]any
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (d *countingDecoder) Decode(ctx context.Context, vin string) (map[string]any, error) {
	d.calls.Add(1)
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.row, nil
}

// --- Store Fake ---

type memStore struct {
	mu      sync.Mutex
	saved   []*model.Resolution
	latest  *model.Resolution
	saveErr error
	readErr error
	// block, when set, holds SaveResolution until it is closed.
	block chan struct{}
}

func (s *memStore) SaveResolution(_ context.Context, res *model.Resolution) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, res.Clone())
	return nil
}

func (s *memStore) LatestResolution(_ context.Context, vin string, notBefore time.Time) (*model.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.latest == nil || s.latest.Record.VIN != vin || s.latest.ResolvedAt.Before(notBefore) {
		return nil, nil
	}
	return s.latest.Clone(), nil
}

func (s *memStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// decoderFunc adapts a function to Decoder.
type decoderFunc func(ctx context.Context, vin string) (map[string]any, error)

func (f decoderFunc) Decode(ctx context.Context, vin string) (map[string]any, error) {
	return f(ctx, vin)
}
