package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/vin-resolver/internal/cache"
	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/resilience"
)

// Decoder returns the raw field row for a VIN, or nil when the decoder
// has no match. pkg/vpic and pkg/vinapi clients satisfy it.
type Decoder interface {
	Decode(ctx context.Context, vin string) (map[string]any, error)
}

// ResolutionStore is the durable log the resolver writes behind and reads
// as a second cache tier.
type ResolutionStore interface {
	SaveResolution(ctx context.Context, res *model.Resolution) error
	LatestResolution(ctx context.Context, vin string, notBefore time.Time) (*model.Resolution, error)
}

// Options are per-request resolution flags.
type Options struct {
	// Fresh bypasses both cache tiers.
	Fresh bool
}

// Result is a resolution plus whether it was served from cache.
type Result struct {
	Resolution *model.Resolution
	Cached     bool
}

const (
	defaultDecoderTimeout = 6 * time.Second
	storeWriteTimeout     = 5 * time.Second
)

// Resolver turns a VIN into a reconciled vehicle record.
type Resolver struct {
	decoder        Decoder
	decoderTimeout time.Duration
	decoderBreaker *resilience.CircuitBreaker
	classifier     *Classifier
	gate           *Gate
	cache          *cache.Cache[*model.Resolution]
	store          ResolutionStore
	coalesce       bool
	group          singleflight.Group
	writes         sync.WaitGroup
	now            func() time.Time
	newID          func() string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDecoderTimeout bounds each decoder call.
func WithDecoderTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.decoderTimeout = d
		}
	}
}

// WithDecoderBreaker guards decoder calls with cb.
func WithDecoderBreaker(cb *resilience.CircuitBreaker) ResolverOption {
	return func(r *Resolver) { r.decoderBreaker = cb }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) ResolverOption {
	return func(r *Resolver) { r.classifier = c }
}

// WithGate enables enrichment through g.
func WithGate(g *Gate) ResolverOption {
	return func(r *Resolver) { r.gate = g }
}

// WithCache replaces the default in-memory cache.
func WithCache(c *cache.Cache[*model.Resolution]) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// WithStore adds a durable resolution log.
func WithStore(s ResolutionStore) ResolverOption {
	return func(r *Resolver) { r.store = s }
}

// WithCoalescing toggles in-flight request coalescing per VIN.
func WithCoalescing(on bool) ResolverOption {
	return func(r *Resolver) { r.coalesce = on }
}

// WithClock injects the time source used for year decoding and timestamps.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over dec. Without options it uses the
// default rules, a 24h cache, no enrichment and no store.
func NewResolver(dec Decoder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		decoder:        dec,
		decoderTimeout: defaultDecoderTimeout,
		coalesce:       true,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	if r.classifier == nil {
		r.classifier = NewClassifier(nil)
	}
	if r.cache == nil {
		r.cache = cache.New[*model.Resolution](cache.Options{Now: r.now})
	}
	return r
}

// Flush blocks until every pending store write has finished. Call it
// before closing the store.
func (r *Resolver) Flush() {
	r.writes.Wait()
}

// EnrichmentEnabled reports whether the resolver can call an assistant.
func (r *Resolver) EnrichmentEnabled() bool {
	return r.gate.Enabled()
}

// Resolve validates raw, then serves it from cache or runs the full
// pipeline. Caller cancellation does not abort an in-flight resolution;
// its result is still cached.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts Options) (*Result, error) {
	vin := model.CanonicalVIN(raw)
	if problem := model.VINProblem(vin); problem != "" {
		return nil, &ValidationError{VIN: vin, Reason: problem}
	}

	log := zap.L().With(zap.String("vin", vin))

	if !opts.Fresh {
		if res, ok := r.cache.Get(vin); ok {
			log.Debug("resolver: cache hit")
			return &Result{Resolution: res.Clone(), Cached: true}, nil
		}
		if res := r.fromStore(ctx, vin); res != nil {
			log.Debug("resolver: store hit")
			return &Result{Resolution: res.Clone(), Cached: true}, nil
		}
		log.Debug("resolver: cache miss")
	}

	if !r.coalesce {
		res, err := r.resolve(ctx, vin)
		if err != nil {
			return nil, err
		}
		return &Result{Resolution: res.Clone()}, nil
	}

	key := vin
	if opts.Fresh {
		key += "|fresh"
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolve(ctx, vin)
	})
	if err != nil {
		return nil, err
	}
	return &Result{Resolution: v.(*model.Resolution).Clone()}, nil
}

// saveAsync writes res to the store in the background so a slow store
// never delays the response.
func (r *Resolver) saveAsync(ctx context.Context, res *model.Resolution, log *zap.Logger) {
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()
		saveCtx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
		defer cancel()
		if err := r.store.SaveResolution(saveCtx, res); err != nil {
			log.Warn("resolver: store write failed", zap.Error(err))
		}
	}()
}

func (r *Resolver) fromStore(ctx context.Context, vin string) *model.Resolution {
	if r.store == nil {
		return nil
	}
	notBefore := r.now().Add(-r.cache.TTL())
	res, err := r.store.LatestResolution(ctx, vin, notBefore)
	if err != nil {
		zap.L().Warn("resolver: store lookup failed", zap.String("vin", vin), zap.Error(err))
		return nil
	}
	if res == nil {
		return nil
	}
	r.cache.SetAt(vin, res, res.ResolvedAt)
	return res
}

// resolve runs decode, normalize, classify, enrich and reconcile for a
// validated VIN and caches the outcome.
func (r *Resolver) resolve(ctx context.Context, vin string) (*model.Resolution, error) {
	ctx = context.WithoutCancel(ctx)
	log := zap.L().With(zap.String("vin", vin))

	row, err := r.decode(ctx, vin)
	if err != nil {
		status := upstreamStatus(err)
		log.Warn("resolver: decoder failed", zap.Int("status", status), zap.Error(err))
		return nil, &UpstreamError{VIN: vin, StatusCode: status, Err: err}
	}

	now := r.now()
	draft := Normalize(model.ProviderRow(row), vin, now.Year())
	if row == nil || draft.Make == nil || draft.Model == nil || draft.Year == nil {
		log.Info("resolver: decoder returned no usable vehicle")
		return nil, &NotFoundError{VIN: vin}
	}

	cls := r.classifier.Classify(draft)
	patch, meta := r.gate.Enrich(ctx, cls.Apply(draft), cls.Withheld())
	merged := Reconcile(draft, cls, patch)
	meta.Fields = merged.Applied

	res := &model.Resolution{
		ID:         r.newID(),
		Record:     merged.Record,
		Sources:    merged.Sources,
		Votes:      cls.Votes,
		Enrichment: meta,
		ResolvedAt: now,
	}
	r.cache.Set(vin, res)

	if r.store != nil {
		r.saveAsync(ctx, res.Clone(), log)
	}

	log.Info("resolver: resolved",
		zap.Stringp("body", (*string)(res.Record.Body)),
		zap.Stringp("drive", (*string)(res.Record.Drive)),
		zap.Bool("enrichment_attempted", meta.Attempted),
	)
	return res, nil
}

func (r *Resolver) decode(ctx context.Context, vin string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.decoderTimeout)
	defer cancel()

	if r.decoderBreaker == nil {
		return r.decoder.Decode(ctx, vin)
	}
	return resilience.ExecuteVal(ctx, r.decoderBreaker, func(ctx context.Context) (map[string]any, error) {
		return r.decoder.Decode(ctx, vin)
	})
}
