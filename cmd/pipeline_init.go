package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vin-resolver/internal/assistant"
	"github.com/sells-group/vin-resolver/internal/cache"
	"github.com/sells-group/vin-resolver/internal/config"
	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/pipeline"
	"github.com/sells-group/vin-resolver/internal/resilience"
	"github.com/sells-group/vin-resolver/internal/store"
	"github.com/sells-group/vin-resolver/pkg/vinapi"
	"github.com/sells-group/vin-resolver/pkg/vpic"
)

// resolverEnv holds everything the serve and decode commands share.
type resolverEnv struct {
	Resolver *pipeline.Resolver
	Store    store.Store // may be nil
	Breakers *resilience.Registry
}

// Close releases resources held by the environment.
func (re *resolverEnv) Close() {
	if re.Resolver != nil {
		re.Resolver.Flush()
	}
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// initResolver validates config for mode and wires decoder, breakers,
// assistant, cache and store into a Resolver. Callers should defer
// env.Close().
func initResolver(ctx context.Context, mode string) (*resolverEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	breakers := resilience.NewRegistry()
	decoderBreaker := breakers.Register(resilience.DecoderBreakerConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))

	dec, err := newDecoder(cfg.Decoder)
	if err != nil {
		return nil, err
	}

	gate, err := initGate(ctx, cfg.Enrichment, breakers)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	c := cache.New[*model.Resolution](cache.Options{
		TTL:      cfg.Cache.TTL(),
		Capacity: cfg.Cache.Capacity,
	})

	opts := []pipeline.ResolverOption{
		pipeline.WithDecoderTimeout(cfg.Decoder.Timeout()),
		pipeline.WithDecoderBreaker(decoderBreaker),
		pipeline.WithGate(gate),
		pipeline.WithCache(c),
		pipeline.WithCoalescing(cfg.Cache.Coalesce),
	}
	if st != nil {
		opts = append(opts, pipeline.WithStore(st))
	}

	zap.L().Info("resolver initialized",
		zap.String("decoder", cfg.Decoder.Provider),
		zap.Bool("enrichment", gate.Enabled()),
		zap.String("store", cfg.Store.Driver),
		zap.Duration("cache_ttl", cfg.Cache.TTL()),
	)

	return &resolverEnv{
		Resolver: pipeline.NewResolver(dec, opts...),
		Store:    st,
		Breakers: breakers,
	}, nil
}

// newDecoder builds the decoder client selected by cfg.Provider.
func newDecoder(dc config.DecoderConfig) (pipeline.Decoder, error) {
	switch dc.Provider {
	case config.DecoderNHTSA:
		var opts []vpic.Option
		if dc.RatePerSec > 0 {
			opts = append(opts, vpic.WithRateLimit(dc.RatePerSec, dc.RateBurst))
		}
		if dc.BaseURL != "" {
			opts = append(opts, vpic.WithBaseURL(dc.BaseURL))
		}
		if dc.UserAgent != "" {
			opts = append(opts, vpic.WithUserAgent(dc.UserAgent))
		}
		return vpic.NewClient(opts...), nil
	case config.DecoderCustom:
		var opts []vinapi.Option
		if dc.UserAgent != "" {
			opts = append(opts, vinapi.WithUserAgent(dc.UserAgent))
		}
		return vinapi.NewClient(dc.URL, dc.Key, opts...), nil
	default:
		return nil, eris.Errorf("unknown decoder provider %q", dc.Provider)
	}
}

// initGate builds the enrichment gate. A disabled config yields a gate that
// never calls out.
func initGate(ctx context.Context, ec config.EnrichmentConfig, breakers *resilience.Registry) (*pipeline.Gate, error) {
	a, err := assistant.New(ctx, ec)
	if err != nil {
		return nil, eris.Wrap(err, "init assistant")
	}

	var breaker *resilience.CircuitBreaker
	if a != nil {
		breaker = breakers.Register(resilience.AssistantBreakerConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs))
		zap.L().Info("enrichment enabled", zap.String("assistant", a.Name()), zap.Bool("summary", ec.Summary))
	}

	return pipeline.NewGate(pipeline.GateConfig{
		Enabled:     ec.Enabled,
		Summary:     ec.Summary,
		Timeout:     ec.Timeout(),
		MaxTokens:   ec.MaxTokens,
		Temperature: ec.Temperature,
	}, a, breaker), nil
}

// initStore opens and migrates the configured store. It returns nil for
// the none driver.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
