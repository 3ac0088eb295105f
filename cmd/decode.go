package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/pipeline"
)

var (
	decodeFresh       bool
	decodeConcurrency int
)

var decodeCmd = &cobra.Command{
	Use:   "decode [VIN...]",
	Short: "Resolve VINs and print the records as JSON",
	Long:  "Resolves each VIN argument (or one VIN per stdin line when none are given) and writes a JSON array to stdout in input order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		vins := args
		if len(vins) == 0 {
			var err error
			vins, err = readVINs(cmd.InOrStdin())
			if err != nil {
				return err
			}
		}
		if len(vins) == 0 {
			return eris.New("decode: no VINs given")
		}

		env, err := initResolver(cmd.Context(), "decode")
		if err != nil {
			return err
		}
		defer env.Close()

		results, failed := decodeVINs(cmd.Context(), env.Resolver, vins, decodeConcurrency, pipeline.Options{Fresh: decodeFresh})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return eris.Wrap(err, "decode: write output")
		}
		if failed > 0 {
			return eris.Errorf("decode: %d of %d VINs failed", failed, len(vins))
		}
		return nil
	},
}

// decodeResult is one entry of the decode output.
type decodeResult struct {
	Input  string               `json:"input"`
	OK     bool                 `json:"ok"`
	Kind   string               `json:"kind,omitempty"`
	Error  string               `json:"error,omitempty"`
	Cached bool                 `json:"cached,omitempty"`
	Data   *model.VehicleRecord `json:"data,omitempty"`
	Meta   *decodeMeta          `json:"meta,omitempty"`
}

type decodeMeta struct {
	Sources    map[model.Field]model.Source `json:"sources"`
	Votes      []model.BodyVote             `json:"votes,omitempty"`
	Enrichment model.EnrichmentMeta         `json:"enrichment"`
}

// resolver is the part of *pipeline.Resolver decode needs.
type resolver interface {
	Resolve(ctx context.Context, raw string, opts pipeline.Options) (*pipeline.Result, error)
}

// decodeVINs resolves vins with at most concurrency in flight. Individual
// failures are recorded in the result and never abort the batch.
func decodeVINs(ctx context.Context, r resolver, vins []string, concurrency int, opts pipeline.Options) ([]decodeResult, int) {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]decodeResult, len(vins))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, raw := range vins {
		g.Go(func() error {
			out := decodeResult{Input: raw}
			res, err := r.Resolve(gctx, raw, opts)
			if err != nil {
				failed.Add(1)
				out.Kind = pipeline.Classify(err).String()
				out.Error = err.Error()
				zap.L().Warn("decode: resolve failed", zap.String("input", raw), zap.Error(err))
			} else {
				rec := res.Resolution.Record
				out.OK = true
				out.Cached = res.Cached
				out.Data = &rec
				out.Meta = &decodeMeta{
					Sources:    res.Resolution.Sources,
					Votes:      res.Resolution.Votes,
					Enrichment: res.Resolution.Enrichment,
				}
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	zap.L().Info("decode complete",
		zap.Int("vins", len(vins)),
		zap.Int64("failed", failed.Load()),
	)
	return results, int(failed.Load())
}

// readVINs reads one VIN per non-blank line, skipping # comments.
func readVINs(r io.Reader) ([]string, error) {
	var vins []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		vins = append(vins, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "decode: read stdin")
	}
	return vins, nil
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeFresh, "fresh", false, "bypass the cache and the store")
	decodeCmd.Flags().IntVar(&decodeConcurrency, "concurrency", 4, "maximum VINs resolved at once")
	rootCmd.AddCommand(decodeCmd)
}
