// Package api is the HTTP surface of the resolver.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/pipeline"
	"github.com/sells-group/vin-resolver/internal/resilience"
)

const maxBodyBytes = 64 << 10

// Resolver is the part of *pipeline.Resolver the handlers use.
type Resolver interface {
	Resolve(ctx context.Context, raw string, opts pipeline.Options) (*pipeline.Result, error)
	EnrichmentEnabled() bool
}

// HealthInfo is static configuration echoed by /health.
type HealthInfo struct {
	DecoderProvider    string
	EnrichmentProvider string
	EnrichmentModel    string
	StoreDriver        string
}

// Server holds the handler dependencies.
type Server struct {
	resolver Resolver
	breakers *resilience.Registry
	info     HealthInfo
	logger   *zap.Logger
}

// NewServer creates a Server. breakers may be nil.
func NewServer(resolver Resolver, breakers *resilience.Registry, info HealthInfo) *Server {
	return &Server{
		resolver: resolver,
		breakers: breakers,
		info:     info,
		logger:   zap.L(),
	}
}

// Router builds the chi router with CORS and request middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(w, http.StatusNotFound, "", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = ErrorResponse(w, http.StatusMethodNotAllowed, "", "method not allowed")
	})

	r.Get("/health", s.Health)
	r.Get("/api/vin", s.ResolveVIN)
	r.Post("/api/vin", s.ResolveVIN)
	r.Options("/api/vin", preflight)
	return r
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// vinRequest is the POST /api/vin body.
type vinRequest struct {
	VIN   string `json:"vin"`
	Fresh bool   `json:"fresh"`
}

// ResolveVIN handles GET /api/vin?vin=&fresh= and POST /api/vin.
func (s *Server) ResolveVIN(w http.ResponseWriter, r *http.Request) {
	req, err := readRequest(r)
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "", "invalid request body")
		return
	}

	res, err := s.resolver.Resolve(r.Context(), req.VIN, pipeline.Options{Fresh: req.Fresh})
	if err != nil {
		s.writeResolveError(w, req.VIN, err)
		return
	}

	rec := res.Resolution.Record
	votes := res.Resolution.Votes
	if votes == nil {
		votes = []model.BodyVote{}
	}
	body := envelope{
		OK:   true,
		Data: &rec,
		Meta: &resolutionMeta{
			ID:         res.Resolution.ID,
			Cached:     res.Cached,
			ResolvedAt: res.Resolution.ResolvedAt,
			Enrichment: res.Resolution.Enrichment,
			Sources:    res.Resolution.Sources,
			Votes:      votes,
		},
	}
	if err := WriteJSON(w, http.StatusOK, body); err != nil {
		s.logger.Warn("api: encode response", zap.Error(err))
	}
}

func readRequest(r *http.Request) (vinRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		fresh, _ := strconv.ParseBool(q.Get("fresh"))
		return vinRequest{VIN: q.Get("vin"), Fresh: fresh}, nil
	}

	var req vinRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return vinRequest{}, err
	}
	// A query flag also counts for POST.
	if fresh, err := strconv.ParseBool(r.URL.Query().Get("fresh")); err == nil && fresh {
		req.Fresh = true
	}
	return req, nil
}

func (s *Server) writeResolveError(w http.ResponseWriter, raw string, err error) {
	vin := model.CanonicalVIN(raw)
	switch pipeline.Classify(err) {
	case pipeline.KindValidation:
		_ = ErrorResponse(w, http.StatusBadRequest, vin, err.Error())
	case pipeline.KindNotFound:
		_ = ErrorResponse(w, http.StatusNotFound, vin, "no vehicle found for VIN")
	case pipeline.KindUpstream:
		msg := "VIN provider error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			msg = "VIN provider temporarily unavailable"
		}
		_ = ErrorResponse(w, http.StatusBadGateway, vin, msg)
	default:
		s.logger.Error("api: resolve failed", zap.String("vin", vin), zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, vin, "internal error")
	}
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	OK         bool              `json:"ok"`
	Decoder    string            `json:"decoder"`
	Enrichment healthEnrichment  `json:"enrichment"`
	Store      string            `json:"store"`
	Breakers   map[string]string `json:"breakers"`
}

type healthEnrichment struct {
	Enabled  bool   `json:"enabled"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Health handles GET /health. It never calls the decoder.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		OK:       true,
		Decoder:  s.info.DecoderProvider,
		Store:    s.info.StoreDriver,
		Breakers: map[string]string{},
		Enrichment: healthEnrichment{
			Enabled: s.resolver.EnrichmentEnabled(),
		},
	}
	if resp.Enrichment.Enabled {
		resp.Enrichment.Provider = s.info.EnrichmentProvider
		resp.Enrichment.Model = s.info.EnrichmentModel
	}
	if s.breakers != nil {
		for name, state := range s.breakers.States() {
			resp.Breakers[name] = state.String()
			if name == resilience.BreakerDecoder && state == resilience.CircuitOpen {
				resp.OK = false
			}
		}
	}
	if resp.Store == "" {
		resp.Store = "none"
	}
	resp.Decoder = strings.ToLower(resp.Decoder)

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		s.logger.Warn("api: encode health", zap.Error(err))
	}
}
