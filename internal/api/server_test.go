package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/pipeline"
	"github.com/sells-group/vin-resolver/internal/resilience"
)

const testVIN = "1HGCM82633A004352"

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, raw string, opts pipeline.Options) (*pipeline.Result, error) {
	args := m.Called(ctx, raw, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}

func (m *mockResolver) EnrichmentEnabled() bool {
	return m.Called().Bool(0)
}

type decoderFunc func(ctx context.Context, vin string) (map[string]any, error)

func (f decoderFunc) Decode(ctx context.Context, vin string) (map[string]any, error) {
	return f(ctx, vin)
}

func accordResult(cached bool) *pipeline.Result {
	return &pipeline.Result{
		Cached: cached,
		Resolution: &model.Resolution{
			ID: "res-1",
			Record: model.VehicleRecord{
				VIN:   testVIN,
				Year:  model.Ptr(2003),
				Make:  model.Ptr("HONDA"),
				Model: model.Ptr("Accord"),
				Body:  model.Ptr(model.BodySedan),
				Doors: model.Ptr(4),
			},
			Sources: map[model.Field]model.Source{
				model.FieldYear:  model.SourceNormalizer,
				model.FieldMake:  model.SourceNormalizer,
				model.FieldModel: model.SourceNormalizer,
				model.FieldBody:  model.SourceNormalizer,
				model.FieldDoors: model.SourceNormalizer,
			},
			Votes:      []model.BodyVote{{Signal: pipeline.SignalProvider, Body: model.BodySedan, Weight: 4}},
			ResolvedAt: time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC),
		},
	}
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestResolveVIN_GET(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, testVIN, pipeline.Options{}).Return(accordResult(false), nil)
	h := NewServer(res, nil, HealthInfo{}).Router()

	rec, body := do(t, h, http.MethodGet, "/api/vin?vin="+testVIN, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, true, body["ok"])

	data := body["data"].(map[string]any)
	assert.Equal(t, testVIN, data["vin"])
	assert.Equal(t, "Sedan", data["body"])
	assert.EqualValues(t, 2003, data["year"])

	meta := body["meta"].(map[string]any)
	assert.Equal(t, false, meta["cached"])
	assert.Equal(t, "res-1", meta["id"])
	assert.Equal(t, "normalizer", meta["sources"].(map[string]any)["body"])
	assert.Len(t, meta["votes"], 1)
	res.AssertExpectations(t)
}

func TestResolveVIN_GETFresh(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, testVIN, pipeline.Options{Fresh: true}).Return(accordResult(false), nil)
	h := NewServer(res, nil, HealthInfo{}).Router()

	rec, _ := do(t, h, http.MethodGet, "/api/vin?fresh=true&vin="+testVIN, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	res.AssertExpectations(t)
}

func TestResolveVIN_POST(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, " 1hgcm82633a004352 ", pipeline.Options{Fresh: true}).Return(accordResult(true), nil)
	h := NewServer(res, nil, HealthInfo{}).Router()

	rec, body := do(t, h, http.MethodPost, "/api/vin", `{"vin":" 1hgcm82633a004352 ","fresh":true}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["meta"].(map[string]any)["cached"])
	res.AssertExpectations(t)
}

func TestResolveVIN_POSTInvalidBody(t *testing.T) {
	res := &mockResolver{}
	h := NewServer(res, nil, HealthInfo{}).Router()

	rec, body := do(t, h, http.MethodPost, "/api/vin", `{"vin":`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "invalid request body", body["error"])
	res.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveVIN_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", &pipeline.ValidationError{VIN: "ABC", Reason: "VIN must be 17 characters"}, http.StatusBadRequest, "VIN must be 17 characters"},
		{"not found", &pipeline.NotFoundError{VIN: testVIN}, http.StatusNotFound, "no vehicle found for VIN"},
		{"upstream", &pipeline.UpstreamError{VIN: testVIN, StatusCode: 503, Err: errors.New("down")}, http.StatusBadGateway, "VIN provider error"},
		{"breaker open", &pipeline.UpstreamError{VIN: testVIN, Err: resilience.ErrCircuitOpen}, http.StatusBadGateway, "VIN provider temporarily unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &mockResolver{}
			res.On("Resolve", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)
			h := NewServer(res, nil, HealthInfo{}).Router()

			rec, body := do(t, h, http.MethodGet, "/api/vin?vin="+testVIN, "", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.wantError, body["error"])
			assert.Equal(t, testVIN, body["vin"])
		})
	}
}

func TestResolveVIN_Preflight(t *testing.T) {
	h := NewServer(&mockResolver{}, nil, HealthInfo{}).Router()

	rec, _ := do(t, h, http.MethodOptions, "/api/vin", "", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestResolveVIN_PlainOptions(t *testing.T) {
	h := NewServer(&mockResolver{}, nil, HealthInfo{}).Router()

	rec, _ := do(t, h, http.MethodOptions, "/api/vin", "", nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestResolveVIN_CORSOnResponse(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, testVIN, pipeline.Options{}).Return(accordResult(false), nil)
	h := NewServer(res, nil, HealthInfo{}).Router()

	rec, _ := do(t, h, http.MethodGet, "/api/vin?vin="+testVIN, "", map[string]string{"Origin": "https://app.example.com"})

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	h := NewServer(&mockResolver{}, nil, HealthInfo{}).Router()

	rec, body := do(t, h, http.MethodGet, "/api/score", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["ok"])

	rec, body = do(t, h, http.MethodDelete, "/api/vin", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", body["error"])
}

func TestHealth(t *testing.T) {
	res := &mockResolver{}
	res.On("EnrichmentEnabled").Return(true)
	reg := resilience.NewRegistry()
	reg.Register(resilience.DecoderBreakerConfig(5, 30))
	reg.Register(resilience.AssistantBreakerConfig(5, 30))

	h := NewServer(res, reg, HealthInfo{
		DecoderProvider:    "NHTSA",
		EnrichmentProvider: "openai",
		EnrichmentModel:    "gpt-4o-mini",
	}).Router()

	rec, body := do(t, h, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "nhtsa", body["decoder"])
	assert.Equal(t, "none", body["store"])
	assert.Equal(t, map[string]any{"enabled": true, "provider": "openai", "model": "gpt-4o-mini"}, body["enrichment"])
	assert.Equal(t, map[string]any{"decoder": "closed", "assistant": "closed"}, body["breakers"])
	res.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
}

func TestHealth_DecoderBreakerOpen(t *testing.T) {
	res := &mockResolver{}
	res.On("EnrichmentEnabled").Return(false)
	reg := resilience.NewRegistry()
	cb := reg.Register(resilience.FromCircuitConfig(resilience.BreakerDecoder, 1, 3600))
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	h := NewServer(res, reg, HealthInfo{DecoderProvider: "nhtsa", EnrichmentModel: "hidden"}).Router()
	_, body := do(t, h, http.MethodGet, "/health", "", nil)

	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "open", body["breakers"].(map[string]any)["decoder"])
	assert.Equal(t, map[string]any{"enabled": false}, body["enrichment"])
}

func TestServer_EndToEnd(t *testing.T) {
	var calls int
	dec := decoderFunc(func(_ context.Context, vin string) (map[string]any, error) {
		calls++
		return map[string]any{
			"Make":      "HONDA",
			"Model":     "Accord",
			"ModelYear": "2003",
			"Doors":     "4",
			"BodyClass": "Sedan/Saloon",
		}, nil
	})
	h := NewServer(pipeline.NewResolver(dec), nil, HealthInfo{}).Router()

	rec, body := do(t, h, http.MethodGet, "/api/vin?vin=1hgcm82633a004352", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sedan", body["data"].(map[string]any)["body"])
	assert.Equal(t, "2003 HONDA Accord", body["data"].(map[string]any)["title"])

	_, body = do(t, h, http.MethodPost, "/api/vin", `{"vin":"1HGCM82633A004352"}`, nil)
	assert.Equal(t, true, body["meta"].(map[string]any)["cached"])
	assert.Equal(t, 1, calls)

	rec, body = do(t, h, http.MethodGet, "/api/vin?vin=SHORT", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SHORT", body["vin"])
	assert.Equal(t, 1, calls)
}
