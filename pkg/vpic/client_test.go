package vpic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FirstRow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vehicles/DecodeVinValuesExtended/1HGCM82633A004352", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"Count":          1,
			"Message":        "Results returned successfully",
			"SearchCriteria": "VIN:1HGCM82633A004352",
			"Results": []map[string]any{
				{"Make": "HONDA", "Model": "Accord", "ModelYear": "2003", "BodyClass": "Sedan/Saloon", "Doors": "4"},
			},
		})
	}))
	defer ts.Close()

	c := NewClient(WithBaseURL(ts.URL+"/"), WithUserAgent("test-agent"))
	row, err := c.Decode(context.Background(), "1HGCM82633A004352")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "HONDA", row["Make"])
	assert.Equal(t, "Sedan/Saloon", row["BodyClass"])
}

func TestDecode_NoRows(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Count":0,"Results":[]}`))
	}))
	defer ts.Close()

	row, err := NewClient(WithBaseURL(ts.URL)).Decode(context.Background(), "1HGCM82633A004352")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestDecode_NumbersPreserved(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Results":[{"Doors":2,"EngineHP":"300"}]}`))
	}))
	defer ts.Close()

	row, err := NewClient(WithBaseURL(ts.URL)).Decode(context.Background(), "1HGCM82633A004352")
	require.NoError(t, err)
	assert.Equal(t, json.Number("2"), row["Doors"])
}

func TestDecode_StatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer ts.Close()

	_, err := NewClient(WithBaseURL(ts.URL)).Decode(context.Background(), "1HGCM82633A004352")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.HTTPStatus())
	assert.Contains(t, err.Error(), "vpic: unexpected status 503: maintenance")
}

func TestDecode_MalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer ts.Close()

	_, err := NewClient(WithBaseURL(ts.URL)).Decode(context.Background(), "1HGCM82633A004352")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vpic: decode response")
}

func TestDecode_ContextTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(WithBaseURL(ts.URL)).Decode(ctx, "1HGCM82633A004352")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecode_RateLimitWaitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"Results":[{"Make":"FORD"}]}`))
	}))
	defer ts.Close()

	c := NewClient(WithBaseURL(ts.URL), WithRateLimit(0.001, 1))
	_, err := c.Decode(context.Background(), "1FTFW1ET5DFC10312")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Decode(ctx, "1FTFW1ET5DFC10312")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vpic: rate limit wait")
	assert.Equal(t, int32(1), calls.Load())
}
