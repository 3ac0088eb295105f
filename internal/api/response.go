package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sells-group/vin-resolver/internal/model"
)

// envelope is the body of every /api response.
type envelope struct {
	OK    bool                 `json:"ok"`
	Data  *model.VehicleRecord `json:"data,omitempty"`
	Meta  *resolutionMeta      `json:"meta,omitempty"`
	Error string               `json:"error,omitempty"`
	VIN   string               `json:"vin,omitempty"`
}

// resolutionMeta carries the audit trail of a resolution.
type resolutionMeta struct {
	ID         string                       `json:"id,omitempty"`
	Cached     bool                         `json:"cached"`
	ResolvedAt time.Time                    `json:"resolvedAt"`
	Enrichment model.EnrichmentMeta         `json:"enrichment"`
	Sources    map[model.Field]model.Source `json:"sources"`
	Votes      []model.BodyVote             `json:"votes"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a failed envelope.
func ErrorResponse(w http.ResponseWriter, statusCode int, vin, message string) error {
	return WriteJSON(w, statusCode, envelope{OK: false, Error: message, VIN: vin})
}
