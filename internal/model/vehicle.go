package model

import (
	"strings"
	"time"
)

// ProviderRow is the raw field set returned by a decoder. Keys are
// provider-specific; values are strings or numbers. It is never mutated.
type ProviderRow map[string]any

// BodyStyle is the physical body category of a vehicle.
type BodyStyle string

const (
	BodySedan       BodyStyle = "Sedan"
	BodyCoupe       BodyStyle = "Coupe"
	BodyConvertible BodyStyle = "Convertible"
	BodyHatchback   BodyStyle = "Hatchback"
	BodyWagon       BodyStyle = "Wagon"
	BodySUV         BodyStyle = "SUV"
	BodyMinivan     BodyStyle = "Minivan"
	BodyVan         BodyStyle = "Van"
	BodyPickup      BodyStyle = "Pickup"
)

// BodyStyles lists every canonical body style.
var BodyStyles = []BodyStyle{
	BodySedan, BodyCoupe, BodyConvertible, BodyHatchback, BodyWagon,
	BodySUV, BodyMinivan, BodyVan, BodyPickup,
}

// ParseBodyStyle matches s case-insensitively against the canonical names.
func ParseBodyStyle(s string) (BodyStyle, bool) {
	s = strings.TrimSpace(s)
	for _, b := range BodyStyles {
		if strings.EqualFold(s, string(b)) {
			return b, true
		}
	}
	return "", false
}

// DriveType is the canonical drivetrain code.
type DriveType string

const (
	DriveFWD DriveType = "FWD"
	DriveRWD DriveType = "RWD"
	DriveAWD DriveType = "AWD"
	Drive4WD DriveType = "4WD"
)

// DriveTypes lists every canonical drive code.
var DriveTypes = []DriveType{DriveFWD, DriveRWD, DriveAWD, Drive4WD}

// ParseDriveType matches an already-coded drive token, case-insensitively.
func ParseDriveType(s string) (DriveType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, d := range DriveTypes {
		if s == string(d) {
			return d, true
		}
	}
	return "", false
}

// Field names a VehicleRecord attribute. Values match the JSON keys.
type Field string

const (
	FieldYear         Field = "year"
	FieldMake         Field = "make"
	FieldModel        Field = "model"
	FieldTrim         Field = "trim"
	FieldTitle        Field = "title"
	FieldBody         Field = "body"
	FieldStyle        Field = "style"
	FieldDoors        Field = "doors"
	FieldDrive        Field = "drive"
	FieldTransmission Field = "transmission"
	FieldFuel         Field = "fuel"
	FieldCylinders    Field = "cylinders"
	FieldDisplacement Field = "displacement"
	FieldEngineHP     Field = "engineHp"
	FieldMSRP         Field = "msrp"
	FieldManufacturer Field = "manufacturer"
	FieldPlantCountry Field = "plantCountry"
	FieldSummary      Field = "summary"
)

// RecordFields lists every nullable record field in output order.
var RecordFields = []Field{
	FieldYear, FieldMake, FieldModel, FieldTrim, FieldTitle,
	FieldBody, FieldStyle, FieldDoors, FieldDrive, FieldTransmission,
	FieldFuel, FieldCylinders, FieldDisplacement, FieldEngineHP, FieldMSRP,
	FieldManufacturer, FieldPlantCountry, FieldSummary,
}

// VehicleRecord is the canonical, user-facing vehicle attribute record.
// A nil pointer means the attribute is unknown.
type VehicleRecord struct {
	VIN          string     `json:"vin"`
	Year         *int       `json:"year"`
	Make         *string    `json:"make"`
	Model        *string    `json:"model"`
	Trim         *string    `json:"trim"`
	Title        *string    `json:"title"`
	Body         *BodyStyle `json:"body"`
	Style        *string    `json:"style"`
	Doors        *int       `json:"doors"`
	Drive        *DriveType `json:"drive"`
	Transmission *string    `json:"transmission"`
	Fuel         *string    `json:"fuel"`
	Cylinders    *int       `json:"cylinders"`
	Displacement *float64   `json:"displacement"`
	EngineHP     *float64   `json:"engineHp"`
	MSRP         *float64   `json:"msrp"`
	Manufacturer *string    `json:"manufacturer"`
	PlantCountry *string    `json:"plantCountry"`
	Summary      *string    `json:"summary"`
}

// Has reports whether field f is non-null.
func (r *VehicleRecord) Has(f Field) bool {
	switch f {
	case FieldYear:
		return r.Year != nil
	case FieldMake:
		return r.Make != nil
	case FieldModel:
		return r.Model != nil
	case FieldTrim:
		return r.Trim != nil
	case FieldTitle:
		return r.Title != nil
	case FieldBody:
		return r.Body != nil
	case FieldStyle:
		return r.Style != nil
	case FieldDoors:
		return r.Doors != nil
	case FieldDrive:
		return r.Drive != nil
	case FieldTransmission:
		return r.Transmission != nil
	case FieldFuel:
		return r.Fuel != nil
	case FieldCylinders:
		return r.Cylinders != nil
	case FieldDisplacement:
		return r.Displacement != nil
	case FieldEngineHP:
		return r.EngineHP != nil
	case FieldMSRP:
		return r.MSRP != nil
	case FieldManufacturer:
		return r.Manufacturer != nil
	case FieldPlantCountry:
		return r.PlantCountry != nil
	case FieldSummary:
		return r.Summary != nil
	default:
		return false
	}
}

// Present returns the non-null fields in RecordFields order.
func (r *VehicleRecord) Present() []Field {
	var out []Field
	for _, f := range RecordFields {
		if r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep copy so callers cannot mutate shared records.
func (r VehicleRecord) Clone() VehicleRecord {
	out := r
	out.Year = clonePtr(r.Year)
	out.Make = clonePtr(r.Make)
	out.Model = clonePtr(r.Model)
	out.Trim = clonePtr(r.Trim)
	out.Title = clonePtr(r.Title)
	out.Body = clonePtr(r.Body)
	out.Style = clonePtr(r.Style)
	out.Doors = clonePtr(r.Doors)
	out.Drive = clonePtr(r.Drive)
	out.Transmission = clonePtr(r.Transmission)
	out.Fuel = clonePtr(r.Fuel)
	out.Cylinders = clonePtr(r.Cylinders)
	out.Displacement = clonePtr(r.Displacement)
	out.EngineHP = clonePtr(r.EngineHP)
	out.MSRP = clonePtr(r.MSRP)
	out.Manufacturer = clonePtr(r.Manufacturer)
	out.PlantCountry = clonePtr(r.PlantCountry)
	out.Summary = clonePtr(r.Summary)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Source identifies which pipeline stage supplied a field value.
type Source string

const (
	SourceNormalizer Source = "normalizer"
	SourceClassifier Source = "classifier"
	SourceEnrichment Source = "enrichment"
)

// BodyVote is one weighted signal cast during body classification.
type BodyVote struct {
	Signal string    `json:"signal"`
	Body   BodyStyle `json:"body"`
	Weight int       `json:"weight"`
}

// EnrichmentMeta describes what the enrichment step did for a resolution.
type EnrichmentMeta struct {
	Enabled   bool    `json:"enabled"`
	Attempted bool    `json:"attempted"`
	Succeeded bool    `json:"succeeded"`
	Fields    []Field `json:"fields,omitempty"`
}

// Resolution is a fully reconciled record with its audit metadata.
type Resolution struct {
	ID         string           `json:"id,omitempty"`
	Record     VehicleRecord    `json:"record"`
	Sources    map[Field]Source `json:"sources"`
	Votes      []BodyVote       `json:"votes,omitempty"`
	Enrichment EnrichmentMeta   `json:"enrichment"`
	ResolvedAt time.Time        `json:"resolvedAt"`
}

// Clone returns a deep copy of the resolution.
func (r *Resolution) Clone() *Resolution {
	if r == nil {
		return nil
	}
	out := *r
	out.Record = r.Record.Clone()
	if r.Sources != nil {
		out.Sources = make(map[Field]Source, len(r.Sources))
		for k, v := range r.Sources {
			out.Sources[k] = v
		}
	}
	if r.Votes != nil {
		out.Votes = append([]BodyVote(nil), r.Votes...)
	}
	if r.Enrichment.Fields != nil {
		out.Enrichment.Fields = append([]Field(nil), r.Enrichment.Fields...)
	}
	return &out
}
