package pipeline

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/vin-resolver/internal/model"
)

// fieldAliases lists, per canonical field, the provider keys that may carry
// it, in priority order. Keys are compared after foldKey, so "Body Class",
// "BodyClass" and "body_class" are the same key.
var fieldAliases = map[model.Field][]string{
	model.FieldYear:         {"ModelYear", "year"},
	model.FieldMake:         {"Make", "make_name"},
	model.FieldModel:        {"Model", "model_name"},
	model.FieldTrim:         {"Trim", "Series", "trim_level"},
	model.FieldBody:         {"BodyClass", "body", "body_style", "body_type"},
	model.FieldStyle:        {"Style"},
	model.FieldDoors:        {"Doors", "door_count", "number_of_doors"},
	model.FieldDrive:        {"DriveType", "DriveTypePrimary", "drive", "drivetrain", "drive_train"},
	model.FieldTransmission: {"TransmissionStyle", "TransmissionDescriptor", "transmission"},
	model.FieldFuel:         {"FuelTypePrimary", "fuel_type", "fuel"},
	model.FieldCylinders:    {"EngineCylinders", "cylinders"},
	model.FieldDisplacement: {"DisplacementL", "displacement", "engine_size"},
	model.FieldEngineHP:     {"EngineHP", "horsepower", "hp"},
	model.FieldMSRP:         {"msrp", "BasePrice", "price"},
	model.FieldManufacturer: {"ManufacturerName", "manufacturer"},
	model.FieldPlantCountry: {"PlantCountry"},
}

// placeholderValues are decoder fillers that carry no information.
var placeholderValues = map[string]bool{
	"not applicable": true,
	"n/a":            true,
	"null":           true,
}

// Normalize maps a raw provider row into a draft record. It never fails:
// every field is nil when absent or unparseable. When the provider reports
// no model year it is decoded from the VIN relative to currentYear.
func Normalize(row model.ProviderRow, vin string, currentYear int) model.VehicleRecord {
	idx := indexRow(row)

	rec := model.VehicleRecord{
		VIN:          vin,
		Year:         idx.positiveInt(model.FieldYear),
		Make:         idx.text(model.FieldMake),
		Model:        idx.text(model.FieldModel),
		Trim:         idx.text(model.FieldTrim),
		Style:        idx.text(model.FieldStyle),
		Doors:        idx.positiveInt(model.FieldDoors),
		Transmission: idx.text(model.FieldTransmission),
		Fuel:         idx.text(model.FieldFuel),
		Cylinders:    idx.positiveInt(model.FieldCylinders),
		Displacement: idx.positiveFloat(model.FieldDisplacement),
		EngineHP:     idx.positiveFloat(model.FieldEngineHP),
		MSRP:         idx.positiveFloat(model.FieldMSRP),
		Manufacturer: idx.text(model.FieldManufacturer),
		PlantCountry: idx.text(model.FieldPlantCountry),
	}

	if rec.Year == nil {
		if y, ok := model.DecodeModelYear(vin, currentYear); ok {
			rec.Year = &y
		}
	}
	if s := idx.text(model.FieldBody); s != nil {
		rec.Body = NormalizeBody(*s)
	}
	if s := idx.text(model.FieldDrive); s != nil {
		rec.Drive = NormalizeDrive(*s)
	}
	rec.Title = buildTitle(rec)

	return rec
}

// bodyClassRules maps verbose body-class strings to the canonical enum.
// Order matters: most specific first, so "minivan" is seen before "van".
var bodyClassRules = []struct {
	body     model.BodyStyle
	keywords []string
}{
	{model.BodyHatchback, []string{"hatchback", "liftback"}},
	{model.BodyCoupe, []string{"coupe"}},
	{model.BodyConvertible, []string{"convertible", "cabriolet", "cabrio", "roadster", "spyder", "spider"}},
	{model.BodyWagon, []string{"wagon", "estate"}},
	{model.BodyPickup, []string{"pickup", "pick-up"}},
	{model.BodyMinivan, []string{"minivan", "mini-van"}},
	{model.BodyVan, []string{"van"}},
	{model.BodySUV, []string{"sport utility", "suv", "crossover", "cuv", "multi-purpose", "mpv"}},
	{model.BodySedan, []string{"sedan", "saloon"}},
}

// NormalizeBody maps a provider body-class string to a canonical body style.
// Unmatched strings yield nil rather than a guess.
func NormalizeBody(s string) *model.BodyStyle {
	lower := strings.ToLower(strings.TrimSpace(s))
	if lower == "" {
		return nil
	}
	for _, rule := range bodyClassRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				b := rule.body
				return &b
			}
		}
	}
	return nil
}

// NormalizeDrive maps a provider drive string to a canonical drive code.
// Already-coded tokens pass through uppercased.
func NormalizeDrive(s string) *model.DriveType {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if d, ok := model.ParseDriveType(s); ok {
		return &d
	}

	words := tokenize(s)
	var d model.DriveType
	switch {
	case words["rear"]:
		d = model.DriveRWD
	case words["front"]:
		d = model.DriveFWD
	case words["all"] || words["awd"]:
		d = model.DriveAWD
	case words["4wd"] || words["4x4"] || hasPhrase(s, "four-wheel", "four wheel", "4-wheel"):
		d = model.Drive4WD
	default:
		return nil
	}
	return &d
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

func hasPhrase(s string, phrases ...string) bool {
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func buildTitle(rec model.VehicleRecord) *string {
	var parts []string
	if rec.Year != nil {
		parts = append(parts, strconv.Itoa(*rec.Year))
	}
	for _, p := range []*string{rec.Make, rec.Model, rec.Trim} {
		if p != nil {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	title := strings.Join(parts, " ")
	return &title
}

// rowIndex resolves canonical fields against a provider row.
type rowIndex struct {
	raw    model.ProviderRow
	folded map[string]any
}

// indexRow folds the row's keys. When several raw keys fold together the
// first non-blank one in sorted key order wins, so the outcome does not
// depend on map iteration.
func indexRow(row model.ProviderRow) rowIndex {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	folded := make(map[string]any, len(row))
	for _, k := range keys {
		fk := foldKey(k)
		if existing, ok := folded[fk]; ok && cleanText(existing) != nil {
			continue
		}
		folded[fk] = row[k]
	}
	return rowIndex{raw: row, folded: folded}
}

// foldKey lowercases k and drops everything but letters and digits.
func foldKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// lookup returns the first alias value that is not blank.
// An exact key match beats a folded one.
func (idx rowIndex) lookup(f model.Field) any {
	for _, alias := range fieldAliases[f] {
		if v, ok := idx.raw[alias]; ok && cleanText(v) != nil {
			return v
		}
		if v, ok := idx.folded[foldKey(alias)]; ok && cleanText(v) != nil {
			return v
		}
	}
	return nil
}

func (idx rowIndex) text(f model.Field) *string {
	return cleanText(idx.lookup(f))
}

func (idx rowIndex) positiveFloat(f model.Field) *float64 {
	n := parseNumber(idx.lookup(f))
	if n == nil || *n <= 0 {
		return nil
	}
	return n
}

func (idx rowIndex) positiveInt(f model.Field) *int {
	n := idx.positiveFloat(f)
	if n == nil || *n != math.Trunc(*n) || *n > math.MaxInt32 {
		return nil
	}
	i := int(*n)
	return &i
}

// cleanText renders v as trimmed, NFKC-normalized text with inner whitespace
// collapsed. Blank strings and decoder placeholders become nil.
func cleanText(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return nil
	}

	s = strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
	if s == "" || placeholderValues[strings.ToLower(s)] {
		return nil
	}
	return &s
}

// parseNumber coerces v to a finite float. Strings may carry currency
// symbols and thousands separators.
func parseNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := cleanText(t)
		if s == nil {
			return nil
		}
		raw := strings.NewReplacer("$", "", ",", "", " ", "").Replace(*s)
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
