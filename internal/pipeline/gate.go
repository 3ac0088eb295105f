package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vin-resolver/internal/assistant"
	"github.com/sells-group/vin-resolver/internal/model"
	"github.com/sells-group/vin-resolver/internal/resilience"
)

// requiredFields are the attributes whose absence after classification
// makes a record eligible for enrichment.
var requiredFields = []model.Field{
	model.FieldBody,
	model.FieldDrive,
	model.FieldTransmission,
	model.FieldFuel,
	model.FieldCylinders,
	model.FieldDisplacement,
	model.FieldEngineHP,
	model.FieldMSRP,
}

// factFields are the resolved attributes shown to the assistant.
var factFields = []model.Field{
	model.FieldYear, model.FieldMake, model.FieldModel, model.FieldTrim,
	model.FieldBody, model.FieldDoors, model.FieldDrive, model.FieldTransmission,
	model.FieldFuel, model.FieldCylinders, model.FieldDisplacement,
	model.FieldEngineHP, model.FieldMSRP,
}

// GateConfig controls the enrichment step.
type GateConfig struct {
	Enabled     bool
	Summary     bool
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Gate decides whether a record needs enrichment and, if so, asks the
// assistant for a patch. It never returns an error: every failure
// degrades to "no patch".
type Gate struct {
	cfg       GateConfig
	assistant assistant.Assistant
	breaker   *resilience.CircuitBreaker
}

// NewGate creates a Gate. A nil assistant disables enrichment; a nil
// breaker calls the assistant unguarded.
func NewGate(cfg GateConfig, a assistant.Assistant, breaker *resilience.CircuitBreaker) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &Gate{cfg: cfg, assistant: a, breaker: breaker}
}

// Enabled reports whether the gate can call an assistant at all.
func (g *Gate) Enabled() bool {
	return g != nil && g.cfg.Enabled && g.assistant != nil
}

// SummaryEnabled reports whether summary is requested and accepted.
func (g *Gate) SummaryEnabled() bool {
	return g != nil && g.cfg.Summary
}

// Required returns the field set that triggers enrichment.
func (g *Gate) Required() []model.Field {
	out := append([]model.Field(nil), requiredFields...)
	if g.SummaryEnabled() {
		out = append(out, model.FieldSummary)
	}
	return out
}

// Missing returns the required fields still null in rec.
func (g *Gate) Missing(rec model.VehicleRecord) []model.Field {
	var out []model.Field
	for _, f := range g.Required() {
		if !rec.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Enrich asks the assistant to fill the missing fields of rec. withheld
// lists fields the classifier cleared as suspect: they are requested
// alongside the missing ones but never trigger a call on their own.
func (g *Gate) Enrich(ctx context.Context, rec model.VehicleRecord, withheld []model.Field) (*Patch, model.EnrichmentMeta) {
	meta := model.EnrichmentMeta{Enabled: g.Enabled()}
	if !meta.Enabled {
		return nil, meta
	}

	log := zap.L().With(zap.String("vin", rec.VIN))

	wanted := g.Missing(rec)
	trigger := 0
	for _, f := range wanted {
		if !containsField(withheld, f) {
			trigger++
		}
	}
	if trigger == 0 {
		log.Debug("enrich: nothing missing, skipped")
		return nil, meta
	}

	req := assistant.Request{
		System:      g.systemPrompt(),
		Prompt:      g.userPrompt(rec, withheld, wanted),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	// The caller may already be gone; the call still runs to completion
	// so its result can be cached.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.Timeout)
	defer cancel()

	call := func(ctx context.Context) (*assistant.Response, error) {
		return g.assistant.Complete(ctx, req)
	}

	var (
		resp *assistant.Response
		err  error
	)
	if g.breaker != nil {
		resp, err = resilience.ExecuteVal(callCtx, g.breaker, call)
	} else {
		resp, err = call(callCtx)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		log.Info("enrich: assistant circuit open, skipped")
		return nil, meta
	}

	meta.Attempted = true
	if err != nil {
		log.Warn("enrich: assistant call failed",
			zap.String("assistant", g.assistant.Name()),
			zap.Error(err),
		)
		return nil, meta
	}

	patch, err := ParsePatch(resp.Text, g.cfg.Summary)
	if err != nil {
		log.Warn("enrich: rejected assistant response",
			zap.String("assistant", g.assistant.Name()),
			zap.Error(err),
		)
		return nil, meta
	}

	meta.Succeeded = true
	log.Info("enrich: patch accepted",
		zap.String("assistant", g.assistant.Name()),
		zap.Int("fields", len(patch.Fields())),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return patch, meta
}

func (g *Gate) allowedKeys() []string {
	keys := make([]string, 0, len(requiredFields)+1)
	for _, f := range requiredFields {
		keys = append(keys, string(f))
	}
	if g.cfg.Summary {
		keys = append(keys, string(model.FieldSummary))
	}
	return keys
}

func (g *Gate) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You complete vehicle specifications from known facts.\n")
	b.WriteString("Reply with exactly one JSON object and no other text.\n")
	fmt.Fprintf(&b, "Allowed keys: %s.\n", strings.Join(g.allowedKeys(), ", "))
	b.WriteString("body must be one of Sedan, Coupe, Convertible, Hatchback, Wagon, SUV, Minivan, Van, Pickup.\n")
	b.WriteString("drive must be one of FWD, RWD, AWD, 4WD.\n")
	b.WriteString("cylinders is an integer, displacement is litres, engineHp is horsepower, msrp is US dollars.\n")
	if g.cfg.Summary {
		b.WriteString("summary is at most two plain sentences.\n")
	}
	b.WriteString("Never contradict the given facts. Omit any key you cannot infer with confidence.")
	return b.String()
}

func (g *Gate) userPrompt(rec model.VehicleRecord, withheld, wanted []model.Field) string {
	facts := make(map[string]any)
	for _, f := range factFields {
		if containsField(withheld, f) {
			continue
		}
		if v, ok := fieldValue(rec, f); ok {
			facts[string(f)] = v
		}
	}
	data, _ := json.Marshal(facts)

	names := make([]string, len(wanted))
	for i, f := range wanted {
		names[i] = string(f)
	}
	return fmt.Sprintf("VIN: %s\nKnown facts: %s\nFill these fields if you can: %s",
		rec.VIN, data, strings.Join(names, ", "))
}

func fieldValue(rec model.VehicleRecord, f model.Field) (any, bool) {
	switch f {
	case model.FieldYear:
		return deref(rec.Year)
	case model.FieldMake:
		return deref(rec.Make)
	case model.FieldModel:
		return deref(rec.Model)
	case model.FieldTrim:
		return deref(rec.Trim)
	case model.FieldBody:
		return deref(rec.Body)
	case model.FieldDoors:
		return deref(rec.Doors)
	case model.FieldDrive:
		return deref(rec.Drive)
	case model.FieldTransmission:
		return deref(rec.Transmission)
	case model.FieldFuel:
		return deref(rec.Fuel)
	case model.FieldCylinders:
		return deref(rec.Cylinders)
	case model.FieldDisplacement:
		return deref(rec.Displacement)
	case model.FieldEngineHP:
		return deref(rec.EngineHP)
	case model.FieldMSRP:
		return deref(rec.MSRP)
	}
	return nil, false
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func containsField(fields []model.Field, f model.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}

// Patch is a validated, allow-listed set of assistant-proposed values.
// Nil members were not proposed.
type Patch struct {
	Body         *model.BodyStyle
	Drive        *model.DriveType
	Transmission *string
	Fuel         *string
	Cylinders    *int
	Displacement *float64
	EngineHP     *float64
	MSRP         *float64
	Summary      *string
}

// Fields returns the proposed fields in record order.
func (p *Patch) Fields() []model.Field {
	if p == nil {
		return nil
	}
	var out []model.Field
	add := func(set bool, f model.Field) {
		if set {
			out = append(out, f)
		}
	}
	add(p.Body != nil, model.FieldBody)
	add(p.Drive != nil, model.FieldDrive)
	add(p.Transmission != nil, model.FieldTransmission)
	add(p.Fuel != nil, model.FieldFuel)
	add(p.Cylinders != nil, model.FieldCylinders)
	add(p.Displacement != nil, model.FieldDisplacement)
	add(p.EngineHP != nil, model.FieldEngineHP)
	add(p.MSRP != nil, model.FieldMSRP)
	add(p.Summary != nil, model.FieldSummary)
	return out
}

// ParsePatch strictly parses an assistant reply. The reply must be one
// JSON object, optionally inside a markdown code fence, with nothing else
// around it. Keys outside the allow-list are dropped, as is summary when
// allowSummary is false; null values count as omitted. Any allowed key
// with an invalid value rejects the whole patch.
func ParsePatch(text string, allowSummary bool) (*Patch, error) {
	body := stripFence(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "{") {
		return nil, eris.New("enrich: response is not a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "enrich: decode response")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, eris.New("enrich: trailing data after JSON object")
	}

	p := &Patch{}
	for key, v := range raw {
		if v == nil {
			continue
		}
		var err error
		switch model.Field(key) {
		case model.FieldBody:
			p.Body, err = patchBody(v)
		case model.FieldDrive:
			p.Drive, err = patchDrive(v)
		case model.FieldTransmission:
			p.Transmission, err = patchText(key, v)
		case model.FieldFuel:
			p.Fuel, err = patchText(key, v)
		case model.FieldCylinders:
			p.Cylinders, err = patchCylinders(v)
		case model.FieldDisplacement:
			p.Displacement, err = patchRange(key, v, 0, 10)
		case model.FieldEngineHP:
			p.EngineHP, err = patchRange(key, v, 0, 2000)
		case model.FieldMSRP:
			p.MSRP, err = patchRange(key, v, 0, math.MaxFloat64)
		case model.FieldSummary:
			if allowSummary {
				p.Summary, err = patchText(key, v)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 || !strings.HasSuffix(s, "```") {
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(s[nl+1:], "```"))
}

func patchBody(v any) (*model.BodyStyle, error) {
	s, ok := v.(string)
	if !ok {
		return nil, eris.Errorf("enrich: body is not a string: %v", v)
	}
	b, ok := model.ParseBodyStyle(s)
	if !ok {
		return nil, eris.Errorf("enrich: unknown body %q", s)
	}
	return &b, nil
}

func patchDrive(v any) (*model.DriveType, error) {
	s, ok := v.(string)
	if !ok {
		return nil, eris.Errorf("enrich: drive is not a string: %v", v)
	}
	d, ok := model.ParseDriveType(s)
	if !ok {
		return nil, eris.Errorf("enrich: unknown drive %q", s)
	}
	return &d, nil
}

func patchText(key string, v any) (*string, error) {
	s, ok := v.(string)
	if !ok {
		return nil, eris.Errorf("enrich: %s is not a string: %v", key, v)
	}
	out := cleanText(s)
	if out == nil {
		return nil, eris.Errorf("enrich: %s is empty", key)
	}
	return out, nil
}

func patchCylinders(v any) (*int, error) {
	f := parseNumber(v)
	if f == nil || *f != math.Trunc(*f) || *f < 1 || *f > 16 {
		return nil, eris.Errorf("enrich: invalid cylinders %v", v)
	}
	n := int(*f)
	return &n, nil
}

// patchRange accepts a number in (lo, hi].
func patchRange(key string, v any, lo, hi float64) (*float64, error) {
	f := parseNumber(v)
	if f == nil || *f <= lo || *f > hi {
		return nil, eris.Errorf("enrich: invalid %s %v", key, v)
	}
	return f, nil
}
