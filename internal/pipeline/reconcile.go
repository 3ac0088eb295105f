package pipeline

import (
	"go.uber.org/zap"

	"github.com/sells-group/vin-resolver/internal/model"
)

// Reconciled is the merged record with per-field provenance.
type Reconciled struct {
	Record  model.VehicleRecord
	Sources map[model.Field]model.Source
	// Applied lists the patch fields that made it into Record.
	Applied []model.Field
}

// Reconcile merges the normalized draft, the classifier's judgment and an
// optional enrichment patch. Classifier output overwrites the draft; the
// patch only fills fields still null; guards are re-applied last so no
// patch can contradict a known door count or open-top keyword.
func Reconcile(draft model.VehicleRecord, cls *Classification, patch *Patch) Reconciled {
	sources := make(map[model.Field]model.Source)
	for _, f := range draft.Present() {
		sources[f] = model.SourceNormalizer
	}

	rec := draft.Clone()
	if cls != nil {
		rec = cls.Apply(draft)
		markClassified(sources, model.FieldBody, !ptrEqual(draft.Body, rec.Body), rec.Body != nil)
		markClassified(sources, model.FieldStyle, !ptrEqual(draft.Style, rec.Style), rec.Style != nil)
		markClassified(sources, model.FieldDrive, !ptrEqual(draft.Drive, rec.Drive), rec.Drive != nil)
		if rec.Cylinders == nil {
			delete(sources, model.FieldCylinders)
		}
	}

	var applied []model.Field
	if patch != nil {
		fill := func(f model.Field, set bool) {
			if set {
				sources[f] = model.SourceEnrichment
				applied = append(applied, f)
			}
		}
		fill(model.FieldBody, fillNil(&rec.Body, patch.Body))
		fill(model.FieldDrive, fillNil(&rec.Drive, patch.Drive))
		fill(model.FieldTransmission, fillNil(&rec.Transmission, patch.Transmission))
		fill(model.FieldFuel, fillNil(&rec.Fuel, patch.Fuel))
		fill(model.FieldCylinders, fillNil(&rec.Cylinders, patch.Cylinders))
		fill(model.FieldDisplacement, fillNil(&rec.Displacement, patch.Displacement))
		fill(model.FieldEngineHP, fillNil(&rec.EngineHP, patch.EngineHP))
		fill(model.FieldMSRP, fillNil(&rec.MSRP, patch.MSRP))
		fill(model.FieldSummary, fillNil(&rec.Summary, patch.Summary))
	}

	if cls != nil && rec.Cylinders == nil && cls.SuspectCylinders != nil {
		n := *cls.SuspectCylinders
		rec.Cylinders = &n
		sources[model.FieldCylinders] = model.SourceNormalizer
	}

	convertible := cls != nil && cls.ConvertibleKeyword
	guarded := ApplyBodyGuards(rec.Body, rec.Doors, convertible)
	if !ptrEqual(guarded, rec.Body) {
		zap.L().Debug("reconcile: guard overrode body",
			zap.String("vin", rec.VIN),
			zap.Stringp("from", (*string)(rec.Body)),
			zap.String("to", string(*guarded)),
		)
		rec.Body = guarded
		sources[model.FieldBody] = model.SourceClassifier
		applied = removeField(applied, model.FieldBody)
	}

	return Reconciled{Record: rec, Sources: sources, Applied: applied}
}

func markClassified(sources map[model.Field]model.Source, f model.Field, changed, present bool) {
	switch {
	case !present:
		delete(sources, f)
	case changed:
		sources[f] = model.SourceClassifier
	}
}

// fillNil sets *dst to a copy of *src when *dst is nil and src is not.
func fillNil[T any](dst **T, src *T) bool {
	if *dst != nil || src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func removeField(fields []model.Field, f model.Field) []model.Field {
	out := fields[:0]
	for _, x := range fields {
		if x != f {
			out = append(out, x)
		}
	}
	return out
}
