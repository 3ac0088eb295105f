package pipeline

import (
	_ "embed"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/vin-resolver/internal/model"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ruleFile is the on-disk shape of the classification tables.
type ruleFile struct {
	ConvertibleKeywords []string `yaml:"convertible_keywords"`
	BodyKeywords        []struct {
		Body     string   `yaml:"body"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"body_keywords"`
	KnownModels []struct {
		Make  string `yaml:"make"`
		Model string `yaml:"model"`
		Body  string `yaml:"body"`
		Style string `yaml:"style"`
	} `yaml:"known_models"`
	AWDBadges     []string `yaml:"awd_badges"`
	RWDCoupeMakes []string `yaml:"rwd_coupe_makes"`
}

type keywordRule struct {
	body     model.BodyStyle
	patterns []*regexp.Regexp
}

type knownModel struct {
	make  *regexp.Regexp
	model *regexp.Regexp
	body  model.BodyStyle
	style string
}

// Rules are the compiled classification tables.
type Rules struct {
	convertible   *regexp.Regexp
	keywords      []keywordRule
	knownModels   []knownModel
	awdBadges     []string
	rwdCoupeMakes map[string]bool
}

// ParseRules compiles a YAML rule file. Every pattern is matched
// case-insensitively.
func ParseRules(data []byte) (*Rules, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}
	if len(f.ConvertibleKeywords) == 0 {
		return nil, eris.New("classify: rules have no convertible keywords")
	}

	quoted := make([]string, len(f.ConvertibleKeywords))
	for i, kw := range f.ConvertibleKeywords {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(kw))
	}
	r := &Rules{
		convertible:   regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		rwdCoupeMakes: make(map[string]bool, len(f.RWDCoupeMakes)),
	}

	for _, kw := range f.BodyKeywords {
		body, ok := model.ParseBodyStyle(kw.Body)
		if !ok {
			return nil, eris.Errorf("classify: unknown body %q in body_keywords", kw.Body)
		}
		rule := keywordRule{body: body}
		for _, p := range kw.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, eris.Wrapf(err, "classify: compile keyword pattern %q", p)
			}
			rule.patterns = append(rule.patterns, re)
		}
		r.keywords = append(r.keywords, rule)
	}

	for _, km := range f.KnownModels {
		body, ok := model.ParseBodyStyle(km.Body)
		if !ok {
			return nil, eris.Errorf("classify: unknown body %q in known_models", km.Body)
		}
		makeRe, err := regexp.Compile("(?i)" + km.Make)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: compile make pattern %q", km.Make)
		}
		modelRe, err := regexp.Compile("(?i)" + km.Model)
		if err != nil {
			return nil, eris.Wrapf(err, "classify: compile model pattern %q", km.Model)
		}
		r.knownModels = append(r.knownModels, knownModel{make: makeRe, model: modelRe, body: body, style: km.Style})
	}

	for _, b := range f.AWDBadges {
		r.awdBadges = append(r.awdBadges, strings.ToLower(b))
	}
	for _, m := range f.RWDCoupeMakes {
		r.rwdCoupeMakes[strings.ToUpper(m)] = true
	}
	return r, nil
}

var defaultRules = sync.OnceValue(func() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(err)
	}
	return r
})

// DefaultRules returns the built-in classification tables.
func DefaultRules() *Rules {
	return defaultRules()
}

// Body signal names, as recorded in votes.
const (
	SignalProvider    = "provider"
	SignalConvertible = "convertible_keyword"
	SignalDoorCount   = "door_count"
	SignalKeyword     = "keyword"
	SignalKnownModel  = "known_model"
)

// bodySignal is one weighted voter. Its position in bodySignals is its
// tie-break rank: on equal scores the body first voted for by the
// lower-ranked signal wins.
type bodySignal struct {
	name   string
	weight int
	eval   func(in *signalInput) (model.BodyStyle, bool)
}

var bodySignals = []bodySignal{
	{SignalProvider, 3, func(in *signalInput) (model.BodyStyle, bool) {
		if in.draft.Body == nil {
			return "", false
		}
		return *in.draft.Body, true
	}},
	{SignalConvertible, 3, func(in *signalInput) (model.BodyStyle, bool) {
		return model.BodyConvertible, in.convertible
	}},
	{SignalDoorCount, 3, func(in *signalInput) (model.BodyStyle, bool) {
		return model.BodyCoupe, in.twoDoor() && !in.convertible
	}},
	{SignalKeyword, 2, func(in *signalInput) (model.BodyStyle, bool) {
		for _, rule := range in.rules.keywords {
			for _, re := range rule.patterns {
				if re.MatchString(in.modelText) {
					return rule.body, true
				}
			}
		}
		return "", false
	}},
	{SignalKnownModel, 3, func(in *signalInput) (model.BodyStyle, bool) {
		if in.known == nil {
			return "", false
		}
		return in.known.body, true
	}},
}

// BodySignals returns the signal names in evaluation (tie-break) order.
func BodySignals() []string {
	names := make([]string, len(bodySignals))
	for i, s := range bodySignals {
		names[i] = s.name
	}
	return names
}

// signalInput is the precomputed view of a draft the signals evaluate.
type signalInput struct {
	rules       *Rules
	draft       model.VehicleRecord
	fullText    string // make model trim
	modelText   string // model trim
	convertible bool
	known       *knownModel
}

func (in *signalInput) twoDoor() bool {
	return in.draft.Doors != nil && *in.draft.Doors == 2
}

func joinPresent(parts ...*string) string {
	var out []string
	for _, p := range parts {
		if p != nil {
			out = append(out, *p)
		}
	}
	return strings.Join(out, " ")
}

// Classification is the classifier's judgment over a normalized draft.
type Classification struct {
	Body  *model.BodyStyle
	Style *string
	Drive *model.DriveType
	// Cylinders is the provider count, or nil when it was judged suspect.
	Cylinders *int
	// SuspectCylinders holds a provider count withheld so a later patch
	// may replace it. It is restored when no patch value is accepted.
	SuspectCylinders   *int
	ConvertibleKeyword bool
	DoorCount          *int
	Votes              []model.BodyVote
}

// Withheld lists draft fields the classifier cleared pending enrichment.
func (c *Classification) Withheld() []model.Field {
	if c.SuspectCylinders != nil {
		return []model.Field{model.FieldCylinders}
	}
	return nil
}

// Apply overlays the classifier's body, style, drive and cylinder judgment
// onto a copy of draft.
func (c *Classification) Apply(draft model.VehicleRecord) model.VehicleRecord {
	rec := draft.Clone()
	if c.Body != nil {
		b := *c.Body
		rec.Body = &b
	}
	if c.Style != nil {
		s := *c.Style
		rec.Style = &s
	}
	if c.Drive != nil {
		d := *c.Drive
		rec.Drive = &d
	}
	rec.Cylinders = nil
	if c.Cylinders != nil {
		n := *c.Cylinders
		rec.Cylinders = &n
	}
	return rec
}

// Classifier refines body, drive and cylinders from a normalized draft.
type Classifier struct {
	rules *Rules
}

// NewClassifier creates a Classifier. A nil rules uses DefaultRules.
func NewClassifier(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify runs the body vote, the physical guards, drive inference and
// the cylinder sanity check. The draft is not modified.
func (c *Classifier) Classify(draft model.VehicleRecord) *Classification {
	in := &signalInput{
		rules:     c.rules,
		draft:     draft,
		fullText:  joinPresent(draft.Make, draft.Model, draft.Trim),
		modelText: joinPresent(draft.Model, draft.Trim),
	}
	in.convertible = c.rules.convertible.MatchString(in.fullText)
	in.known = c.matchKnownModel(draft)

	out := &Classification{
		ConvertibleKeyword: in.convertible,
		DoorCount:          draft.Doors,
		Style:              draft.Style,
		Cylinders:          draft.Cylinders,
	}

	var winner *model.BodyStyle
	winner, out.Votes = tally(in)
	out.Body = ApplyBodyGuards(winner, draft.Doors, in.convertible)

	if in.known != nil && in.known.style != "" && out.Body != nil && *out.Body == in.known.body {
		style := in.known.style
		out.Style = &style
	}

	out.Drive = c.resolveDrive(draft, out.Body, in.fullText)

	if CylindersSuspect(draft.Cylinders, draft.Displacement) {
		out.SuspectCylinders = draft.Cylinders
		out.Cylinders = nil
	}
	return out
}

func (c *Classifier) matchKnownModel(draft model.VehicleRecord) *knownModel {
	if draft.Make == nil || draft.Model == nil {
		return nil
	}
	text := joinPresent(draft.Model, draft.Trim)
	for i := range c.rules.knownModels {
		km := &c.rules.knownModels[i]
		if km.make.MatchString(*draft.Make) && km.model.MatchString(text) {
			return km
		}
	}
	return nil
}

// tally evaluates every signal in order and returns the winning body with
// the votes cast. It returns nil when no signal voted.
func tally(in *signalInput) (*model.BodyStyle, []model.BodyVote) {
	type score struct {
		total     int
		firstRank int
	}
	scores := make(map[model.BodyStyle]*score)
	var votes []model.BodyVote

	for rank, sig := range bodySignals {
		body, ok := sig.eval(in)
		if !ok {
			continue
		}
		votes = append(votes, model.BodyVote{Signal: sig.name, Body: body, Weight: sig.weight})
		s, seen := scores[body]
		if !seen {
			s = &score{firstRank: rank}
			scores[body] = s
		}
		s.total += sig.weight
	}

	var (
		best  model.BodyStyle
		bestS *score
	)
	for body, s := range scores {
		if bestS == nil || s.total > bestS.total || (s.total == bestS.total && s.firstRank < bestS.firstRank) {
			best, bestS = body, s
		}
	}
	if bestS == nil {
		return nil, votes
	}
	return &best, votes
}

// ApplyBodyGuards enforces the physical constraints that no vote or patch
// may violate: two doors without an open-top keyword is a Coupe, and an
// open-top keyword is a Convertible.
func ApplyBodyGuards(body *model.BodyStyle, doors *int, convertible bool) *model.BodyStyle {
	if doors != nil && *doors == 2 && !convertible {
		b := model.BodyCoupe
		return &b
	}
	if convertible {
		b := model.BodyConvertible
		return &b
	}
	return body
}

func (c *Classifier) resolveDrive(draft model.VehicleRecord, body *model.BodyStyle, text string) *model.DriveType {
	if draft.Drive != nil {
		return draft.Drive
	}
	lower := strings.ToLower(text)
	for _, badge := range c.rules.awdBadges {
		if strings.Contains(lower, badge) {
			d := model.DriveAWD
			return &d
		}
	}
	if body != nil && *body == model.BodyCoupe && draft.Make != nil && c.rules.rwdCoupeMakes[strings.ToUpper(*draft.Make)] {
		d := model.DriveRWD
		return &d
	}
	return nil
}

// CylindersSuspect reports whether a provider cylinder count may be
// replaced by an enrichment proposal: it equals the generic default of 4,
// or the displacement sits in the 2.8–3.2 L six-cylinder range and the
// count is not 6.
func CylindersSuspect(cylinders *int, displacement *float64) bool {
	if cylinders == nil {
		return false
	}
	if *cylinders == 4 {
		return true
	}
	if displacement != nil && *displacement >= 2.8 && *displacement <= 3.2 && *cylinders != 6 {
		return true
	}
	return false
}
