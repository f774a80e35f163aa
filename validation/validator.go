// Package validation checks vignette artifacts against the structural rubric.
// Every check is pure: the same artifact and lexicon always give the same
// results, and malformed input produces failing results rather than errors.
package validation

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/c360studio/semdilemma/vignette"
)

// Structural criteria, in the order Validate reports them.
const (
	CriterionWordCount        vignette.CriterionID = "word_count"
	CriterionBinaryChoice     vignette.CriterionID = "binary_choice"
	CriterionForbiddenLexicon vignette.CriterionID = "forbidden_lexicon"
	CriterionNoStatistics     vignette.CriterionID = "no_statistics"
	CriterionDecisionMaker    vignette.CriterionID = "decision_maker"
	CriterionValueTags        vignette.CriterionID = "value_tags"
	CriterionValueAlignment   vignette.CriterionID = "value_alignment"
)

// Criteria returns the structural criteria in report order.
func Criteria() []vignette.CriterionID {
	return []vignette.CriterionID{
		CriterionWordCount,
		CriterionBinaryChoice,
		CriterionForbiddenLexicon,
		CriterionNoStatistics,
		CriterionDecisionMaker,
		CriterionValueTags,
		CriterionValueAlignment,
	}
}

// Defaults for Config.
const (
	DefaultWordCeiling      = 100
	DefaultWordFloor        = 20
	DefaultChoiceOverlapMax = 0.8
)

// Config holds the tunable thresholds.
type Config struct {
	WordCeiling int `json:"word_ceiling" yaml:"word_ceiling"`
	WordFloor   int `json:"word_floor" yaml:"word_floor"`

	// ChoiceOverlapMax is the content-word Jaccard overlap at or above which
	// two choices are considered the same action reworded.
	ChoiceOverlapMax float64 `json:"choice_overlap_max" yaml:"choice_overlap_max"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		WordCeiling:      DefaultWordCeiling,
		WordFloor:        DefaultWordFloor,
		ChoiceOverlapMax: DefaultChoiceOverlapMax,
	}
}

// Validator runs the structural checks.
type Validator struct {
	cfg     Config
	lexicon *Lexicon
}

// Option configures a Validator.
type Option func(*Validator)

// WithConfig overrides the thresholds. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(v *Validator) {
		if cfg.WordCeiling > 0 {
			v.cfg.WordCeiling = cfg.WordCeiling
		}
		if cfg.WordFloor > 0 {
			v.cfg.WordFloor = cfg.WordFloor
		}
		if cfg.ChoiceOverlapMax > 0 {
			v.cfg.ChoiceOverlapMax = cfg.ChoiceOverlapMax
		}
	}
}

// WithLexicon sets the forbidden lexicon.
func WithLexicon(l *Lexicon) Option {
	return func(v *Validator) {
		if l != nil {
			v.lexicon = l
		}
	}
}

// NewValidator creates a validator with the default lexicon and thresholds.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		cfg:     DefaultConfig(),
		lexicon: DefaultLexicon(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Config returns the active thresholds.
func (v *Validator) Config() Config {
	return v.cfg
}

// Lexicon returns the forbidden lexicon in use.
func (v *Validator) Lexicon() *Lexicon {
	return v.lexicon
}

// Validate runs every check and returns one result per criterion.
func (v *Validator) Validate(a *vignette.Artifact) []vignette.CriterionResult {
	if a == nil {
		results := make([]vignette.CriterionResult, 0, len(Criteria()))
		for _, id := range Criteria() {
			results = append(results, fail(id, "no artifact was produced",
				"produce a complete vignette with a narrative, a decision maker and two tagged choices"))
		}
		return results
	}

	return []vignette.CriterionResult{
		v.checkWordCount(a),
		v.checkBinaryChoice(a),
		v.checkLexicon(a),
		v.checkStatistics(a),
		checkDecisionMaker(a),
		checkValueTags(a),
		checkValueAlignment(a),
	}
}

func (v *Validator) checkWordCount(a *vignette.Artifact) vignette.CriterionResult {
	n := a.WordCount()
	switch {
	case n > v.cfg.WordCeiling:
		over := n - v.cfg.WordCeiling
		return fail(CriterionWordCount,
			fmt.Sprintf("narrative has %d words, over the limit of %d", n, v.cfg.WordCeiling),
			fmt.Sprintf("narrative exceeds %d words by %d; shorten by %d words by removing descriptive, non-decision-relevant detail",
				v.cfg.WordCeiling, over, over))
	case n < v.cfg.WordFloor:
		return fail(CriterionWordCount,
			fmt.Sprintf("narrative has %d words, below the minimum of %d", n, v.cfg.WordFloor),
			fmt.Sprintf("narrative has %d words, below the minimum of %d; add the essential clinical facts the decision depends on",
				n, v.cfg.WordFloor))
	}
	return pass(CriterionWordCount, fmt.Sprintf("narrative has %d words", n))
}

func (v *Validator) checkBinaryChoice(a *vignette.Artifact) vignette.CriterionResult {
	c1 := strings.TrimSpace(a.Choice1.Description)
	c2 := strings.TrimSpace(a.Choice2.Description)

	var missing []string
	if c1 == "" {
		missing = append(missing, "choice_1")
	}
	if c2 == "" {
		missing = append(missing, "choice_2")
	}
	if len(missing) > 0 {
		return fail(CriterionBinaryChoice,
			fmt.Sprintf("missing choice description: %s", strings.Join(missing, ", ")),
			"state exactly two concrete actions the decision maker can take, one per choice")
	}

	// "X" against "do not X" is a real two-way choice even though the
	// content words coincide.
	if Negated(c1) != Negated(c2) {
		return pass(CriterionBinaryChoice, "two distinct choices")
	}
	overlap := Jaccard(TokenSet(c1), TokenSet(c2))
	if overlap >= v.cfg.ChoiceOverlapMax {
		return fail(CriterionBinaryChoice,
			fmt.Sprintf("the two choices describe the same action (overlap %.2f)", overlap),
			"rewrite one choice so the two options are different actions with different consequences, not rewordings of each other")
	}
	return pass(CriterionBinaryChoice, "two distinct choices")
}

func (v *Validator) checkLexicon(a *vignette.Artifact) vignette.CriterionResult {
	var hits []string
	seen := make(map[string]bool)
	for _, text := range []string{a.Narrative, a.Choice1.Description, a.Choice2.Description} {
		for _, term := range v.lexicon.Find(text) {
			if !seen[term] {
				seen[term] = true
				hits = append(hits, term)
			}
		}
	}
	if len(hits) > 0 {
		return fail(CriterionForbiddenLexicon,
			fmt.Sprintf("text names ethical values directly: %s", quoteAll(hits)),
			fmt.Sprintf("remove the words %s; convey the tension through the clinical facts instead of naming the values", quoteAll(hits)))
	}
	return pass(CriterionForbiddenLexicon, "no value names present")
}

func (v *Validator) checkStatistics(a *vignette.Artifact) vignette.CriterionResult {
	var hits []string
	for _, text := range []string{a.Narrative, a.Choice1.Description, a.Choice2.Description} {
		hits = append(hits, FindStatistics(text)...)
	}
	if len(hits) > 0 {
		return fail(CriterionNoStatistics,
			fmt.Sprintf("text contains numeric probabilities or statistics: %s", strings.Join(hits, "; ")),
			"replace numeric probabilities and statistics with qualitative wording such as \"likely\", \"rare\" or \"uncertain\"")
	}
	return pass(CriterionNoStatistics, "no statistics present")
}

func checkDecisionMaker(a *vignette.Artifact) vignette.CriterionResult {
	if strings.TrimSpace(a.DecisionMaker) == "" {
		return fail(CriterionDecisionMaker, "decision maker role is empty",
			"name the role of the person who must decide, for example \"attending physician\"")
	}
	return pass(CriterionDecisionMaker, "decision maker: "+a.DecisionMaker)
}

func checkValueTags(a *vignette.Artifact) vignette.CriterionResult {
	var problems []string
	for _, c := range []struct {
		name  string
		value vignette.Value
	}{{"choice_1", a.Choice1.Value}, {"choice_2", a.Choice2.Value}} {
		switch {
		case c.value == "":
			problems = append(problems, c.name+" has no value tag")
		case !c.value.IsValid():
			problems = append(problems, fmt.Sprintf("%s is tagged %q, which is not a framework value", c.name, c.value))
		}
	}
	if len(problems) == 0 && a.Choice1.Value == a.Choice2.Value {
		problems = append(problems, fmt.Sprintf("both choices are tagged %q", a.Choice1.Value))
	}
	if len(problems) > 0 {
		return fail(CriterionValueTags, strings.Join(problems, "; "),
			"tag each choice with one of beneficence, autonomy, non-maleficence or justice, using two different values")
	}
	return pass(CriterionValueTags, "values in tension: "+a.Values().String())
}

func checkValueAlignment(a *vignette.Artifact) vignette.CriterionResult {
	var problems []string
	for _, c := range []struct {
		name   string
		choice vignette.Choice
	}{{"choice_1", a.Choice1}, {"choice_2", a.Choice2}} {
		for _, value := range slices.Sorted(maps.Keys(c.choice.Alignments)) {
			stance := c.choice.Alignments[value]
			if !value.IsValid() || !stance.IsValid() {
				problems = append(problems, fmt.Sprintf("%s has an unknown alignment %q: %q", c.name, value, stance))
			}
		}
		if c.choice.Alignments[c.choice.Value] == vignette.AlignmentViolates {
			problems = append(problems, fmt.Sprintf("%s is tagged %s but is marked as violating it", c.name, c.choice.Value))
		}
	}
	if len(problems) > 0 {
		return fail(CriterionValueAlignment, strings.Join(problems, "; "),
			"make each choice promote the value it is tagged with, and use only promotes, violates or neutral")
	}
	return pass(CriterionValueAlignment, "alignments consistent")
}

func pass(id vignette.CriterionID, rationale string) vignette.CriterionResult {
	return vignette.CriterionResult{
		Criterion: id,
		Role:      vignette.RoleStructural,
		Reviewer:  "validator",
		Pass:      true,
		Rationale: rationale,
	}
}

func fail(id vignette.CriterionID, rationale, edit string) vignette.CriterionResult {
	return vignette.CriterionResult{
		Criterion:     id,
		Role:          vignette.RoleStructural,
		Reviewer:      "validator",
		Rationale:     rationale,
		SuggestedEdit: edit,
	}
}

func quoteAll(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(quoted, ", ")
}

// Failures returns the failing results, preserving order.
func Failures(results []vignette.CriterionResult) []vignette.CriterionResult {
	var out []vignette.CriterionResult
	for _, r := range results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

// AllPass reports whether every result passed.
func AllPass(results []vignette.CriterionResult) bool {
	return len(Failures(results)) == 0
}
