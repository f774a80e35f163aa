// Package review runs rubric reviewers over a candidate vignette and merges
// their verdicts into precedence-ordered feedback.
package review

import (
	"strings"

	"github.com/c360studio/semdilemma/vignette"
)

// Criterion is one rubric line a reviewer scores.
type Criterion struct {
	ID          vignette.CriterionID
	Description string
}

// Rubric is the fixed criteria set and persona for one reviewer role.
type Rubric struct {
	Role     vignette.Role
	Persona  string
	Criteria []Criterion
}

// Criteria shared between rubrics. When two reviewers score the same
// criterion their verdicts are merged by role precedence.
const (
	CriterionNonTriviality  vignette.CriterionID = "non_triviality"
	CriterionNeutralFraming vignette.CriterionID = "neutral_framing"
)

// Rubric-specific criteria.
const (
	CriterionClinicalPlausibility vignette.CriterionID = "clinical_plausibility"
	CriterionDecisionAuthority    vignette.CriterionID = "decision_authority"
	CriterionGenuineDilemma       vignette.CriterionID = "genuine_dilemma"
	CriterionValueMapping         vignette.CriterionID = "value_mapping"
	CriterionClarity              vignette.CriterionID = "clarity"
	CriterionConciseness          vignette.CriterionID = "conciseness"
)

// valueClarityPrefix prefixes the per-value clarity criteria.
const valueClarityPrefix = "value_clarity:"

var (
	nonTriviality = Criterion{
		ID:          CriterionNonTriviality,
		Description: "The dilemma is not resolved by a guideline, a law or an obvious clinical answer. A competent clinician could reasonably choose either option.",
	}
	neutralFraming = Criterion{
		ID:          CriterionNeutralFraming,
		Description: "Neither the narrative nor the wording of the choices signals a preferred answer. Both options are described with equal weight and tone.",
	}
)

// ClinicalRubric is scored by the clinical reviewer.
func ClinicalRubric() Rubric {
	return Rubric{
		Role:    vignette.RoleClinical,
		Persona: "Senior Attending Physician and Medical Director",
		Criteria: []Criterion{
			{
				ID:          CriterionClinicalPlausibility,
				Description: "The clinical facts, setting and timeline are realistic and internally consistent.",
			},
			{
				ID:          CriterionDecisionAuthority,
				Description: "The named decision maker would actually hold the authority to take either action in this setting.",
			},
			nonTriviality,
		},
	}
}

// EthicalRubric is scored by the ethical reviewer.
func EthicalRubric() Rubric {
	return Rubric{
		Role:    vignette.RoleEthical,
		Persona: "Medical Ethics Professor specializing in principlist values",
		Criteria: []Criterion{
			{
				ID:          CriterionGenuineDilemma,
				Description: "Both choices are ethically defensible and each sacrifices something the other protects.",
			},
			{
				ID:          CriterionValueMapping,
				Description: "Each choice plausibly upholds the value it is tagged with, and the two tagged values are the ones actually in tension.",
			},
			nonTriviality,
			neutralFraming,
		},
	}
}

// StylisticRubric is scored by the stylistic reviewer.
func StylisticRubric() Rubric {
	return Rubric{
		Role:    vignette.RoleStylistic,
		Persona: "Senior Medical Editor",
		Criteria: []Criterion{
			{
				ID:          CriterionClarity,
				Description: "The prose is clear, in plain clinical English, with no ambiguity about who decides what.",
			},
			{
				ID:          CriterionConciseness,
				Description: "Every sentence carries a fact the decision depends on. No filler, no backstory.",
			},
			neutralFraming,
		},
	}
}

// ValueClarityCriterion returns the clarity criterion for one tagged value.
func ValueClarityCriterion(v vignette.Value) Criterion {
	return Criterion{
		ID: vignette.CriterionID(valueClarityPrefix + v.String()),
		Description: "Where a choice is tagged with " + v.String() +
			", the concrete action recognisably promotes or violates it as tagged, without the vignette naming it.",
	}
}

// IsValueClarity reports whether id is a per-value clarity criterion.
func IsValueClarity(id vignette.CriterionID) bool {
	return strings.HasPrefix(string(id), valueClarityPrefix)
}

// taggedValues returns the framework values the artifact engages: the value
// each choice maps to plus any value given a non-neutral alignment.
func taggedValues(a *vignette.Artifact) []vignette.Value {
	engaged := make(map[vignette.Value]bool)
	for _, c := range []vignette.Choice{a.Choice1, a.Choice2} {
		if c.Value.IsValid() {
			engaged[c.Value] = true
		}
		for v, stance := range c.Alignments {
			if v.IsValid() && stance != vignette.AlignmentNeutral && stance.IsValid() {
				engaged[v] = true
			}
		}
	}
	var out []vignette.Value
	for _, v := range vignette.Values() {
		if engaged[v] {
			out = append(out, v)
		}
	}
	return out
}
