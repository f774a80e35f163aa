package vignette

import (
	"fmt"
	"strings"
)

// CriterionID identifies one rubric criterion.
type CriterionID string

// Role identifies who produced a verdict.
type Role string

// Reviewer roles. Clinical, ethical and stylistic are the rubric reviewers;
// structural marks validator output and novelty the synthetic duplicate check.
const (
	RoleClinical   Role = "clinical"
	RoleEthical    Role = "ethical"
	RoleStylistic  Role = "stylistic"
	RoleStructural Role = "structural"
	RoleNovelty    Role = "novelty"
)

// Precedence returns the rank of a role. Lower ranks win conflicts:
// clinical > ethical > stylistic. Single-source roles rank last.
func (r Role) Precedence() int {
	switch r {
	case RoleClinical:
		return 0
	case RoleEthical:
		return 1
	case RoleStylistic:
		return 2
	case RoleStructural:
		return 3
	case RoleNovelty:
		return 4
	default:
		return 5
	}
}

// Outranks reports whether r takes precedence over other.
func (r Role) Outranks(other Role) bool {
	return r.Precedence() < other.Precedence()
}

// CriterionResult is one verdict on one criterion. Results are produced once
// per pass and never mutated afterwards.
type CriterionResult struct {
	Criterion     CriterionID `json:"criterion"`
	Role          Role        `json:"role"`
	Reviewer      string      `json:"reviewer,omitempty"`
	Pass          bool        `json:"pass"`
	Rationale     string      `json:"rationale"`
	SuggestedEdit string      `json:"suggested_edit,omitempty"`

	// Indeterminate marks a verdict that could not be obtained. It is always
	// paired with Pass == false.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

// FeedbackSource says which stage produced a Feedback.
type FeedbackSource string

// Feedback sources.
const (
	SourceStructural FeedbackSource = "structural"
	SourceRubric     FeedbackSource = "rubric"
)

// Note is a secondary rationale kept alongside the surfaced verdict.
type Note struct {
	Role      Role   `json:"role"`
	Reviewer  string `json:"reviewer,omitempty"`
	Pass      bool   `json:"pass"`
	Rationale string `json:"rationale"`
}

// FeedbackItem is one unresolved criterion failure.
type FeedbackItem struct {
	Criterion     CriterionID `json:"criterion"`
	Role          Role        `json:"role"`
	Rationale     string      `json:"rationale"`
	SuggestedEdit string      `json:"suggested_edit"`
	Indeterminate bool        `json:"indeterminate,omitempty"`
	Notes         []Note      `json:"notes,omitempty"`
}

// Feedback is the merged, precedence-ordered list of failures for one pass.
type Feedback struct {
	Source FeedbackSource `json:"source"`
	Passed bool           `json:"passed"`
	Items  []FeedbackItem `json:"items,omitempty"`
}

// FeedbackFromResults builds structural feedback from validator output,
// keeping only failures and preserving their order.
func FeedbackFromResults(results []CriterionResult) *Feedback {
	fb := &Feedback{Source: SourceStructural, Passed: true}
	for _, r := range results {
		if r.Pass {
			continue
		}
		fb.Passed = false
		fb.Items = append(fb.Items, FeedbackItem{
			Criterion:     r.Criterion,
			Role:          r.Role,
			Rationale:     r.Rationale,
			SuggestedEdit: r.SuggestedEdit,
			Indeterminate: r.Indeterminate,
		})
	}
	return fb
}

// Add appends an item and marks the feedback failed.
func (f *Feedback) Add(item FeedbackItem) {
	f.Items = append(f.Items, item)
	f.Passed = false
}

// Has reports whether the feedback carries an item for criterion.
func (f *Feedback) Has(criterion CriterionID) bool {
	_, ok := f.Item(criterion)
	return ok
}

// Item returns the item for criterion, if any.
func (f *Feedback) Item(criterion CriterionID) (FeedbackItem, bool) {
	if f == nil {
		return FeedbackItem{}, false
	}
	for _, item := range f.Items {
		if item.Criterion == criterion {
			return item, true
		}
	}
	return FeedbackItem{}, false
}

// Criteria returns the failed criterion IDs in order.
func (f *Feedback) Criteria() []CriterionID {
	if f == nil {
		return nil
	}
	ids := make([]CriterionID, 0, len(f.Items))
	for _, item := range f.Items {
		ids = append(ids, item.Criterion)
	}
	return ids
}

// Format renders the feedback as a markdown list for revision prompts.
func (f *Feedback) Format() string {
	if f == nil || len(f.Items) == 0 {
		return "No issues detected."
	}

	var sb strings.Builder
	for i, item := range f.Items {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, item.Role, item.Criterion)
		if item.Indeterminate {
			sb.WriteString(" (no verdict obtained)")
		}
		sb.WriteString("\n")
		if item.Rationale != "" {
			fmt.Fprintf(&sb, "   Problem: %s\n", item.Rationale)
		}
		if item.SuggestedEdit != "" {
			fmt.Fprintf(&sb, "   Required edit: %s\n", item.SuggestedEdit)
		}
		for _, note := range item.Notes {
			verdict := "fail"
			if note.Pass {
				verdict = "pass"
			}
			fmt.Fprintf(&sb, "   Also noted by %s (%s): %s\n", note.Role, verdict, note.Rationale)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
