// Package model provides capability-based model selection for pipeline steps.
// Steps ask for a capability (drafting, reviewing, revising) and the registry
// resolves it to configured endpoints with a fallback chain.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityDrafting writes a first vignette from a seed case.
	CapabilityDrafting Capability = "drafting"

	// CapabilityReviewing judges a vignette against rubric criteria.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityRevising rewrites a vignette to address feedback.
	CapabilityRevising Capability = "revising"

	// CapabilityFast is for quick responses such as format corrections.
	CapabilityFast Capability = "fast"
)

// Capabilities returns every known capability.
func Capabilities() []Capability {
	return []Capability{CapabilityDrafting, CapabilityReviewing, CapabilityRevising, CapabilityFast}
}

// RoleCapabilities maps pipeline roles to their default capability.
var RoleCapabilities = map[string]Capability{
	"drafter":           CapabilityDrafting,
	"clinical-reviewer": CapabilityReviewing,
	"ethical-reviewer":  CapabilityReviewing,
	"style-reviewer":    CapabilityReviewing,
	"reviser":           CapabilityRevising,
}

// CapabilityForRole returns the default capability for a role.
// Unknown roles get CapabilityDrafting.
func CapabilityForRole(role string) Capability {
	if c, ok := RoleCapabilities[role]; ok {
		return c
	}
	return CapabilityDrafting
}

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityDrafting, CapabilityReviewing, CapabilityRevising, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
