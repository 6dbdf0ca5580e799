package models

// SubstanceConfig is one catalog entry with its age-eligibility window in weeks.
type SubstanceConfig struct {
	ConceptName              string   `json:"concept_name"`
	Label                    string   `json:"label,omitempty"`
	Group                    string   `json:"group,omitempty"`
	WeeksAfterBirth          int      `json:"weeks_after_birth"`
	WeeksAfterBirthLowWindow int      `json:"weeks_after_birth_low_window"`
	WeeksAfterBirthUpWindow  int      `json:"weeks_after_birth_up_window"`
	VisitTypes               []string `json:"visit_types,omitempty"`
}

// DisplayLabel returns the label, falling back to the concept name.
func (s SubstanceConfig) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ConceptName
}

// MinWeek is the first week of the eligibility window.
func (s SubstanceConfig) MinWeek() int { return s.WeeksAfterBirth - s.WeeksAfterBirthLowWindow }

// MaxWeek is the last week of the eligibility window.
func (s SubstanceConfig) MaxWeek() int { return s.WeeksAfterBirth + s.WeeksAfterBirthUpWindow }

// SubstanceGroup is an ordered chain of substances administered in strict order.
type SubstanceGroup struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// IndexOf returns the position of concept in the group, or -1.
func (g SubstanceGroup) IndexOf(concept string) int {
	for i, o := range g.Options {
		if o == concept {
			return i
		}
	}
	return -1
}

// Catalog is the configured substance list together with its groups.
type Catalog struct {
	Substances []SubstanceConfig `json:"substances"`
	Groups     []SubstanceGroup  `json:"groups"`
}

// Substance looks up a catalog entry by concept name.
func (c Catalog) Substance(concept string) (SubstanceConfig, bool) {
	for _, s := range c.Substances {
		if s.ConceptName == concept {
			return s, true
		}
	}
	return SubstanceConfig{}, false
}

// Group looks up a group by name.
func (c Catalog) Group(name string) (SubstanceGroup, bool) {
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return SubstanceGroup{}, false
}
