package dosing

import (
	"log/slog"
	"slices"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/models"
)

// Scheduler resolves due substances against a fixed catalog.
type Scheduler struct {
	catalog models.Catalog
}

// NewScheduler creates a Scheduler for the given catalog.
func NewScheduler(catalog models.Catalog) *Scheduler {
	return &Scheduler{catalog: catalog}
}

// Catalog returns the catalog the scheduler was built with.
func (s *Scheduler) Catalog() models.Catalog {
	return s.catalog
}

// ObservedConcepts collects every concept with a recorded observation in any of the visits.
func ObservedConcepts(visits []models.VisitDetail) map[string]bool {
	observed := make(map[string]bool)
	for _, v := range visits {
		for _, c := range v.Observations.Concepts() {
			observed[c] = true
		}
	}
	return observed
}

// DueSubstances returns the substances due at now for a participant born at birth.
//
// Ungrouped substances in their age window are returned as-is. A grouped substance in its
// window resolves to the first member of its group, up to and including itself, that has no
// observation yet; if all of them are observed it contributes nothing. Results keep catalog
// order and each concept appears at most once.
func (s *Scheduler) DueSubstances(birth, now time.Time, visits []models.VisitDetail) []models.SubstanceConfig {
	age := AgeInWeeks(birth, now)
	observed := ObservedConcepts(visits)

	var due []models.SubstanceConfig
	seen := make(map[string]bool)
	for _, candidate := range s.catalog.Substances {
		if !InWindow(candidate, age) {
			continue
		}
		resolved, ok := s.resolve(candidate, observed)
		if !ok || seen[resolved.ConceptName] {
			continue
		}
		seen[resolved.ConceptName] = true
		due = append(due, resolved)
	}
	slog.Debug("Scheduler.DueSubstances", "ageInWeeks", age, "observed", len(observed), "due", len(due))
	return due
}

func (s *Scheduler) resolve(candidate models.SubstanceConfig, observed map[string]bool) (models.SubstanceConfig, bool) {
	if candidate.Group == "" {
		return candidate, true
	}
	group, ok := s.catalog.Group(candidate.Group)
	idx := group.IndexOf(candidate.ConceptName)
	if !ok || idx < 0 {
		slog.Warn("Scheduler.resolve: substance missing from its group, treating as ungrouped",
			"concept", candidate.ConceptName, "group", candidate.Group)
		return candidate, true
	}

	earlier := append(slices.Clone(group.Options[:idx]), candidate.ConceptName)
	for _, concept := range earlier {
		if observed[concept] {
			continue
		}
		return s.lookup(concept, candidate.Group), true
	}
	return models.SubstanceConfig{}, false
}

func (s *Scheduler) lookup(concept, group string) models.SubstanceConfig {
	if cfg, ok := s.catalog.Substance(concept); ok {
		return cfg
	}
	return models.SubstanceConfig{ConceptName: concept, Group: group}
}

// NextInGroup returns the first member of group with no observation, ignoring age windows.
func (s *Scheduler) NextInGroup(group models.SubstanceGroup, observed map[string]bool) (models.SubstanceConfig, bool) {
	for _, concept := range group.Options {
		if !observed[concept] {
			return s.lookup(concept, group.Name), true
		}
	}
	return models.SubstanceConfig{}, false
}

// NextDosePerGroup returns, for every group that is not complete, its next dose.
func (s *Scheduler) NextDosePerGroup(visits []models.VisitDetail) map[string]models.SubstanceConfig {
	observed := ObservedConcepts(visits)
	out := make(map[string]models.SubstanceConfig)
	for _, g := range s.catalog.Groups {
		if next, ok := s.NextInGroup(g, observed); ok {
			out[g.Name] = next
		}
	}
	return out
}

// AllSubstances lists the whole catalog without any window filtering.
func (s *Scheduler) AllSubstances() []models.SubstanceConfig {
	return slices.Clone(s.catalog.Substances)
}

// SubstancesForVisitType lists catalog entries offered for a visit type. Entries with no
// explicit visit types belong to DOSING visits.
func (s *Scheduler) SubstancesForVisitType(visitType models.VisitType) []models.SubstanceConfig {
	var out []models.SubstanceConfig
	for _, sub := range s.catalog.Substances {
		if len(sub.VisitTypes) == 0 {
			if visitType == models.VisitTypeDosing {
				out = append(out, sub)
			}
			continue
		}
		if slices.Contains(sub.VisitTypes, string(visitType)) {
			out = append(out, sub)
		}
	}
	return out
}
