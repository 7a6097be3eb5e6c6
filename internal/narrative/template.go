package narrative

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

// Template describes an ordered sequence of micro-patterns that together
// form a known behavior.
type Template struct {
	ID        string         `json:"id"`
	Starters  []pattern.Type `json:"starter_patterns"`
	Steps     []pattern.Type `json:"ordered_steps"`
	Window    time.Duration  `json:"total_time_window"`
	BaseScore float64        `json:"base_score"`
	Reason    string         `json:"reason"`
}

// Validate rejects templates the engine cannot run: unknown pattern types,
// no steps, a non-positive window, or starters other than the first step.
func (t Template) Validate() error {
	var errs []error
	if t.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if len(t.Steps) == 0 {
		errs = append(errs, errors.New("ordered_steps must not be empty"))
	}
	if t.Window <= 0 {
		errs = append(errs, fmt.Errorf("total_time_window must be positive, got %s", t.Window))
	}
	for i, s := range t.Steps {
		if !s.Known() {
			errs = append(errs, fmt.Errorf("ordered_steps[%d]: unknown pattern type %q", i, s))
		}
	}
	if len(t.Starters) == 0 {
		errs = append(errs, errors.New("starter_patterns must not be empty"))
	}
	for i, s := range t.Starters {
		if !s.Known() {
			errs = append(errs, fmt.Errorf("starter_patterns[%d]: unknown pattern type %q", i, s))
			continue
		}
		if len(t.Steps) > 0 && s != t.Steps[0] {
			errs = append(errs, fmt.Errorf("starter_patterns[%d]: %q must equal the first step %q", i, s, t.Steps[0]))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("template %q: %w", t.ID, err)
	}
	return nil
}

// ValidateTemplates validates each template and rejects duplicate ids.
func ValidateTemplates(templates []Template) error {
	var errs []error
	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Errorf("template %q: duplicate id", t.ID))
		}
		seen[t.ID] = true
	}
	return errors.Join(errs...)
}

func (t *Template) isStarter(p pattern.Type) bool {
	return slices.Contains(t.Starters, p)
}

// DefaultTemplates returns the built-in narratives.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:        "stage_archive_exfil_v1",
			Starters:  []pattern.Type{pattern.BulkCopy},
			Steps:     []pattern.Type{pattern.BulkCopy, pattern.ArchiveCreate, pattern.ExternalShare},
			Window:    60 * time.Minute,
			BaseScore: 85,
			Reason:    "Bulk copy staged into an archive that was then shared externally",
		},
		{
			ID:        "ransomware_footprint_v1",
			Starters:  []pattern.Type{pattern.BulkModify},
			Steps:     []pattern.Type{pattern.BulkModify, pattern.RansomRename, pattern.RansomNote},
			Window:    60 * time.Minute,
			BaseScore: 90,
			Reason:    "Mass modification followed by ransom-extension renames and a ransom note",
		},
		{
			ID:        "mass_deletion_v1",
			Starters:  []pattern.Type{pattern.BulkDelete},
			Steps:     []pattern.Type{pattern.BulkDelete},
			Window:    60 * time.Minute,
			BaseScore: 75,
			Reason:    "Deletion volume far above the actor's history",
		},
	}
}
