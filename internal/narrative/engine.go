// Package narrative recognizes multi-step behaviors by running a population
// of template state machines per actor over the micro-pattern stream.
package narrative

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/actorstate"
	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

type actorInstances struct {
	active []*Instance
}

// Progress describes one in-flight instance.
type Progress struct {
	TemplateID string       `json:"template_id"`
	Step       int          `json:"step"`
	Total      int          `json:"total"`
	Next       pattern.Type `json:"next"`
	StartTime  time.Time    `json:"start_time"`
}

// Engine owns every actor's instance population. Calls for one actor must
// arrive in timestamp order from a single writer.
type Engine struct {
	templates []Template
	actors    *actorstate.Registry[actorInstances]
	logger    *slog.Logger
}

// NewEngine validates templates and returns an engine running them.
func NewEngine(templates []Template, shards int, logger *slog.Logger) (*Engine, error) {
	if err := ValidateTemplates(templates); err != nil {
		return nil, fmt.Errorf("narrative templates: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	owned := make([]Template, len(templates))
	copy(owned, templates)
	return &Engine{
		templates: owned,
		actors:    actorstate.New(shards, func() *actorInstances { return &actorInstances{} }),
		logger:    logger,
	}, nil
}

// Templates returns the templates the engine runs.
func (e *Engine) Templates() []Template {
	out := make([]Template, len(e.templates))
	copy(out, e.templates)
	return out
}

// Process feeds one event's patterns to the actor's instances. It prunes
// expired instances, advances the survivors with every pattern in order,
// spawns instances for starter patterns, and reaps completed ones. The first
// completion during this call is returned.
func (e *Engine) Process(actorID string, at time.Time, patterns []pattern.Pattern) *Hit {
	var hit *Hit
	e.actors.With(actorID, func(st *actorInstances) {
		st.active = prune(st.active, at)

		for _, in := range st.active {
			for _, p := range patterns {
				if in.Advance(p, at) == Complete && hit == nil {
					hit = in.hit()
				}
			}
		}

		for i := range e.templates {
			t := &e.templates[i]
			if running(st.active, t.ID) {
				continue
			}
			for _, p := range patterns {
				if !t.isStarter(p.Type) {
					continue
				}
				in := newInstance(t, actorID, at)
				st.active = append(st.active, in)
				if in.Advance(p, at) == Complete && hit == nil {
					hit = in.hit()
				}
				e.logger.Debug("narrative: spawned",
					"actor_id", actorID, "template_id", t.ID, "trigger", p.EventID)
				break
			}
		}

		kept := st.active[:0]
		for _, in := range st.active {
			if !in.IsComplete() {
				kept = append(kept, in)
			}
		}
		clear(st.active[len(kept):])
		st.active = kept
	})
	return hit
}

func prune(active []*Instance, now time.Time) []*Instance {
	kept := active[:0]
	for _, in := range active {
		if !in.Expired(now) {
			kept = append(kept, in)
		}
	}
	clear(active[len(kept):])
	return kept
}

func running(active []*Instance, templateID string) bool {
	for _, in := range active {
		if in.Template.ID == templateID && !in.IsComplete() {
			return true
		}
	}
	return false
}

// Progress reports the actor's in-flight instances in template order.
func (e *Engine) Progress(actorID string) []Progress {
	var out []Progress
	e.actors.Peek(actorID, func(st *actorInstances) {
		for i := range e.templates {
			for _, in := range st.active {
				if in.Template.ID != e.templates[i].ID || in.IsComplete() {
					continue
				}
				out = append(out, Progress{
					TemplateID: in.Template.ID,
					Step:       in.State,
					Total:      len(in.Template.Steps),
					Next:       in.Template.Steps[in.State],
					StartTime:  in.StartTime,
				})
			}
		}
	})
	return out
}

// Sweep drops instances that expired by now and forgets actors left with
// none. It returns the number of actors removed.
func (e *Engine) Sweep(now time.Time) int {
	return e.actors.Sweep(func(_ string, st *actorInstances) bool {
		st.active = prune(st.active, now)
		return len(st.active) == 0
	})
}
