package narrative

import (
	"time"

	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

// Outcome is the result of feeding one pattern to an instance.
type Outcome int

const (
	NoMatch Outcome = iota
	Advanced
	Complete
	AlreadyComplete
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case Complete:
		return "complete"
	case AlreadyComplete:
		return "already_complete"
	default:
		return "no_match"
	}
}

// Contribution records which event satisfied which step.
type Contribution struct {
	EventID string       `json:"event_id"`
	Stage   pattern.Type `json:"stage"`
}

// Instance is one in-flight match of a template for one actor. The state is a
// cursor into the template's steps.
type Instance struct {
	Template      *Template
	ActorID       string
	State         int
	StartTime     time.Time
	LastAdvance   time.Time
	Evidence      map[pattern.Type]map[string]any
	Contributions []Contribution
}

func newInstance(t *Template, actorID string, at time.Time) *Instance {
	return &Instance{
		Template:  t,
		ActorID:   actorID,
		StartTime: at,
		Evidence:  make(map[pattern.Type]map[string]any, len(t.Steps)),
	}
}

func (in *Instance) IsComplete() bool {
	return in.State >= len(in.Template.Steps)
}

// Expired reports whether more than the template window has elapsed since the
// instance started.
func (in *Instance) Expired(now time.Time) bool {
	return now.Sub(in.StartTime) > in.Template.Window
}

// Advance moves the cursor when p matches the expected step.
func (in *Instance) Advance(p pattern.Pattern, at time.Time) Outcome {
	if in.IsComplete() {
		return AlreadyComplete
	}
	if p.Type != in.Template.Steps[in.State] {
		return NoMatch
	}
	in.Contributions = append(in.Contributions, Contribution{EventID: p.EventID, Stage: p.Type})
	if p.Data != nil {
		in.Evidence[p.Type] = p.Data
	} else {
		in.Evidence[p.Type] = map[string]any{}
	}
	in.State++
	in.LastAdvance = at
	if in.IsComplete() {
		return Complete
	}
	return Advanced
}

// Hit is a completed narrative.
type Hit struct {
	TemplateID    string                          `json:"template_id"`
	BaseScore     float64                         `json:"base_score"`
	Reason        string                          `json:"reason"`
	ActorID       string                          `json:"actor_id"`
	StartTime     time.Time                       `json:"start_time"`
	EndTime       time.Time                       `json:"end_time"`
	Evidence      map[pattern.Type]map[string]any `json:"evidence"`
	Contributions []Contribution                  `json:"contributions"`
}

func (in *Instance) hit() *Hit {
	return &Hit{
		TemplateID:    in.Template.ID,
		BaseScore:     in.Template.BaseScore,
		Reason:        in.Template.Reason,
		ActorID:       in.ActorID,
		StartTime:     in.StartTime,
		EndTime:       in.LastAdvance,
		Evidence:      in.Evidence,
		Contributions: in.Contributions,
	}
}
