package repair

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

// GroupReport summarizes one group of a pipeline run.
type GroupReport struct {
	StateID      string        `json:"stateId"`
	Platform     core.Platform `json:"platform"`
	Status       GroupStatus   `json:"status"`
	Elements     int           `json:"elements"`
	Accepted     int           `json:"accepted"`
	Promoted     int           `json:"promoted"`
	Fallback     int           `json:"fallback"`
	Placeholders int           `json:"placeholders"`
	Error        string        `json:"error,omitempty"`
}

// Report summarizes a pipeline run.
type Report struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Failing   int           `json:"failing"`
	Repaired  int           `json:"repaired"`
	Groups    []GroupReport `json:"groups"`
}

// Summary is a one-line description for logs and the CLI.
func (r *Report) Summary() string {
	skipped := 0
	for _, g := range r.Groups {
		if g.Status != StatusComplete {
			skipped++
		}
	}
	return fmt.Sprintf("run %s: %d failing locators in %d groups, %d repaired, %d groups skipped (%s)",
		r.RunID, r.Failing, len(r.Groups), r.Repaired, skipped, r.Duration.Round(time.Millisecond))
}

// Pipeline runs build, repair, validation and merge for a locator set.
type Pipeline struct {
	runner    *Runner
	validator *Validator
}

// NewPipeline creates a Pipeline.
func NewPipeline(runner *Runner, validator *Validator) *Pipeline {
	return &Pipeline{runner: runner, validator: validator}
}

// Run repairs the failing locators of page. The returned locators are a
// merged copy of the input; locators without an ID are given one. The error
// is ctx's error when the run was cancelled part way.
func (p *Pipeline) Run(ctx context.Context, page *snapshot.Page, locators []core.Locator) (*Report, []core.Locator, error) {
	report := &Report{RunID: ulid.Make().String(), StartedAt: time.Now()}
	log := logger.WithFields(map[string]interface{}{"run": report.RunID})

	working := append([]core.Locator(nil), locators...)
	if n := AssignIDs(working); n > 0 {
		log.Debugf("assigned ids to %d locators", n)
	}

	groups := BuildGroups(page, working)
	for _, g := range groups {
		report.Failing += len(g.Elements)
	}
	log.Infof("%d failing locators in %d groups", report.Failing, len(groups))

	p.runner.Run(ctx, groups)
	for _, g := range groups {
		p.validator.Promote(g)
	}
	merged := Merge(working, groups)

	for _, g := range groups {
		gr := GroupReport{
			StateID:  g.Key.StateID,
			Platform: g.Key.Platform,
			Status:   g.Status,
			Elements: len(g.Elements),
		}
		if g.Err != nil {
			gr.Error = g.Err.Error()
		}
		for _, r := range g.Repairs {
			switch r.Outcome {
			case OutcomeAccepted:
				gr.Accepted++
			case OutcomePromoted:
				gr.Promoted++
			case OutcomeFallback:
				gr.Fallback++
			}
			if r.Placeholder {
				gr.Placeholders++
			}
		}
		if g.Status == StatusComplete {
			report.Repaired += len(g.Repairs)
		}
		report.Groups = append(report.Groups, gr)
	}
	report.Duration = time.Since(report.StartedAt)
	log.Info(report.Summary())

	return report, merged, ctx.Err()
}
