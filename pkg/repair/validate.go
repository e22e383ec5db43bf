package repair

import (
	"fmt"
	"sort"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
	"github.com/devicelab-dev/xpath-healer/pkg/xpath"
)

// Validator checks repaired candidates against the group's page source.
//
// A candidate passes when it evaluates without an expression error. Match
// count is not considered; SelectAlternative applies the match-count policy.
type Validator struct {
	parser xpath.Parser
}

// NewValidator creates a Validator. A nil parser uses the default one.
func NewValidator(p xpath.Parser) *Validator {
	if p == nil {
		p = xpath.NewParser()
	}
	return &Validator{parser: p}
}

// Promote validates every repair of a completed group in place. A page
// source that does not parse fails every candidate.
func (v *Validator) Promote(g *Group) {
	if g.Status != StatusComplete {
		return
	}
	doc, err := v.parser.Parse(g.XML)
	if err != nil {
		logger.Warn("repair group %s: page source rejected: %v", g.Key, err)
		doc = nil
	}
	for i := range g.Repairs {
		v.promote(doc, g.Key.Platform, &g.Repairs[i])
	}
}

func (v *Validator) promote(doc xpath.Document, platform core.Platform, r *ElementRepair) {
	sort.SliceStable(r.Candidates, func(i, j int) bool {
		return r.Candidates[i].Priority < r.Candidates[j].Priority
	})
	if len(r.Candidates) == 0 {
		r.Candidates = core.SentinelCandidates(defaultCandidateCount, noteMissingCandidates)
	}

	for i := range r.Candidates {
		c := &r.Candidates[i]
		if doc == nil {
			break
		}
		res := xpath.Evaluate(doc, c.XPath, platform)
		if !res.Success {
			continue
		}

		c.Validated = true
		r.Result = res
		if i == 0 {
			r.Outcome = OutcomeAccepted
			return
		}
		// Swap ranks with the former primary.
		primary := &r.Candidates[0]
		primary.Priority, c.Priority = c.Priority, 0
		r.Candidates[0], r.Candidates[i] = r.Candidates[i], r.Candidates[0]
		r.Outcome = OutcomePromoted
		logger.Debug("repair %s: promoted %q over %q", r.DevName, r.Candidates[0].XPath, r.Candidates[i].XPath)
		return
	}

	primary := &r.Candidates[0]
	primary.Note = fmt.Sprintf("no candidate evaluated against the page source (was %q)", primary.XPath)
	primary.XPath = core.SentinelXPath
	primary.Confidence = core.ConfidenceLow
	primary.Validated = false
	r.Outcome = OutcomeFallback
	r.Result = xpath.Evaluate(doc, core.SentinelXPath, platform)
}

// Evaluator evaluates an expression against the active page source.
// engine.Engine implements it.
type Evaluator interface {
	EvaluateExpression(expr string, platform core.Platform) core.EvaluationResult
}

// Selection is the outcome of SelectAlternative.
type Selection struct {
	Candidate core.RepairCandidate
	Result    core.EvaluationResult
	// Fallback is set when no alternative matched and the sentinel was chosen.
	Fallback bool
}

// SelectAlternative picks among alternatives by match count: the first one
// with exactly one match wins, otherwise the first one with more than one,
// otherwise the sentinel.
func SelectAlternative(ev Evaluator, platform core.Platform, alternatives []core.RepairCandidate) Selection {
	var multi *Selection
	for _, alt := range alternatives {
		res := ev.EvaluateExpression(alt.XPath, platform)
		if !res.Success {
			continue
		}
		switch {
		case res.NumberOfMatches == 1:
			return Selection{Candidate: alt, Result: res}
		case res.NumberOfMatches > 1 && multi == nil:
			multi = &Selection{Candidate: alt, Result: res}
		}
	}
	if multi != nil {
		return *multi
	}
	return Selection{
		Candidate: core.RepairCandidate{XPath: core.SentinelXPath, Confidence: core.ConfidenceLow},
		Result:    ev.EvaluateExpression(core.SentinelXPath, platform),
		Fallback:  true,
	}
}
