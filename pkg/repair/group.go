// Package repair finds locators that no longer match, asks a repair service
// for replacement expressions, validates the answers against the captured
// page source and merges the winners back into the locator set.
package repair

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

// GroupStatus tracks a group through the pipeline.
type GroupStatus string

// Group statuses
const (
	StatusPending                GroupStatus = "pending"
	StatusReady                  GroupStatus = "ready"
	StatusMissingStateData       GroupStatus = "missing_state_data"
	StatusMissingPlatformVersion GroupStatus = "missing_platform_version"
	StatusComplete               GroupStatus = "complete"
	StatusError                  GroupStatus = "error"
)

// Runnable reports whether the runner should process a group in this status.
func (s GroupStatus) Runnable() bool {
	return s == StatusReady
}

// GroupKey identifies the (state, platform) pair shared by a group.
type GroupKey struct {
	StateID  string
	Platform core.Platform
}

func (k GroupKey) String() string {
	return k.StateID + "/" + string(k.Platform)
}

// ElementRequest describes one failing locator sent for repair.
type ElementRequest struct {
	ID      string `json:"id"`
	DevName string `json:"devName"`
	Name    string `json:"name,omitempty"`
	Value   string `json:"value,omitempty"`
	XPath   string `json:"xpath,omitempty"`
}

// ElementRepair is the normalized answer for one element.
type ElementRepair struct {
	ElementID  string
	DevName    string
	Candidates []core.RepairCandidate
	// Placeholder is set when the answer was synthesized because the
	// service never produced one.
	Placeholder bool

	// Set by validation.
	Outcome Outcome
	Result  core.EvaluationResult
}

// Outcome is what validation did with an element's candidates.
type Outcome string

// Validation outcomes
const (
	OutcomePending  Outcome = ""
	OutcomeAccepted Outcome = "accepted" // primary evaluated cleanly
	OutcomePromoted Outcome = "promoted" // an alternative replaced the primary
	OutcomeFallback Outcome = "fallback" // nothing evaluated; primary is the sentinel
)

// Primary returns the priority-0 candidate.
func (r ElementRepair) Primary() (core.RepairCandidate, bool) {
	for _, c := range r.Candidates {
		if c.Priority == 0 {
			return c, true
		}
	}
	return core.RepairCandidate{}, false
}

// Group batches the failing locators of one (state, platform) pair so they
// share a single screenshot and page source.
type Group struct {
	Key        GroupKey
	Status     GroupStatus
	Elements   []ElementRequest
	Screenshot string
	XML        string
	Repairs    []ElementRepair
	Err        error
}

// IsFailing reports whether a locator needs repair: the last evaluation
// failed or matched nothing, or the expression is missing or the sentinel.
func IsFailing(loc core.Locator) bool {
	expr := strings.TrimSpace(loc.Expression())
	switch {
	case expr == "":
		return true
	case core.IsSentinelXPath(expr):
		return true
	case !loc.XPath.Success:
		return true
	case loc.XPath.NumberOfMatches == 0:
		return true
	}
	return false
}

// AssignIDs gives every locator without an ID a fresh one. The input slice
// is modified in place.
func AssignIDs(locators []core.Locator) int {
	n := 0
	for i := range locators {
		if strings.TrimSpace(locators[i].ID) == "" {
			locators[i].ID = uuid.NewString()
			n++
		}
	}
	return n
}

// BuildGroups keeps the failing locators, groups them by (state, platform)
// in first-seen order and marks each group ready or missing data according
// to page. A nil page leaves every group missing state data.
func BuildGroups(page *snapshot.Page, locators []core.Locator) []*Group {
	var groups []*Group
	byKey := make(map[GroupKey]*Group)

	for _, loc := range locators {
		if !IsFailing(loc) {
			continue
		}
		key := GroupKey{StateID: loc.StateID, Platform: loc.Platform}
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Status: StatusPending}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Elements = append(g.Elements, ElementRequest{
			ID:      loc.ID,
			DevName: loc.Label(),
			Name:    loc.Name,
			Value:   loc.Value,
			XPath:   loc.Expression(),
		})
	}

	for _, g := range groups {
		annotate(page, g)
	}
	return groups
}

func annotate(page *snapshot.Page, g *Group) {
	v, err := page.Lookup(g.Key.StateID, g.Key.Platform)
	switch {
	case err == nil:
		g.Status = StatusReady
		g.Screenshot = v.ScreenShot
		g.XML = v.PageSource
	case errors.Is(err, core.ErrMissingPlatformVersion):
		g.Status = StatusMissingPlatformVersion
		g.Err = err
	default:
		g.Status = StatusMissingStateData
		g.Err = err
	}
	if g.Status != StatusReady {
		logger.Warn("repair group %s skipped: %s", g.Key, g.Status)
	}
}
