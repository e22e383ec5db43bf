package repair

import (
	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

type mergeKey struct {
	stateID   string
	platform  core.Platform
	elementID string
}

// Merge returns a copy of locators where every locator repaired by a
// completed group carries the promoted candidate as its XPath, its previous
// expression in OriginalXPath and the other candidates as alternatives.
func Merge(locators []core.Locator, groups []*Group) []core.Locator {
	repaired := make(map[mergeKey]ElementRepair)
	for _, g := range groups {
		if g.Status != StatusComplete {
			continue
		}
		for _, r := range g.Repairs {
			if r.Outcome == OutcomePending || len(r.Candidates) == 0 {
				continue
			}
			repaired[mergeKey{g.Key.StateID, g.Key.Platform, r.ElementID}] = r
		}
	}

	out := make([]core.Locator, len(locators))
	for i, loc := range locators {
		out[i] = loc
		r, ok := repaired[mergeKey{loc.StateID, loc.Platform, loc.ID}]
		if !ok {
			continue
		}
		primary := r.Candidates[0]
		result := r.Result.Clone()
		result.XPathExpression = primary.XPath

		out[i].OriginalXPath = loc.Expression()
		out[i].XPath = result
		out[i].AlternativeXPaths = append([]core.RepairCandidate(nil), r.Candidates[1:]...)
	}
	return out
}
