package engine

import (
	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

// EvaluatePage re-evaluates every locator against its own state and
// platform capture in page, switching the active context as it goes. The
// locators are returned as updated copies in input order. A locator whose
// capture is missing gets the no-document result.
//
// Evaluations are untracked and publish nothing; only context switches
// notify listeners.
func (e *Engine) EvaluatePage(page *snapshot.Page, locators []core.Locator) []core.Locator {
	out := make([]core.Locator, len(locators))
	copy(out, locators)

	type key struct {
		stateID  string
		platform core.Platform
	}
	order := make([]key, 0)
	members := make(map[key][]int)
	for i, loc := range locators {
		k := key{loc.StateID, loc.Platform}
		if _, ok := members[k]; !ok {
			order = append(order, k)
		}
		members[k] = append(members[k], i)
	}

	for _, k := range order {
		v, err := page.Lookup(k.stateID, k.platform)
		if err != nil {
			for _, i := range members[k] {
				out[i].XPath = core.NoDocumentResult(locators[i].Expression(), k.platform)
			}
			continue
		}
		e.SetContext(v.PageSource, k.stateID, k.platform)
		for _, i := range members[k] {
			out[i].XPath = e.EvaluateExpression(locators[i].Expression(), k.platform)
		}
	}
	return out
}
