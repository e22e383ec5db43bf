package xpath

import (
	"strings"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// Evaluate runs expr against doc and classifies the outcome.
//
// A nil doc or blank expression yields the no-document result. A malformed
// expression yields IsValid=false, Success=false with the library's message.
// Anything else is a successful evaluation, including zero matches.
func Evaluate(doc Document, expr string, platform core.Platform) core.EvaluationResult {
	if doc == nil || strings.TrimSpace(expr) == "" {
		return core.NoDocumentResult(expr, platform)
	}

	nodes, err := doc.Select(expr)
	if err != nil {
		logger.Debug("xpath %q rejected: %v", expr, err)
		return core.ExpressionErrorResult(expr, platform, err)
	}

	matched := make([]core.MatchedNode, 0, len(nodes))
	for i, n := range nodes {
		matched = append(matched, core.MatchedNode{
			Index:  i,
			Tag:    n.Tag(),
			Source: n.XML(),
			Bounds: ExtractBounds(n, platform),
		})
	}

	return core.EvaluationResult{
		XPathExpression: expr,
		NumberOfMatches: len(matched),
		IsValid:         true,
		MatchingNodes:   matched,
		Platform:        platform,
		Success:         true,
	}
}

// EvaluateSource parses source and evaluates expr against it. A source that
// fails to parse behaves like a missing document.
func EvaluateSource(p Parser, source, expr string, platform core.Platform) core.EvaluationResult {
	doc, err := p.Parse(source)
	if err != nil {
		logger.Warn("page source rejected: %v", err)
		return core.NoDocumentResult(expr, platform)
	}
	return Evaluate(doc, expr, platform)
}
