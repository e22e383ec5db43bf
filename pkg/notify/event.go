// Package notify fans engine events out to listeners with per-key
// debouncing and redundant-update suppression.
package notify

import "github.com/devicelab-dev/xpath-healer/pkg/core"

// EventType names an event kind.
type EventType string

// Event types
const (
	TypeEvaluationComplete EventType = "evaluationComplete"
	TypeEvaluationError    EventType = "evaluationError"
	TypeHighlightsChanged  EventType = "highlightsChanged"
	TypeXMLChanged         EventType = "xmlChanged"
)

// Event is implemented by every payload the dispatcher carries.
type Event interface {
	Type() EventType
	debounceKey() debounceKey
}

// Source tells consumers which path produced an evaluation update.
type Source string

// Source values
const (
	SourceDirect      Source = "direct"      // returned by Evaluate
	SourceHighlighter Source = "highlighter" // consolidated post-highlight update
	SourceSelfFix     Source = "self-fix"    // soft recovery re-evaluation
)

// EvaluationComplete carries a successful evaluation result.
type EvaluationComplete struct {
	ElementID string
	Source    Source
	Recovery  core.RecoveryMethod
	Result    core.EvaluationResult
}

// Type implements Event.
func (EvaluationComplete) Type() EventType { return TypeEvaluationComplete }

func (e EvaluationComplete) debounceKey() debounceKey {
	return newKey(TypeEvaluationComplete, e.ElementID, e.Result.XPathExpression, e.Result.Platform)
}

// EvaluationError carries a failed evaluation (malformed expression or no document).
type EvaluationError struct {
	ElementID string
	Result    core.EvaluationResult
}

// Type implements Event.
func (EvaluationError) Type() EventType { return TypeEvaluationError }

func (e EvaluationError) debounceKey() debounceKey {
	return newKey(TypeEvaluationError, e.ElementID, e.Result.XPathExpression, e.Result.Platform)
}

// HighlightsChanged carries the new highlighted node set. An empty Nodes
// slice means highlights were cleared.
type HighlightsChanged struct {
	Expression string
	Platform   core.Platform
	Nodes      []core.MatchedNode
}

// Type implements Event.
func (HighlightsChanged) Type() EventType { return TypeHighlightsChanged }

func (e HighlightsChanged) debounceKey() debounceKey {
	return newKey(TypeHighlightsChanged, "", e.Expression, e.Platform)
}

// XMLChanged is published when the active page source is replaced.
type XMLChanged struct {
	StateID  string
	Platform core.Platform
	Parsed   bool // false when the new source failed to parse
}

// Type implements Event.
func (XMLChanged) Type() EventType { return TypeXMLChanged }

func (e XMLChanged) debounceKey() debounceKey {
	return newKey(TypeXMLChanged, "", e.StateID, e.Platform)
}

type debounceKey struct {
	eventType  EventType
	elementID  string
	expression string
	platform   core.Platform
}

func newKey(t EventType, elementID, expression string, platform core.Platform) debounceKey {
	if elementID == "" {
		elementID = "global"
	}
	return debounceKey{eventType: t, elementID: elementID, expression: expression, platform: platform}
}
