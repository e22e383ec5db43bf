package core

import "strings"

// SentinelXPath is the reserved always-zero-match expression meaning
// "no locator could be determined".
const SentinelXPath = "//*[99=0]"

// MatchesUnknown marks a result whose evaluation is still in flight.
const MatchesUnknown = -1

// EvaluationResult captures the outcome of evaluating one XPath expression
// against one page source.
type EvaluationResult struct {
	XPathExpression string        `json:"xpathExpression" yaml:"xpathExpression"`
	NumberOfMatches int           `json:"numberOfMatches" yaml:"numberOfMatches"`
	IsValid         bool          `json:"isValid" yaml:"isValid"`                         // expression parsed without error
	MatchingNodes   []MatchedNode `json:"matchingNodes" yaml:"matchingNodes"`             // in document order
	Platform        Platform      `json:"platform,omitempty" yaml:"platform,omitempty"`   // platform the geometry was read for
	Success         bool          `json:"success" yaml:"success"`                         // no exception during evaluation
	Error           string        `json:"error,omitempty" yaml:"error,omitempty"`         // expression error message
	ErrorCode       string        `json:"errorCode,omitempty" yaml:"errorCode,omitempty"` // machine-readable reason
}

// MatchedNode is one serialized node returned by an evaluation.
type MatchedNode struct {
	Index  int     `json:"index" yaml:"index"`
	Tag    string  `json:"tag" yaml:"tag"`
	Source string  `json:"source" yaml:"source"`
	Bounds *Bounds `json:"bounds,omitempty" yaml:"bounds,omitempty"` // nil when the node carries no geometry
}

// Bounds represents element geometry as top-left and bottom-right corners
type Bounds struct {
	X1 int `json:"x1" yaml:"x1"`
	Y1 int `json:"y1" yaml:"y1"`
	X2 int `json:"x2" yaml:"x2"`
	Y2 int `json:"y2" yaml:"y2"`
}

// BoundsFromRect converts an origin plus size into corner bounds.
func BoundsFromRect(x, y, width, height int) Bounds {
	return Bounds{X1: x, Y1: y, X2: x + width, Y2: y + height}
}

// Width returns the horizontal extent
func (b Bounds) Width() int { return b.X2 - b.X1 }

// Height returns the vertical extent
func (b Bounds) Height() int { return b.Y2 - b.Y1 }

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X1 + b.Width()/2, b.Y1 + b.Height()/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X1 && x < b.X2 && y >= b.Y1 && y < b.Y2
}

// Clone returns a deep copy so cached snapshots cannot be mutated by callers.
func (r EvaluationResult) Clone() EvaluationResult {
	out := r
	if r.MatchingNodes != nil {
		out.MatchingNodes = make([]MatchedNode, len(r.MatchingNodes))
		for i, n := range r.MatchingNodes {
			if n.Bounds != nil {
				b := *n.Bounds
				n.Bounds = &b
			}
			out.MatchingNodes[i] = n
		}
	}
	return out
}

// InProgress reports whether the result is the in-flight sentinel.
func (r EvaluationResult) InProgress() bool {
	return r.NumberOfMatches == MatchesUnknown
}

// IsSentinel reports whether the expression is the reserved sentinel.
func (r EvaluationResult) IsSentinel() bool {
	return IsSentinelXPath(r.XPathExpression)
}

// IsSentinelXPath reports whether expr is the reserved sentinel expression.
func IsSentinelXPath(expr string) bool {
	return strings.TrimSpace(expr) == SentinelXPath
}

// NoDocumentResult is returned when there is nothing to evaluate: either no
// page source is loaded or the expression is blank.
func NoDocumentResult(expr string, platform Platform) EvaluationResult {
	code := ErrNoDocument.Code
	if strings.TrimSpace(expr) == "" {
		code = ErrEmptyExpression.Code
	}
	return EvaluationResult{
		XPathExpression: expr,
		NumberOfMatches: 0,
		IsValid:         false,
		MatchingNodes:   []MatchedNode{},
		Platform:        platform,
		Success:         false,
		ErrorCode:       code,
	}
}

// InProgressResult is returned for an element that is already being evaluated.
func InProgressResult(expr string, platform Platform) EvaluationResult {
	return EvaluationResult{
		XPathExpression: expr,
		NumberOfMatches: MatchesUnknown,
		IsValid:         true,
		MatchingNodes:   []MatchedNode{},
		Platform:        platform,
		Success:         true,
	}
}

// ExpressionErrorResult is returned when the XPath library rejects expr.
func ExpressionErrorResult(expr string, platform Platform, err error) EvaluationResult {
	msg := ErrInvalidExpression.Message
	if err != nil {
		msg = err.Error()
	}
	return EvaluationResult{
		XPathExpression: expr,
		NumberOfMatches: 0,
		IsValid:         false,
		MatchingNodes:   []MatchedNode{},
		Platform:        platform,
		Success:         false,
		Error:           msg,
		ErrorCode:       ErrInvalidExpression.Code,
	}
}
