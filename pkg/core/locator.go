package core

import "strings"

// Locator is a named UI-element descriptor paired with an XPath expression
// and its last evaluation result. Callers own locators; the engine never
// persists them.
type Locator struct {
	ID             string           `json:"id" yaml:"id"`
	StateID        string           `json:"stateId" yaml:"stateId"`
	Platform       Platform         `json:"platform" yaml:"platform"`
	Name           string           `json:"name,omitempty" yaml:"name,omitempty"`
	DevName        string           `json:"devName,omitempty" yaml:"devName,omitempty"`
	Value          string           `json:"value,omitempty" yaml:"value,omitempty"`
	IsDynamicValue bool             `json:"isDynamicValue,omitempty" yaml:"isDynamicValue,omitempty"`
	XPath          EvaluationResult `json:"xpath" yaml:"xpath"`

	// Set when a repair replaced XPath
	OriginalXPath     string            `json:"originalXpath,omitempty" yaml:"originalXpath,omitempty"`
	AlternativeXPaths []RepairCandidate `json:"alternativeXpaths,omitempty" yaml:"alternativeXpaths,omitempty"`
}

// Expression returns the locator's current XPath expression.
func (l Locator) Expression() string {
	return l.XPath.XPathExpression
}

// Label returns the most descriptive name available for logs and repair requests.
func (l Locator) Label() string {
	if strings.TrimSpace(l.DevName) != "" {
		return l.DevName
	}
	if strings.TrimSpace(l.Name) != "" {
		return l.Name
	}
	return l.ID
}

// Confidence is the repair AI's confidence label for a candidate.
type Confidence string

// Confidence values
const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// ParseConfidence normalizes a free-form confidence label. Unknown labels map to Low.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// RepairCandidate is one ranked replacement expression proposed for a locator.
type RepairCandidate struct {
	Priority    int        `json:"priority" yaml:"priority"` // 0 = primary
	XPath       string     `json:"xpath" yaml:"xpath"`
	Confidence  Confidence `json:"confidence" yaml:"confidence"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Fix         string     `json:"fix,omitempty" yaml:"fix,omitempty"`
	Validated   bool       `json:"validated" yaml:"validated"`
	Note        string     `json:"note,omitempty" yaml:"note,omitempty"`
}

// SentinelCandidates returns count ranked candidates that all carry the
// sentinel expression at Low confidence.
func SentinelCandidates(count int, description string) []RepairCandidate {
	out := make([]RepairCandidate, count)
	for i := range out {
		out[i] = RepairCandidate{
			Priority:    i,
			XPath:       SentinelXPath,
			Confidence:  ConfidenceLow,
			Description: description,
		}
	}
	return out
}
