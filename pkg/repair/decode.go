package repair

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// elementSchema is the strict shape of one repaired element.
const elementSchema = `{
  "type": "object",
  "required": ["xpathFix"],
  "properties": {
    "devName": {"type": "string"},
    "xpathFix": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["xpath"],
        "properties": {
          "priority":    {"type": "integer", "minimum": 0},
          "xpath":       {"type": "string", "minLength": 1},
          "confidence":  {"type": "string"},
          "description": {"type": "string"},
          "fix":         {"type": "string"}
        }
      }
    }
  }
}`

// Descriptions attached to synthesized candidates.
const (
	noteMissingCandidates = "no usable candidates returned"
	noteServiceFailed     = "repair service unavailable"
)

// defaultCandidateCount is the size of every synthesized candidate list:
// one primary plus two alternatives.
const defaultCandidateCount = 3

type wireCandidate struct {
	Priority    *float64 `json:"priority"`
	XPath       string   `json:"xpath"`
	Confidence  string   `json:"confidence"`
	Description string   `json:"description"`
	Fix         string   `json:"fix"`
}

type wireElement struct {
	DevName  string          `json:"devName"`
	XPathFix []wireCandidate `json:"xpathFix"`
}

// Decoder turns a raw repair response into one ElementRepair per requested
// element. It accepts {"elements": [...]}, a bare array, a single object or
// a string holding any of those. Elements that fail the schema get the
// default sentinel candidates.
type Decoder struct {
	schema *jsonschema.Schema
}

// NewDecoder compiles the element schema.
func NewDecoder() (*Decoder, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("element.json", strings.NewReader(elementSchema)); err != nil {
		return nil, err
	}
	s, err := c.Compile("element.json")
	if err != nil {
		return nil, err
	}
	return &Decoder{schema: s}, nil
}

// Decode normalizes raw against the requested elements. Response elements
// are matched by devName, then by position for unnamed entries.
func (d *Decoder) Decode(raw []byte, requested []ElementRequest) []ElementRepair {
	items := d.items(raw)

	names := make(map[string]int)
	for i, it := range items {
		if it.ok && it.el.DevName != "" {
			if _, dup := names[it.el.DevName]; !dup {
				names[it.el.DevName] = i
			}
		}
	}

	used := make([]bool, len(items))
	out := make([]ElementRepair, len(requested))
	for i, req := range requested {
		idx := -1
		if j, ok := names[req.DevName]; ok && !used[j] {
			idx = j
		} else if i < len(items) && !used[i] && items[i].el.DevName == "" {
			idx = i
		}

		if idx < 0 || !items[idx].ok {
			if idx >= 0 {
				used[idx] = true
			}
			logger.Debug("repair: no usable candidates for %s, using defaults", req.DevName)
			out[i] = DefaultRepair(req, noteMissingCandidates)
			continue
		}
		used[idx] = true
		out[i] = ElementRepair{
			ElementID:  req.ID,
			DevName:    req.DevName,
			Candidates: normalizeCandidates(items[idx].el.XPathFix),
		}
	}
	return out
}

type decodedItem struct {
	el wireElement
	ok bool
}

func (d *Decoder) items(raw []byte) []decodedItem {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		v = string(raw)
	}

	values := coerce(v, 0)
	items := make([]decodedItem, len(values))
	for i, val := range values {
		if err := d.schema.Validate(val); err != nil {
			logger.Debug("repair: element %d rejected: %v", i, err)
			if m, ok := val.(map[string]interface{}); ok {
				items[i].el.DevName, _ = m["devName"].(string)
			}
			continue
		}
		b, err := json.Marshal(val)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(b, &items[i].el); err != nil {
			continue
		}
		items[i].ok = true
	}
	return items
}

// coerce flattens the accepted response shapes into a list of elements.
func coerce(v interface{}, depth int) []interface{} {
	if depth > 3 {
		return nil
	}
	switch x := v.(type) {
	case []interface{}:
		return x
	case map[string]interface{}:
		if els, ok := x["elements"]; ok {
			return coerce(els, depth+1)
		}
		return []interface{}{x}
	case string:
		var inner interface{}
		if err := json.Unmarshal([]byte(stripFence(x)), &inner); err != nil {
			return nil
		}
		return coerce(inner, depth+1)
	}
	return nil
}

// stripFence removes a surrounding ``` or ```json block.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// normalizeCandidates orders candidates by stated priority, keeping
// response order for ties and missing priorities, and re-ranks them 0..N-1.
func normalizeCandidates(in []wireCandidate) []core.RepairCandidate {
	type ranked struct {
		c   wireCandidate
		key float64
	}
	rs := make([]ranked, len(in))
	for i, c := range in {
		key := float64(i)
		if c.Priority != nil {
			key = *c.Priority
		}
		rs[i] = ranked{c: c, key: key}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].key < rs[j].key })

	out := make([]core.RepairCandidate, len(rs))
	for i, r := range rs {
		out[i] = core.RepairCandidate{
			Priority:    i,
			XPath:       strings.TrimSpace(r.c.XPath),
			Confidence:  core.ParseConfidence(r.c.Confidence),
			Description: r.c.Description,
			Fix:         r.c.Fix,
		}
	}
	return out
}

// DefaultRepair is the synthesized answer for an element the service did
// not repair: the sentinel as primary plus two sentinel alternatives.
func DefaultRepair(req ElementRequest, note string) ElementRepair {
	return ElementRepair{
		ElementID:   req.ID,
		DevName:     req.DevName,
		Candidates:  core.SentinelCandidates(defaultCandidateCount, note),
		Placeholder: true,
	}
}
