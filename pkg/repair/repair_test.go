package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/snapshot"
)

const loginXML = `<hierarchy>
  <node class="android.widget.EditText" resource-id="user" bounds="[0,0][100,50]"/>
  <node class="android.widget.EditText" resource-id="pass" bounds="[0,60][100,110]"/>
  <node class="android.widget.Button" text="Sign in" bounds="[10,20][50,60]"/>
</hierarchy>`

func ok(expr string, matches int) core.EvaluationResult {
	return core.EvaluationResult{XPathExpression: expr, NumberOfMatches: matches, IsValid: true, Success: true}
}

func testPage() *snapshot.Page {
	return &snapshot.Page{
		ID: "app",
		States: []snapshot.State{
			{ID: "login", Versions: map[string]snapshot.Version{
				"Android": {ScreenShot: "login.png", PageSource: loginXML},
			}},
			{ID: "home", Versions: map[string]snapshot.Version{
				"ios": {PageSource: "<AppiumAUT/>"},
			}},
		},
	}
}

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	return d
}

func TestIsFailing(t *testing.T) {
	tests := []struct {
		name string
		loc  core.Locator
		want bool
	}{
		{"one match", core.Locator{XPath: ok("//a", 1)}, false},
		{"many matches", core.Locator{XPath: ok("//a", 4)}, false},
		{"zero matches", core.Locator{XPath: ok("//a", 0)}, true},
		{"not successful", core.Locator{XPath: core.EvaluationResult{XPathExpression: "//a[", NumberOfMatches: 0}}, true},
		{"sentinel", core.Locator{XPath: ok(core.SentinelXPath, 1)}, true},
		{"no expression", core.Locator{XPath: ok("  ", 1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFailing(tt.loc))
		})
	}
}

func TestBuildGroups(t *testing.T) {
	locs := []core.Locator{
		{ID: "a", StateID: "login", Platform: core.PlatformAndroid, Name: "user", XPath: ok("//x", 0)},
		{ID: "b", StateID: "home", Platform: core.PlatformIOS, XPath: ok("//y", 0)},
		{ID: "c", StateID: "login", Platform: core.PlatformAndroid, XPath: ok("//z", 1)},
		{ID: "d", StateID: "login", Platform: core.PlatformAndroid, DevName: "pass", XPath: ok("", 0)},
		{ID: "e", StateID: "gone", Platform: core.PlatformAndroid, XPath: ok("//q", 0)},
		{ID: "f", StateID: "home", Platform: core.PlatformAndroid, XPath: ok("//r", 0)},
	}

	groups := BuildGroups(testPage(), locs)
	require.Len(t, groups, 4)

	assert.Equal(t, GroupKey{"login", core.PlatformAndroid}, groups[0].Key)
	assert.Equal(t, StatusReady, groups[0].Status)
	assert.Equal(t, loginXML, groups[0].XML)
	assert.Equal(t, "login.png", groups[0].Screenshot)
	require.Len(t, groups[0].Elements, 2)
	assert.Equal(t, "user", groups[0].Elements[0].DevName)
	assert.Equal(t, "pass", groups[0].Elements[1].DevName)

	assert.Equal(t, StatusReady, groups[1].Status)
	assert.Equal(t, StatusMissingStateData, groups[2].Status)
	assert.Equal(t, StatusMissingPlatformVersion, groups[3].Status)
}

func TestAssignIDs(t *testing.T) {
	locs := []core.Locator{{ID: "keep"}, {}, {ID: " "}}
	assert.Equal(t, 2, AssignIDs(locs))
	assert.Equal(t, "keep", locs[0].ID)
	assert.Len(t, locs[1].ID, 36)
	assert.NotEqual(t, locs[1].ID, locs[2].ID)
}

func TestDecodeShapes(t *testing.T) {
	elem := `{"devName":"login","xpathFix":[{"priority":0,"xpath":"//node[@text='Sign in']","confidence":"high"},{"priority":1,"xpath":"//node[3]","confidence":"medium"}]}`
	quoted, _ := json.Marshal("[" + elem + "]")

	tests := []struct {
		name string
		raw  string
	}{
		{"envelope", `{"elements":[` + elem + `]}`},
		{"array", `[` + elem + `]`},
		{"object", elem},
		{"string encoded", string(quoted)},
		{"fenced text", "```json\n[" + elem + "]\n```"},
		{"envelope with string", `{"elements":` + string(quoted) + `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newDecoder(t).Decode([]byte(tt.raw), []ElementRequest{{ID: "1", DevName: "login"}})
			require.Len(t, out, 1)
			r := out[0]
			assert.False(t, r.Placeholder)
			assert.Equal(t, "1", r.ElementID)
			require.Len(t, r.Candidates, 2)
			assert.Equal(t, "//node[@text='Sign in']", r.Candidates[0].XPath)
			assert.Equal(t, core.ConfidenceHigh, r.Candidates[0].Confidence)
			assert.Equal(t, 1, r.Candidates[1].Priority)
		})
	}
}

func TestDecodeDefaultsMalformedElements(t *testing.T) {
	raw := `[
		{"devName":"a","xpathFix":[]},
		{"devName":"b"},
		{"devName":"c","xpathFix":[{"priority":0,"xpath":""}]},
		{"devName":"d","xpathFix":"//node"}
	]`
	reqs := []ElementRequest{{ID: "1", DevName: "a"}, {ID: "2", DevName: "b"}, {ID: "3", DevName: "c"}, {ID: "4", DevName: "d"}, {ID: "5", DevName: "e"}}

	out := newDecoder(t).Decode([]byte(raw), reqs)
	require.Len(t, out, 5)
	for i, r := range out {
		assert.True(t, r.Placeholder, "element %d", i)
		assert.Equal(t, reqs[i].ID, r.ElementID)
		require.Len(t, r.Candidates, 3)
		for p, c := range r.Candidates {
			assert.Equal(t, p, c.Priority)
			assert.Equal(t, core.SentinelXPath, c.XPath)
			assert.Equal(t, core.ConfidenceLow, c.Confidence)
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	out := newDecoder(t).Decode([]byte("the model refused"), []ElementRequest{{ID: "1", DevName: "x"}})
	require.Len(t, out, 1)
	assert.True(t, out[0].Placeholder)
}

func TestDecodeReranksAndMatchesByName(t *testing.T) {
	raw := `[
		{"devName":"second","xpathFix":[{"priority":5,"xpath":"//b5"},{"priority":2,"xpath":"//b2"},{"xpath":"//b-unranked"}]},
		{"devName":"first","xpathFix":[{"xpath":"//a"}]}
	]`
	out := newDecoder(t).Decode([]byte(raw), []ElementRequest{{ID: "1", DevName: "first"}, {ID: "2", DevName: "second"}})

	assert.Equal(t, "//a", out[0].Candidates[0].XPath)
	require.Len(t, out[1].Candidates, 3)
	assert.Equal(t, "//b2", out[1].Candidates[0].XPath)
	assert.Equal(t, "//b-unranked", out[1].Candidates[1].XPath)
	assert.Equal(t, "//b5", out[1].Candidates[2].XPath)
	for i, c := range out[1].Candidates {
		assert.Equal(t, i, c.Priority)
	}
}

func TestDecodePositionalFallback(t *testing.T) {
	raw := `[{"xpathFix":[{"xpath":"//one"}]},{"xpathFix":[{"xpath":"//two"}]}]`
	out := newDecoder(t).Decode([]byte(raw), []ElementRequest{{ID: "1", DevName: "x"}, {ID: "2", DevName: "y"}})
	assert.Equal(t, "//one", out[0].Candidates[0].XPath)
	assert.Equal(t, "//two", out[1].Candidates[0].XPath)
}

// echoClient answers every element with a single candidate derived from its devName.
type echoClient struct {
	mu       sync.Mutex
	calls    []int
	failures int
}

func (c *echoClient) Repair(_ context.Context, req Request) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, len(req.Elements))
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("model overloaded")
	}
	var els []map[string]interface{}
	for _, e := range req.Elements {
		els = append(els, map[string]interface{}{
			"devName":  e.DevName,
			"xpathFix": []map[string]interface{}{{"priority": 0, "xpath": "//node[@resource-id='" + e.DevName + "']", "confidence": "High"}},
		})
	}
	return json.Marshal(map[string]interface{}{"elements": els})
}

func fastOptions() RunnerOptions {
	return RunnerOptions{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func readyGroup(n int) *Group {
	g := &Group{Key: GroupKey{"login", core.PlatformAndroid}, Status: StatusReady, XML: loginXML}
	for i := 0; i < n; i++ {
		g.Elements = append(g.Elements, ElementRequest{ID: fmt.Sprint(i), DevName: fmt.Sprintf("el%d", i)})
	}
	return g
}

func TestRunnerChunks(t *testing.T) {
	client := &echoClient{}
	g := readyGroup(25)
	skipped := &Group{Status: StatusMissingStateData, Elements: []ElementRequest{{ID: "x"}}}

	NewRunner(client, newDecoder(t), fastOptions()).Run(context.Background(), []*Group{g, skipped})

	assert.Equal(t, []int{10, 10, 5}, client.calls)
	assert.Equal(t, StatusComplete, g.Status)
	require.Len(t, g.Repairs, 25)
	assert.Equal(t, "24", g.Repairs[24].ElementID)
	assert.Equal(t, "//node[@resource-id='el24']", g.Repairs[24].Candidates[0].XPath)
	assert.Equal(t, StatusMissingStateData, skipped.Status)
	assert.Empty(t, skipped.Repairs)
}

func TestRunnerRetriesThenSucceeds(t *testing.T) {
	client := &echoClient{failures: 2}
	g := readyGroup(3)

	NewRunner(client, newDecoder(t), fastOptions()).Run(context.Background(), []*Group{g})

	assert.Len(t, client.calls, 3)
	assert.Equal(t, StatusComplete, g.Status)
	assert.False(t, g.Repairs[0].Placeholder)
}

func TestRunnerExhaustedRetriesYieldPlaceholders(t *testing.T) {
	client := &echoClient{failures: 100}
	g := readyGroup(12)

	NewRunner(client, newDecoder(t), fastOptions()).Run(context.Background(), []*Group{g})

	// 4 attempts per chunk, two chunks.
	assert.Len(t, client.calls, 8)
	assert.Equal(t, StatusComplete, g.Status)
	require.Len(t, g.Repairs, 12)
	for _, r := range g.Repairs {
		assert.True(t, r.Placeholder)
		require.Len(t, r.Candidates, 3)
		for _, c := range r.Candidates {
			assert.Equal(t, core.SentinelXPath, c.XPath)
			assert.Equal(t, core.ConfidenceLow, c.Confidence)
		}
	}
}

func TestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := readyGroup(2)

	NewRunner(&echoClient{}, newDecoder(t), fastOptions()).Run(ctx, []*Group{g})
	assert.Equal(t, StatusError, g.Status)
	assert.ErrorIs(t, g.Err, context.Canceled)
}

func TestRunnerConcurrentGroups(t *testing.T) {
	client := &echoClient{}
	groups := []*Group{readyGroup(3), readyGroup(4), readyGroup(5)}
	opts := fastOptions()
	opts.Concurrency = 3

	NewRunner(client, newDecoder(t), opts).Run(context.Background(), groups)
	for _, g := range groups {
		assert.Equal(t, StatusComplete, g.Status)
		assert.Len(t, g.Repairs, len(g.Elements))
	}
	assert.Len(t, client.calls, 3)
}

func repairOf(xpaths ...string) ElementRepair {
	r := ElementRepair{ElementID: "1", DevName: "signin"}
	for i, x := range xpaths {
		r.Candidates = append(r.Candidates, core.RepairCandidate{Priority: i, XPath: x, Confidence: core.ConfidenceMedium})
	}
	return r
}

func completeGroup(xml string, repairs ...ElementRepair) *Group {
	return &Group{Key: GroupKey{"login", core.PlatformAndroid}, Status: StatusComplete, XML: xml, Repairs: repairs}
}

func TestPromoteAcceptsPrimaryWithoutCheckingCount(t *testing.T) {
	g := completeGroup(loginXML, repairOf("//node[@text='Nope']", "//node[@text='Sign in']"))
	NewValidator(nil).Promote(g)

	r := g.Repairs[0]
	assert.Equal(t, OutcomeAccepted, r.Outcome)
	assert.Equal(t, "//node[@text='Nope']", r.Candidates[0].XPath)
	assert.True(t, r.Candidates[0].Validated)
	assert.Equal(t, 0, r.Result.NumberOfMatches)
}

func TestPromoteSwapsWithFirstWorkingAlternative(t *testing.T) {
	g := completeGroup(loginXML, repairOf("//node[", "//node[@text=", "//node[@text='Sign in']", "//node"))
	NewValidator(nil).Promote(g)

	r := g.Repairs[0]
	assert.Equal(t, OutcomePromoted, r.Outcome)
	assert.Equal(t, "//node[@text='Sign in']", r.Candidates[0].XPath)
	assert.Equal(t, 0, r.Candidates[0].Priority)
	assert.Equal(t, "//node[", r.Candidates[2].XPath)
	assert.Equal(t, 2, r.Candidates[2].Priority)
	assert.Equal(t, "//node[@text=", r.Candidates[1].XPath)
	assert.Equal(t, 1, r.Result.NumberOfMatches)
}

func TestPromotePriorityOneAlternative(t *testing.T) {
	g := completeGroup(loginXML, repairOf("//*[", "//node[@resource-id='user']"))
	NewValidator(nil).Promote(g)

	r := g.Repairs[0]
	assert.Equal(t, "//node[@resource-id='user']", r.Candidates[0].XPath)
	assert.Equal(t, 0, r.Candidates[0].Priority)
	assert.Equal(t, "//*[", r.Candidates[1].XPath)
	assert.Equal(t, 1, r.Candidates[1].Priority)
}

func TestPromoteFallsBackToSentinel(t *testing.T) {
	g := completeGroup(loginXML, repairOf("//node[", "//node[@a=", "//*["))
	NewValidator(nil).Promote(g)

	r := g.Repairs[0]
	assert.Equal(t, OutcomeFallback, r.Outcome)
	assert.Equal(t, core.SentinelXPath, r.Candidates[0].XPath)
	assert.Equal(t, core.ConfidenceLow, r.Candidates[0].Confidence)
	assert.NotEmpty(t, r.Candidates[0].Note)
}

func TestPromoteUnparseableXML(t *testing.T) {
	g := completeGroup("<hierarchy><node", repairOf("//node"))
	NewValidator(nil).Promote(g)
	assert.Equal(t, OutcomeFallback, g.Repairs[0].Outcome)
	assert.Equal(t, core.SentinelXPath, g.Repairs[0].Candidates[0].XPath)
}

type countEvaluator map[string]int

func (c countEvaluator) EvaluateExpression(expr string, _ core.Platform) core.EvaluationResult {
	n, found := c[expr]
	if !found {
		return core.EvaluationResult{XPathExpression: expr, Error: "invalid"}
	}
	return ok(expr, n)
}

func TestSelectAlternative(t *testing.T) {
	ev := countEvaluator{"//zero": 0, "//one": 1, "//three": 3, "//two": 2, core.SentinelXPath: 0}
	cands := func(xs ...string) []core.RepairCandidate {
		var out []core.RepairCandidate
		for i, x := range xs {
			out = append(out, core.RepairCandidate{Priority: i, XPath: x})
		}
		return out
	}

	tests := []struct {
		name     string
		alts     []core.RepairCandidate
		want     string
		fallback bool
	}{
		{"exactly one beats many", cands("//zero", "//one", "//three"), "//one", false},
		{"one later in list", cands("//three", "//zero", "//one"), "//one", false},
		{"first of many", cands("//zero", "//three", "//two"), "//three", false},
		{"errors skipped", cands("//broken", "//two"), "//two", false},
		{"nothing matches", cands("//zero", "//broken"), core.SentinelXPath, true},
		{"empty", nil, core.SentinelXPath, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := SelectAlternative(ev, core.PlatformAndroid, tt.alts)
			assert.Equal(t, tt.want, sel.Candidate.XPath)
			assert.Equal(t, tt.fallback, sel.Fallback)
		})
	}
}

func TestMerge(t *testing.T) {
	locs := []core.Locator{
		{ID: "1", StateID: "login", Platform: core.PlatformAndroid, XPath: ok("//old", 0)},
		{ID: "2", StateID: "login", Platform: core.PlatformAndroid, XPath: ok("//fine", 1)},
		{ID: "1", StateID: "login", Platform: core.PlatformIOS, XPath: ok("//old", 0)},
	}
	r := repairOf("//new", "//alt1", "//alt2")
	r.Outcome = OutcomeAccepted
	r.Result = ok("//new", 1)
	skipped := &Group{Key: GroupKey{"login", core.PlatformIOS}, Status: StatusMissingPlatformVersion}

	out := Merge(locs, []*Group{completeGroup(loginXML, r), skipped})

	assert.Equal(t, "//new", out[0].Expression())
	assert.Equal(t, 1, out[0].XPath.NumberOfMatches)
	assert.Equal(t, "//old", out[0].OriginalXPath)
	require.Len(t, out[0].AlternativeXPaths, 2)
	assert.Equal(t, "//alt1", out[0].AlternativeXPaths[0].XPath)

	assert.Equal(t, locs[1], out[1])
	assert.Equal(t, "//old", out[2].Expression())
	assert.Empty(t, out[2].OriginalXPath)
	assert.Equal(t, "//old", locs[0].Expression(), "input must not change")
}

func TestPipelineEndToEnd(t *testing.T) {
	var calls int
	client := ClientFunc(func(_ context.Context, req Request) ([]byte, error) {
		calls++
		assert.Equal(t, "login.png", req.Screenshot)
		return []byte(`[{"devName":"signin","xpathFix":[
			{"priority":0,"xpath":"//node[","confidence":"High"},
			{"priority":1,"xpath":"//node[@text='Sign in']","confidence":"Medium"},
			{"priority":2,"xpath":"//node[@class='android.widget.Button']","confidence":"Low"}]}]`), nil
	})

	p := NewPipeline(NewRunner(client, newDecoder(t), fastOptions()), NewValidator(nil))
	locs := []core.Locator{
		{StateID: "login", Platform: core.PlatformAndroid, DevName: "signin", XPath: ok("//node[@text='Login']", 0)},
		{ID: "ok", StateID: "login", Platform: core.PlatformAndroid, XPath: ok("//node[1]", 1)},
		{ID: "orphan", StateID: "missing", Platform: core.PlatformAndroid, XPath: ok("//x", 0)},
	}

	report, merged, err := p.Run(context.Background(), testPage(), locs)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, report.RunID, 26)
	assert.Equal(t, 2, report.Failing)
	assert.Equal(t, 1, report.Repaired)
	require.Len(t, report.Groups, 2)
	assert.Equal(t, 1, report.Groups[0].Promoted)
	assert.Equal(t, StatusMissingStateData, report.Groups[1].Status)
	assert.Contains(t, report.Summary(), "1 repaired")

	require.Len(t, merged, 3)
	assert.NotEmpty(t, merged[0].ID)
	assert.Equal(t, "//node[@text='Sign in']", merged[0].Expression())
	assert.Equal(t, "//node[@text='Login']", merged[0].OriginalXPath)
	assert.Equal(t, 1, merged[0].XPath.NumberOfMatches)
	require.Len(t, merged[0].AlternativeXPaths, 2)
	assert.Equal(t, "//node[", merged[0].AlternativeXPaths[0].XPath)
	assert.Equal(t, "//x", merged[2].Expression())
	assert.Empty(t, locs[0].ID)
}

func TestHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Platform == core.PlatformIOS {
			http.Error(w, "unsupported", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL+"/", "secret", time.Second)
	body, err := c.Repair(context.Background(), Request{Platform: core.PlatformAndroid})
	require.NoError(t, err)
	assert.JSONEq(t, `{"elements":[]}`, string(body))

	_, err = c.Repair(context.Background(), Request{Platform: core.PlatformIOS})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRepairClient)
	assert.Contains(t, err.Error(), "503")
}
