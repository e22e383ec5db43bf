// Package engine keeps the active page source, a read-through evaluation
// cache, the highlighted node set and per-element evaluation lifecycles, and
// notifies listeners of every change.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devicelab-dev/xpath-healer/pkg/clock"
	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
	"github.com/devicelab-dev/xpath-healer/pkg/notify"
	"github.com/devicelab-dev/xpath-healer/pkg/xpath"
)

// Default recovery timings.
const (
	DefaultSoftRecovery = 1 * time.Second
	DefaultHardRecovery = 3 * time.Second
)

// Options configures an Engine. Zero values take defaults.
type Options struct {
	Parser       xpath.Parser
	Clock        clock.Clock
	Windows      notify.Windows
	SoftRecovery time.Duration
	HardRecovery time.Duration
}

// EvaluateOptions control a single Evaluate call.
type EvaluateOptions struct {
	// ElementID enables duplicate suppression and stuck-state recovery for
	// the element. Empty means an anonymous, untracked evaluation.
	ElementID string
	// PlatformOverride replaces the context platform for key and geometry.
	PlatformOverride core.Platform
	// Highlight replaces the highlighted node set with the result.
	Highlight bool
	// Force drops the cached entry for this key before evaluating.
	Force bool
	// Immediate delivers notifications on the caller's stack.
	Immediate bool
}

// Highlights is the currently highlighted node set.
type Highlights struct {
	Expression string
	Platform   core.Platform
	Nodes      []core.MatchedNode
}

type pageContext struct {
	source     string
	stateID    string
	platform   core.Platform
	doc        xpath.Document
	generation uint64
}

type pendingRequest struct {
	expression string
	platform   core.Platform
}

// Engine evaluates XPath expressions against a single active page source.
type Engine struct {
	parser     xpath.Parser
	clock      clock.Clock
	cache      *cache
	tracker    *Tracker
	dispatcher *notify.Dispatcher
	flight     singleflight.Group
	unsubTrack func()

	mu         sync.RWMutex
	ctx        pageContext
	highlights Highlights
	pending    map[string]pendingRequest
}

// New creates an Engine with no page source loaded.
func New(opts Options) *Engine {
	if opts.Parser == nil {
		opts.Parser = xpath.NewParser()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.SoftRecovery <= 0 {
		opts.SoftRecovery = DefaultSoftRecovery
	}
	if opts.HardRecovery <= 0 {
		opts.HardRecovery = DefaultHardRecovery
	}

	e := &Engine{
		parser:     opts.Parser,
		clock:      opts.Clock,
		cache:      newCache(),
		dispatcher: notify.NewDispatcher(opts.Clock, opts.Windows),
		pending:    make(map[string]pendingRequest),
	}
	e.tracker = NewTracker(opts.Clock, opts.SoftRecovery, opts.HardRecovery, e.selfFix)
	// Registered first so lifecycle bookkeeping runs before consumers see an event.
	e.unsubTrack = e.dispatcher.Subscribe(e.trackDelivery)
	return e
}

// Close cancels recovery timers and stops notification delivery.
func (e *Engine) Close() {
	e.unsubTrack()
	e.tracker.Reset()
	e.dispatcher.Close()
}

// Subscribe registers a listener for engine events.
func (e *Engine) Subscribe(l notify.Listener) (unsubscribe func()) {
	return e.dispatcher.Subscribe(l)
}

// Flush delivers queued notifications now.
func (e *Engine) Flush() {
	e.dispatcher.Flush()
}

// SetContext replaces the active page source. A source that fails to parse
// leaves the engine with no document; evaluations then return the
// no-document result. The cache and highlights are always cleared.
func (e *Engine) SetContext(source, stateID string, platform core.Platform) {
	e.mu.RLock()
	unchanged := e.ctx.source == source && e.ctx.stateID == stateID && e.ctx.platform == platform && e.ctx.doc != nil
	e.mu.RUnlock()
	if unchanged {
		return
	}

	doc, err := e.parser.Parse(source)
	if err != nil {
		logger.Warn("context %s/%s: %v", stateID, platform, err)
		doc = nil
	}

	e.mu.Lock()
	hadHighlights := len(e.highlights.Nodes) > 0
	e.ctx = pageContext{
		source:     source,
		stateID:    stateID,
		platform:   platform,
		doc:        doc,
		generation: e.cache.reset(),
	}
	e.highlights = Highlights{}
	e.mu.Unlock()

	logger.Info("context set: state=%s platform=%s parsed=%v", stateID, platform, doc != nil)
	e.dispatcher.Publish(notify.XMLChanged{StateID: stateID, Platform: platform, Parsed: doc != nil},
		notify.PublishOptions{Immediate: true, BypassDebounce: true})
	if hadHighlights {
		e.dispatcher.Publish(notify.HighlightsChanged{}, notify.PublishOptions{Immediate: true, BypassDebounce: true})
	}
}

// Source returns the active page source.
func (e *Engine) Source() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx.source
}

// StateID returns the active state identifier.
func (e *Engine) StateID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx.stateID
}

// Platform returns the active platform.
func (e *Engine) Platform() core.Platform {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx.platform
}

// HasDocument reports whether the active source parsed.
func (e *Engine) HasDocument() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ctx.doc != nil
}

// Evaluate evaluates expr against the active page source.
//
// Results are served from the cache when present. When opts.ElementID is
// already evaluating, the in-progress result (NumberOfMatches == -1) is
// returned and nothing is evaluated.
func (e *Engine) Evaluate(expr string, opts EvaluateOptions) core.EvaluationResult {
	platform := e.resolvePlatform(opts.PlatformOverride)

	if id := opts.ElementID; id != "" {
		if !e.tracker.Begin(id) {
			logger.Debug("element %s already evaluating, skipping %q", id, expr)
			return core.InProgressResult(expr, platform)
		}
		e.mu.Lock()
		e.pending[id] = pendingRequest{expression: expr, platform: platform}
		e.mu.Unlock()
	}

	res := e.lookup(expr, platform, opts.Force)
	if opts.Highlight {
		e.applyHighlights(res)
	}
	e.notifyResult(opts.ElementID, res, opts)
	return res
}

// EvaluateExpression is a cache-aware evaluation that neither tracks an
// element nor publishes notifications.
func (e *Engine) EvaluateExpression(expr string, platform core.Platform) core.EvaluationResult {
	return e.lookup(expr, e.resolvePlatform(platform), false)
}

// EvaluateLocators refreshes the XPath result of each locator and returns
// the updated copies in the same order.
func (e *Engine) EvaluateLocators(locators []core.Locator, immediate bool) []core.Locator {
	out := make([]core.Locator, len(locators))
	for i, loc := range locators {
		loc.XPath = e.Evaluate(loc.Expression(), EvaluateOptions{
			ElementID:        loc.ID,
			PlatformOverride: loc.Platform,
			Immediate:        immediate,
		})
		out[i] = loc
	}
	return out
}

// Invalidate drops the cached result for expr under the active state.
func (e *Engine) Invalidate(expr string, platform core.Platform) {
	platform = e.resolvePlatform(platform)
	e.mu.RLock()
	key := cacheKey{StateID: e.ctx.stateID, Platform: platform, Expression: expr}
	e.mu.RUnlock()
	e.cache.invalidate(key)
}

// ElementStatus returns the lifecycle state of an element.
func (e *Engine) ElementStatus(id string) ElementStatus {
	return e.tracker.Status(id)
}

// Highlights returns a copy of the highlighted node set.
func (e *Engine) Highlights() Highlights {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.highlights
	if h.Nodes != nil {
		h.Nodes = core.EvaluationResult{MatchingNodes: h.Nodes}.Clone().MatchingNodes
	}
	return h
}

// ClearHighlights empties the highlighted node set.
func (e *Engine) ClearHighlights() {
	e.mu.Lock()
	had := len(e.highlights.Nodes) > 0 || e.highlights.Expression != ""
	e.highlights = Highlights{}
	e.mu.Unlock()
	if had {
		e.dispatcher.Publish(notify.HighlightsChanged{}, notify.PublishOptions{})
	}
}

func (e *Engine) resolvePlatform(override core.Platform) core.Platform {
	if override != "" {
		return override
	}
	return e.Platform()
}

func (e *Engine) lookup(expr string, platform core.Platform, force bool) core.EvaluationResult {
	e.mu.RLock()
	doc, stateID, gen := e.ctx.doc, e.ctx.stateID, e.ctx.generation
	e.mu.RUnlock()

	if doc == nil || strings.TrimSpace(expr) == "" {
		return core.NoDocumentResult(expr, platform)
	}

	key := cacheKey{StateID: stateID, Platform: platform, Expression: expr}
	if force {
		e.cache.invalidate(key)
	}
	if res, ok := e.cache.get(key); ok {
		return res
	}
	return e.compute(gen, key, doc)
}

// compute evaluates key once even when several callers miss at the same time.
func (e *Engine) compute(gen uint64, key cacheKey, doc xpath.Document) core.EvaluationResult {
	v, _, _ := e.flight.Do(fmt.Sprintf("%d|%s", gen, key), func() (interface{}, error) {
		res := xpath.Evaluate(doc, key.Expression, key.Platform)
		if !e.cache.put(gen, key, res) {
			logger.Debug("discarding stale result for %s", key)
		}
		return res, nil
	})
	return v.(core.EvaluationResult).Clone()
}

func (e *Engine) applyHighlights(res core.EvaluationResult) {
	if !res.Success {
		e.ClearHighlights()
		return
	}
	h := Highlights{
		Expression: res.XPathExpression,
		Platform:   res.Platform,
		Nodes:      res.Clone().MatchingNodes,
	}
	e.mu.Lock()
	e.highlights = h
	e.mu.Unlock()
	e.dispatcher.Publish(notify.HighlightsChanged{
		Expression: h.Expression,
		Platform:   h.Platform,
		Nodes:      res.Clone().MatchingNodes,
	}, notify.PublishOptions{})
}

func (e *Engine) notifyResult(elementID string, res core.EvaluationResult, opts EvaluateOptions) {
	pub := notify.PublishOptions{Immediate: opts.Immediate}
	if !res.Success {
		e.dispatcher.Publish(notify.EvaluationError{ElementID: elementID, Result: res}, pub)
		return
	}
	e.dispatcher.Publish(notify.EvaluationComplete{
		ElementID: elementID,
		Source:    notify.SourceDirect,
		Result:    res,
	}, pub)
	if opts.Highlight && elementID != "" {
		e.dispatcher.Publish(notify.EvaluationComplete{
			ElementID: elementID,
			Source:    notify.SourceHighlighter,
			Result:    res,
		}, notify.PublishOptions{Immediate: opts.Immediate, BypassDebounce: true})
	}
}

// trackDelivery closes the lifecycle of an element once its normal
// completion or error notification is delivered.
func (e *Engine) trackDelivery(evt notify.Event) error {
	switch ev := evt.(type) {
	case notify.EvaluationComplete:
		if ev.ElementID == "" || ev.Source == notify.SourceSelfFix {
			return nil
		}
		e.tracker.Complete(ev.ElementID)
		e.dropPending(ev.ElementID)
	case notify.EvaluationError:
		if ev.ElementID == "" {
			return nil
		}
		e.tracker.Fail(ev.ElementID)
		e.dropPending(ev.ElementID)
	}
	return nil
}

// selfFix is the soft recovery path: evaluate directly, bypassing the cache,
// and publish the fresh result.
func (e *Engine) selfFix(id string) {
	e.mu.RLock()
	req, ok := e.pending[id]
	doc, stateID, gen := e.ctx.doc, e.ctx.stateID, e.ctx.generation
	e.mu.RUnlock()
	if !ok {
		e.tracker.Recovered(id)
		return
	}

	res := xpath.Evaluate(doc, req.expression, req.platform)
	if doc != nil && strings.TrimSpace(req.expression) != "" {
		e.cache.put(gen, cacheKey{StateID: stateID, Platform: req.platform, Expression: req.expression}, res)
	}

	logger.Info("self-fix for %s: %q -> %d matches", id, req.expression, res.NumberOfMatches)
	e.dispatcher.Publish(notify.EvaluationComplete{
		ElementID: id,
		Source:    notify.SourceSelfFix,
		Recovery:  core.RecoverySelfFix,
		Result:    res,
	}, notify.PublishOptions{Immediate: true, BypassDebounce: true})
	e.tracker.Recovered(id)
	e.dropPending(id)
}

func (e *Engine) dropPending(id string) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}
