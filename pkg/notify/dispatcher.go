package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/xpath-healer/pkg/clock"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// Listener receives delivered events. A returned error or a panic is logged
// and does not stop delivery to later listeners.
type Listener func(Event) error

// PublishOptions control a single publish.
type PublishOptions struct {
	// Immediate delivers on the caller's stack instead of the next frame.
	Immediate bool
	// BypassDebounce skips the per-key debounce window.
	BypassDebounce bool
}

// Windows holds the debounce and suppression durations.
type Windows struct {
	Highlights         time.Duration
	EvaluationComplete time.Duration
	Default            time.Duration
	Redundant          time.Duration
	Frame              time.Duration
}

// DefaultWindows returns the stock timings.
func DefaultWindows() Windows {
	return Windows{
		Highlights:         100 * time.Millisecond,
		EvaluationComplete: 50 * time.Millisecond,
		Default:            30 * time.Millisecond,
		Redundant:          300 * time.Millisecond,
		Frame:              16 * time.Millisecond,
	}
}

type subscriber struct {
	id int
	fn Listener
}

type lastUpdate struct {
	matches int
	at      time.Time
}

// Dispatcher is a listener registry with debounced, frame-batched delivery.
type Dispatcher struct {
	clock   clock.Clock
	windows Windows

	mu        sync.Mutex
	subs      []subscriber
	nextID    int
	published map[debounceKey]time.Time
	recent    map[string]lastUpdate // elementID -> last accepted evaluationComplete
	queue     []Event
	frame     clock.Task
	closed    bool
}

// NewDispatcher creates a dispatcher. Zero fields in w fall back to DefaultWindows.
func NewDispatcher(c clock.Clock, w Windows) *Dispatcher {
	if c == nil {
		c = clock.Real{}
	}
	def := DefaultWindows()
	if w.Highlights <= 0 {
		w.Highlights = def.Highlights
	}
	if w.EvaluationComplete <= 0 {
		w.EvaluationComplete = def.EvaluationComplete
	}
	if w.Default <= 0 {
		w.Default = def.Default
	}
	if w.Redundant <= 0 {
		w.Redundant = def.Redundant
	}
	if w.Frame <= 0 {
		w.Frame = def.Frame
	}
	return &Dispatcher{
		clock:     c,
		windows:   w,
		published: make(map[debounceKey]time.Time),
		recent:    make(map[string]lastUpdate),
	}
}

// Subscribe registers l and returns a function that removes it.
func (d *Dispatcher) Subscribe(l Listener) (unsubscribe func()) {
	if l == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscriber{id: id, fn: l})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish accepts evt for delivery. It returns false when the event was
// dropped by debouncing or redundant-update suppression.
func (d *Dispatcher) Publish(evt Event, opts PublishOptions) bool {
	if evt == nil {
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	now := d.clock.Now()

	if !d.acceptLocked(evt, opts, now) {
		d.mu.Unlock()
		return false
	}

	if opts.Immediate {
		d.mu.Unlock()
		d.deliver(evt)
		return true
	}

	d.queue = append(d.queue, evt)
	if d.frame == nil {
		d.frame = d.clock.AfterFunc(d.windows.Frame, d.Flush)
	}
	d.mu.Unlock()
	return true
}

func (d *Dispatcher) acceptLocked(evt Event, opts PublishOptions, now time.Time) bool {
	if ec, ok := evt.(EvaluationComplete); ok && ec.ElementID != "" {
		last, seen := d.recent[ec.ElementID]
		if ec.Source == SourceHighlighter && seen &&
			last.matches == ec.Result.NumberOfMatches &&
			now.Sub(last.at) < d.windows.Redundant {
			logger.Debug("notify: redundant highlighter update for %s dropped", ec.ElementID)
			return false
		}
	}

	key := evt.debounceKey()
	if !opts.BypassDebounce {
		if at, ok := d.published[key]; ok && now.Sub(at) < d.window(evt.Type()) {
			logger.Debug("notify: %s for %s debounced", key.eventType, key.elementID)
			return false
		}
	}
	d.published[key] = now
	d.pruneLocked(now)

	if ec, ok := evt.(EvaluationComplete); ok && ec.ElementID != "" {
		d.recent[ec.ElementID] = lastUpdate{matches: ec.Result.NumberOfMatches, at: now}
	}
	return true
}

func (d *Dispatcher) window(t EventType) time.Duration {
	switch t {
	case TypeHighlightsChanged:
		return d.windows.Highlights
	case TypeEvaluationComplete:
		return d.windows.EvaluationComplete
	default:
		return d.windows.Default
	}
}

// pruneLocked drops bookkeeping older than every window.
func (d *Dispatcher) pruneLocked(now time.Time) {
	if len(d.published) < 256 && len(d.recent) < 256 {
		return
	}
	horizon := d.windows.Redundant
	for _, w := range []time.Duration{d.windows.Highlights, d.windows.EvaluationComplete, d.windows.Default} {
		if w > horizon {
			horizon = w
		}
	}
	for k, at := range d.published {
		if now.Sub(at) >= horizon {
			delete(d.published, k)
		}
	}
	for k, u := range d.recent {
		if now.Sub(u.at) >= horizon {
			delete(d.recent, k)
		}
	}
}

// Flush delivers every queued event now.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	if d.frame != nil {
		d.frame.Stop()
		d.frame = nil
	}
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, evt := range pending {
		d.deliver(evt)
	}
}

// Pending returns the number of queued events awaiting the next frame.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close drops queued events and rejects further publishes.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.queue = nil
	if d.frame != nil {
		d.frame.Stop()
		d.frame = nil
	}
}

func (d *Dispatcher) deliver(evt Event) {
	d.mu.Lock()
	subs := append([]subscriber(nil), d.subs...)
	d.mu.Unlock()

	for _, s := range subs {
		if err := invoke(s.fn, evt); err != nil {
			logger.Error("notify: listener %d failed on %s: %v", s.id, evt.Type(), err)
		}
	}
}

func invoke(fn Listener, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(evt)
}
