package engine

import (
	"sync"
	"time"

	"github.com/devicelab-dev/xpath-healer/pkg/clock"
	"github.com/devicelab-dev/xpath-healer/pkg/core"
	"github.com/devicelab-dev/xpath-healer/pkg/logger"
)

// ElementStatus is a point-in-time view of one element's lifecycle.
type ElementStatus struct {
	State     core.EvaluationState
	Recovery  core.RecoveryMethod
	StartedAt time.Time
}

type trackedElement struct {
	state     core.EvaluationState
	recovery  core.RecoveryMethod
	startedAt time.Time
	gen       uint64
	soft      clock.Task
	hard      clock.Task
}

// Tracker guards against duplicate concurrent evaluation of an element and
// recovers elements whose completion notification never arrives.
//
// Two timers are armed on Begin. The soft timer calls onSoft if the element
// is still evaluating. The hard timer clears the Evaluating flag no matter
// what the soft path did. A normal Complete or Fail cancels both.
type Tracker struct {
	clock  clock.Clock
	soft   time.Duration
	hard   time.Duration
	onSoft func(id string)

	mu       sync.Mutex
	gen      uint64
	elements map[string]*trackedElement
}

// NewTracker creates a Tracker. onSoft may be nil.
func NewTracker(c clock.Clock, soft, hard time.Duration, onSoft func(id string)) *Tracker {
	if c == nil {
		c = clock.Real{}
	}
	return &Tracker{
		clock:    c,
		soft:     soft,
		hard:     hard,
		onSoft:   onSoft,
		elements: make(map[string]*trackedElement),
	}
}

// Begin moves id into Evaluating. It returns false, changing nothing, when
// id is already evaluating.
func (t *Tracker) Begin(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.elements[id]
	if ok && el.state == core.StateEvaluating {
		return false
	}
	if !ok {
		el = &trackedElement{}
		t.elements[id] = el
	}
	stopTimers(el)

	t.gen++
	gen := t.gen
	el.state = core.StateEvaluating
	el.recovery = core.RecoveryNone
	el.startedAt = t.clock.Now()
	el.gen = gen
	el.soft = t.clock.AfterFunc(t.soft, func() { t.fireSoft(id, gen) })
	el.hard = t.clock.AfterFunc(t.hard, func() { t.fireHard(id, gen) })
	return true
}

// Complete records a normal completion and cancels both timers.
func (t *Tracker) Complete(id string) {
	t.finish(id, core.StateComplete)
}

// Fail records an error completion and cancels both timers.
func (t *Tracker) Fail(id string) {
	t.finish(id, core.StateError)
}

func (t *Tracker) finish(id string, state core.EvaluationState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.elements[id]
	if !ok || el.state != core.StateEvaluating {
		return
	}
	stopTimers(el)
	el.state = state
	el.recovery = core.RecoveryNone
}

// Recovered marks id complete after a self-fix. The hard timer stays armed.
func (t *Tracker) Recovered(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.elements[id]
	if !ok || el.state != core.StateEvaluating {
		return
	}
	if el.soft != nil {
		el.soft.Stop()
		el.soft = nil
	}
	el.state = core.StateComplete
	el.recovery = core.RecoverySelfFix
}

// Status returns the lifecycle view for id. Unknown ids are Idle.
func (t *Tracker) Status(id string) ElementStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.elements[id]
	if !ok {
		return ElementStatus{State: core.StateIdle}
	}
	return ElementStatus{State: el.state, Recovery: el.recovery, StartedAt: el.startedAt}
}

// IsEvaluating reports whether id is currently evaluating.
func (t *Tracker) IsEvaluating(id string) bool {
	return t.Status(id).State == core.StateEvaluating
}

// Evaluating returns the ids currently in flight.
func (t *Tracker) Evaluating() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, el := range t.elements {
		if el.state == core.StateEvaluating {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reset cancels every timer and forgets all elements.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, el := range t.elements {
		stopTimers(el)
	}
	t.elements = make(map[string]*trackedElement)
}

func (t *Tracker) fireSoft(id string, gen uint64) {
	t.mu.Lock()
	el, ok := t.elements[id]
	if !ok || el.gen != gen || el.state != core.StateEvaluating {
		t.mu.Unlock()
		return
	}
	el.soft = nil
	onSoft := t.onSoft
	t.mu.Unlock()

	logger.Warn("element %s still evaluating after %s, re-evaluating directly", id, t.soft)
	if onSoft != nil {
		onSoft(id)
	}
}

func (t *Tracker) fireHard(id string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.elements[id]
	if !ok || el.gen != gen {
		return
	}
	el.hard = nil
	if el.soft != nil {
		el.soft.Stop()
		el.soft = nil
	}
	if el.state != core.StateEvaluating {
		return
	}
	logger.Error("%v: element %s, clearing after %s", core.ErrStuckEvaluation, id, t.hard)
	el.state = core.StateIdle
	el.recovery = core.RecoveryEmergencyReset
}

func stopTimers(el *trackedElement) {
	if el.soft != nil {
		el.soft.Stop()
		el.soft = nil
	}
	if el.hard != nil {
		el.hard.Stop()
		el.hard = nil
	}
}
