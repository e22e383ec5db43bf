// Package clock provides a cancellable delayed-task abstraction so timer
// driven behaviour can run against virtual time in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Task is a scheduled callback that can be cancelled before it fires.
type Task interface {
	// Stop cancels the task. It returns false if the task already fired
	// or was already stopped.
	Stop() bool
}

// Clock tells time and schedules delayed tasks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Task
}

// Real is the wall clock backed by time.AfterFunc.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc runs f in its own goroutine after d.
func (Real) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced clock. Tasks fire synchronously, in due-time
// order, on the goroutine that calls Advance.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   int
	tasks []*fakeTask
}

type fakeTask struct {
	clock   *Fake
	due     time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewFake returns a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the current virtual time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once virtual time reaches now+d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTask{clock: c, due: c.now.Add(d), seq: c.seq, fn: f}
	c.tasks = append(c.tasks, t)
	return t
}

// Advance moves virtual time forward by d, firing every task that becomes
// due. Tasks scheduled by a firing task run too if they fall inside the window.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.due.After(c.now) {
			c.now = next.due
		}
		next.fired = true
		c.removeLocked(next)
		c.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of tasks that have not fired or been stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

func (c *Fake) nextDueLocked(target time.Time) *fakeTask {
	if len(c.tasks) == 0 {
		return nil
	}
	sort.SliceStable(c.tasks, func(i, j int) bool {
		if c.tasks[i].due.Equal(c.tasks[j].due) {
			return c.tasks[i].seq < c.tasks[j].seq
		}
		return c.tasks[i].due.Before(c.tasks[j].due)
	})
	if c.tasks[0].due.After(target) {
		return nil
	}
	return c.tasks[0]
}

func (c *Fake) removeLocked(t *fakeTask) {
	for i, cur := range c.tasks {
		if cur == t {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			return
		}
	}
}

// Stop cancels the task.
func (t *fakeTask) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}
