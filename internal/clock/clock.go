package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock отдаёт текущее время и планирует отложенные вызовы
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer - отменяемый отложенный вызов
type Timer interface {
	Stop() bool
}

type clock struct{}

// New возвращает часы на основе пакета time
func New() Clock {
	return &clock{}
}

func (c *clock) Now() time.Time {
	return time.Now().UTC()
}

func (c *clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManagedClock управляется вручную и предназначен для тестов.
// Отложенные вызовы выполняются синхронно внутри WarpForward.
type ManagedClock struct {
	mu        sync.Mutex
	startTime time.Time
	offset    time.Duration
	timers    []*managedTimer
}

type managedTimer struct {
	clock   *ManagedClock
	due     time.Time
	f       func()
	stopped bool
	fired   bool
}

func NewManaged(startTime time.Time) *ManagedClock {
	return &ManagedClock{startTime: startTime}
}

func (c *ManagedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime.Add(c.offset)
}

func (c *ManagedClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &managedTimer{clock: c, due: c.startTime.Add(c.offset + d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// WarpForward сдвигает время вперёд и выполняет все наступившие вызовы по порядку
func (c *ManagedClock) WarpForward(offset time.Duration) time.Time {
	c.mu.Lock()
	c.offset += offset
	now := c.startTime.Add(c.offset)

	var due []*managedTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.due.After(now):
			t.fired = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, t := range due {
		t.f()
	}
	return now
}

// PendingTimers возвращает количество запланированных и не отменённых вызовов
func (c *ManagedClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *managedTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
