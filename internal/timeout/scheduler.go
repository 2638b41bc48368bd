// Package timeout keeps one deadline timer per order.
package timeout

import (
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

type entry struct {
	gen      uint64
	deadline time.Time
	timer    *clock.Timer
}

// Scheduler owns the armed timers of a single observer. Arming an order that
// is already armed replaces its timer. A fired entry is removed before its
// callback runs, and a callback never runs after Disarm returns for its
// entry.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	gen     uint64
	entries map[string]*entry
}

func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	return &Scheduler{clock: c, entries: make(map[string]*entry)}
}

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

func (s *Scheduler) Arm(orderID string, deadline time.Time, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[orderID]; ok {
		old.timer.Stop()
	}

	s.gen++
	gen := s.gen
	wait := deadline.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	e := &entry{gen: gen, deadline: deadline}
	e.timer = s.clock.AfterFunc(wait, func() {
		if !s.take(orderID, gen) {
			return
		}
		fire()
	})
	s.entries[orderID] = e
}

// take removes the entry for orderID if it is still generation gen.
func (s *Scheduler) take(orderID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[orderID]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.entries, orderID)
	return true
}

// Disarm stops the timer for orderID and reports whether one was armed.
func (s *Scheduler) Disarm(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[orderID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, orderID)
	return true
}

func (s *Scheduler) DisarmAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Scheduler) Armed(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[orderID]
	return ok
}

func (s *Scheduler) Deadline(orderID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[orderID]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Pending lists the armed order ids in sorted order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
