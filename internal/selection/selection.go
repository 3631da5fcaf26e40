// Package selection keeps the employees fetched by each browser session and
// the rows selected in them. Everything lives in memory and is lost on
// restart.
package selection

import (
	"sort"
	"sync"
	"time"

	"github.com/zktools/zk-tools/models"
)

// DefaultIdle is how long an untouched session is kept.
const DefaultIdle = 12 * time.Hour

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type entry struct {
	employees []models.Employee
	selected  map[int]struct{}
}

type session struct {
	terminals map[string]*entry
	flashes   []Flash
	seen      time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	idle     time.Duration
	now      func() time.Time
}

// NewStore returns a store that forgets sessions idle for longer than idle.
func NewStore(idle time.Duration) *Store {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Store{
		sessions: make(map[string]*session),
		idle:     idle,
		now:      time.Now,
	}
}

func key(t models.Terminal) string {
	return t.Address()
}

// session returns the state for id, creating it. Callers hold s.mu.
func (s *Store) session(id string) *session {
	now := s.now()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{terminals: make(map[string]*entry)}
		s.sessions[id] = sess
		s.prune(now)
	}
	sess.seen = now
	return sess
}

func (s *Store) prune(now time.Time) {
	for id, sess := range s.sessions {
		if !sess.seen.IsZero() && now.Sub(sess.seen) > s.idle {
			delete(s.sessions, id)
		}
	}
}

func cloneEmployees(in []models.Employee) []models.Employee {
	out := make([]models.Employee, len(in))
	copy(out, in)
	return out
}

// Employees returns the cached employees for a terminal and whether anything
// was cached.
func (s *Store) Employees(id string, t models.Terminal) ([]models.Employee, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.session(id).terminals[key(t)]
	if !ok {
		return nil, false
	}
	return cloneEmployees(e.employees), true
}

// SetEmployees replaces the cache for a terminal and clears its selection.
func (s *Store) SetEmployees(id string, t models.Terminal, employees []models.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session(id).terminals[key(t)] = &entry{
		employees: cloneEmployees(employees),
		selected:  make(map[int]struct{}),
	}
}

// Select replaces the selection with the given uids. Uids that are not in
// the cache are ignored. It returns the number of rows now selected.
func (s *Store) Select(id string, t models.Terminal, uids []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.session(id).terminals[key(t)]
	if !ok {
		return 0
	}
	known := make(map[int]bool, len(e.employees))
	for _, emp := range e.employees {
		known[emp.UID] = true
	}
	e.selected = make(map[int]struct{}, len(uids))
	for _, uid := range uids {
		if known[uid] {
			e.selected[uid] = struct{}{}
		}
	}
	return len(e.selected)
}

// Selected returns the selected uids in ascending order.
func (s *Store) Selected(id string, t models.Terminal) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []int{}
	if e, ok := s.session(id).terminals[key(t)]; ok {
		for uid := range e.selected {
			out = append(out, uid)
		}
	}
	sort.Ints(out)
	return out
}

// SelectedEmployees returns the selected cached employees in cache order.
func (s *Store) SelectedEmployees(id string, t models.Terminal) []models.Employee {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Employee{}
	e, ok := s.session(id).terminals[key(t)]
	if !ok {
		return out
	}
	for _, emp := range e.employees {
		if _, sel := e.selected[emp.UID]; sel {
			out = append(out, emp)
		}
	}
	return out
}

// Remove drops the given uids from both the cache and the selection.
func (s *Store) Remove(id string, t models.Terminal, uids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.session(id).terminals[key(t)]
	if !ok {
		return
	}
	drop := make(map[int]bool, len(uids))
	for _, uid := range uids {
		drop[uid] = true
		delete(e.selected, uid)
	}
	kept := e.employees[:0]
	for _, emp := range e.employees {
		if !drop[emp.UID] {
			kept = append(kept, emp)
		}
	}
	e.employees = kept
}

// Clear forgets the cache and selection of one terminal and returns how many
// employees were dropped.
func (s *Store) Clear(id string, t models.Terminal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(id)
	e, ok := sess.terminals[key(t)]
	if !ok {
		return 0
	}
	delete(sess.terminals, key(t))
	return len(e.employees)
}

// ClearAll forgets every terminal of the session.
func (s *Store) ClearAll(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session(id).terminals = make(map[string]*entry)
}

// AddFlash queues a message for the next page of the session.
func (s *Store) AddFlash(id, level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(id)
	sess.flashes = append(sess.flashes, Flash{Level: level, Message: message})
}

// Flashes returns and clears the queued messages.
func (s *Store) Flashes(id string) []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(id)
	out := sess.flashes
	sess.flashes = nil
	return out
}
