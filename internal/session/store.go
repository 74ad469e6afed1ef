// Package session keeps per-conversation guard state in memory and serializes
// turns within each session.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
)

var (
	// ErrBusy is returned when a session is still processing a prior turn.
	ErrBusy = errors.New("still processing")
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")
	// ErrNotOwner is returned when a session id belongs to another operator.
	ErrNotOwner = errors.New("session belongs to another operator")
)

type entry struct {
	mu   sync.Mutex
	sess *domain.Session
}

// Store owns every live session. Sessions are independent; one turn at a
// time may hold a given session.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Lease is exclusive access to one session for the duration of a turn.
type Lease struct {
	Session *domain.Session

	store *Store
	e     *entry
	once  sync.Once
}

// Release records activity and hands the session to the next turn.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.Session.LastActivity = l.store.now()
		l.e.mu.Unlock()
	})
}

// Acquire takes the session id for one turn, creating it on first use.
// A session already held by another turn yields ErrBusy; callers reject
// the new message rather than queue it.
func (s *Store) Acquire(id, operator string) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		sess := domain.NewSession(id, s.now())
		sess.Operator = operator
		e = &entry{sess: sess}
		s.entries[id] = e
	}
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	if operator != "" && e.sess.Operator != "" && e.sess.Operator != operator {
		e.mu.Unlock()
		return nil, ErrNotOwner
	}
	if e.sess.Operator == "" {
		e.sess.Operator = operator
	}
	return &Lease{Session: e.sess, store: s, e: e}, nil
}

// Snapshot returns a deep copy of an idle session's state. The copy stays
// valid after later turns change the session.
func (s *Store) Snapshot(id, operator string) (domain.Session, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, ErrNotFound
	}
	if !e.mu.TryLock() {
		s.mu.Unlock()
		return domain.Session{}, ErrBusy
	}
	s.mu.Unlock()
	defer e.mu.Unlock()

	if operator != "" && e.sess.Operator != "" && e.sess.Operator != operator {
		return domain.Session{}, ErrNotOwner
	}
	cp := *e.sess
	cp.Turns = append([]domain.Turn(nil), e.sess.Turns...)
	cp.Pending = e.sess.Pending.Clone()
	cp.Vision = e.sess.Vision.Clone()
	return cp, nil
}

// Delete drops a session and any pending action it held.
func (s *Store) Delete(id, operator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()
	if operator != "" && e.sess.Operator != "" && e.sess.Operator != operator {
		return ErrNotOwner
	}
	delete(s.entries, id)
	return nil
}

// Sweep removes sessions idle for longer than ttl and returns their ids.
// Sessions in the middle of a turn are never swept.
func (s *Store) Sweep(ttl time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-ttl)
	var expired []string
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.sess.LastActivity.Before(cutoff) {
			delete(s.entries, id)
			expired = append(expired, id)
		}
		e.mu.Unlock()
	}
	return expired
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
