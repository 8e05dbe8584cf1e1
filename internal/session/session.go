// Package session holds the identity a device is currently signed in as and
// tells interested components when it changes.
package session

import (
	"slices"
	"sync"
)

// Change describes one identity transition. An empty id means signed out.
type Change struct {
	Previous string
	Current  string
}

type Session struct {
	mu     sync.Mutex
	userID string
	subs   map[uint64]func(Change)
	nextID uint64
}

func New(userID string) *Session {
	return &Session{
		userID: userID,
		subs:   make(map[uint64]func(Change)),
	}
}

func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) SignIn(userID string) {
	s.set(userID)
}

func (s *Session) SignOut() {
	s.set("")
}

// Subscribe registers fn for identity changes. The returned function
// removes it and is safe to call more than once.
func (s *Session) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// set notifies subscribers outside the lock, in subscription order, and only
// when the identity actually changed.
func (s *Session) set(userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	change := Change{Previous: s.userID, Current: userID}
	s.userID = userID

	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
