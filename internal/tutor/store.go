// Package tutor keeps per-session tutoring state (selected character, page,
// chat history) and runs chat turns against an LLM provider.
//
// Sessions live in memory only and are lost on restart.
package tutor

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"pybuddy/internal/llm"
	"pybuddy/internal/metrics"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidPage     = errors.New("invalid page")
)

type Page string

const (
	PageHome       Page = "home"
	PageLearn      Page = "learn"
	PageChallenges Page = "challenges"
)

// ParsePage accepts the page names case-insensitively.
func ParsePage(s string) (Page, error) {
	switch p := Page(strings.ToLower(strings.TrimSpace(s))); p {
	case PageHome, PageLearn, PageChallenges:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPage, s)
}

type Session struct {
	ID          string        `json:"id"`
	CharacterID string        `json:"character"`
	Page        Page          `json:"page"`
	Messages    []llm.Message `json:"messages"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Messages = slices.Clone(s.Messages)
	if c.Messages == nil {
		c.Messages = []llm.Message{}
	}
	return &c
}

// Store is an in-memory session table. Every accessor returns a copy, so
// callers never share a Session with the store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (s *Store) Create(characterID string) *Session {
	now := s.now()
	sess := &Session{
		ID:          uuid.NewString(),
		CharacterID: characterID,
		Page:        PageHome,
		Messages:    []llm.Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(n)
	return sess.clone()
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.clone(), nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.SetActiveSessions(n)
	return nil
}

// SetCharacter switches the tutor and moves the session to the learn page.
// The chat history is kept.
func (s *Store) SetCharacter(id, characterID string) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.CharacterID = characterID
		sess.Page = PageLearn
	})
}

func (s *Store) SetPage(id string, page Page) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.Page = page
	})
}

// Append adds a message to the history and returns the session as it was
// right after the append.
func (s *Store) Append(id string, msg llm.Message) (*Session, error) {
	return s.update(id, func(sess *Session) {
		sess.Messages = append(sess.Messages, msg)
	})
}

// RemoveLast drops the most recent message equal to msg. It is a no-op when
// the session has no such message.
func (s *Store) RemoveLast(id string, msg llm.Message) error {
	_, err := s.update(id, func(sess *Session) {
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			if sess.Messages[i] == msg {
				sess.Messages = slices.Delete(sess.Messages, i, i+1)
				return
			}
		}
	})
	return err
}

// Sweep removes sessions idle for longer than ttl and returns how many were removed.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		metrics.SetActiveSessions(n)
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) update(id string, fn func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	fn(sess)
	sess.UpdatedAt = s.now()
	return sess.clone(), nil
}
