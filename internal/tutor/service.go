package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pybuddy/internal/catalog"
	"pybuddy/internal/llm"
	"pybuddy/internal/metrics"
)

var ErrEmptyMessage = errors.New("message is empty")

// ProviderError is a failed chat completion. Its message is what the user sees.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return "API Error: " + e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

type Service struct {
	store   *Store
	catalog *catalog.Catalog
	clients llm.Factory
	timeout time.Duration
}

// NewService wires the session store to the character table and the LLM
// providers. A zero timeout leaves chat calls bounded only by the caller's context.
func NewService(store *Store, cat *catalog.Catalog, clients llm.Factory, timeout time.Duration) *Service {
	return &Service{store: store, catalog: cat, clients: clients, timeout: timeout}
}

func (s *Service) Store() *Store { return s.store }

// Start opens a session with the given character, or the default one when
// characterID is empty.
func (s *Service) Start(characterID string) (*Session, error) {
	ch, err := s.character(characterID)
	if err != nil {
		return nil, err
	}
	sess := s.store.Create(ch.ID)
	slog.Info("Session started", "session_id", sess.ID, "character", ch.ID)
	return sess, nil
}

func (s *Service) SelectCharacter(sessionID, characterID string) (*Session, error) {
	ch, err := s.catalog.Character(characterID)
	if err != nil {
		return nil, err
	}
	return s.store.SetCharacter(sessionID, ch.ID)
}

// Character returns the tutor currently selected in a session.
func (s *Service) Character(sess *Session) (catalog.Character, error) {
	return s.character(sess.CharacterID)
}

// Send runs one chat turn. The user message is appended before the provider
// call and removed again if the call fails, so a failed turn leaves the
// history unchanged.
func (s *Service) Send(ctx context.Context, sessionID string, sel llm.Selection, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	ch, err := s.character(sess.CharacterID)
	if err != nil {
		return "", err
	}
	client, err := s.clients.Client(sel)
	if err != nil {
		return "", err
	}

	userMsg := llm.Message{Role: llm.RoleUser, Content: text}
	sess, err = s.store.Append(sessionID, userMsg)
	if err != nil {
		return "", err
	}

	messages := make([]llm.Message, 0, len(sess.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: ch.Prompt})
	messages = append(messages, sess.Messages...)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := client.Chat(ctx, messages)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveChat(client.Name(), "error", elapsed)
		slog.Warn("Chat completion failed", "session_id", sessionID, "provider", client.Name(), "error", err)
		if rerr := s.store.RemoveLast(sessionID, userMsg); rerr != nil && !errors.Is(rerr, ErrSessionNotFound) {
			return "", errors.Join(&ProviderError{Provider: client.Name(), Err: err}, rerr)
		}
		return "", &ProviderError{Provider: client.Name(), Err: err}
	}
	metrics.ObserveChat(client.Name(), "ok", elapsed)

	if _, err := s.store.Append(sessionID, llm.Message{Role: llm.RoleAssistant, Content: reply}); err != nil {
		return "", fmt.Errorf("store reply: %w", err)
	}
	slog.Debug("Chat turn complete", "session_id", sessionID, "provider", client.Name(), "duration_ms", elapsed.Milliseconds())
	return reply, nil
}

func (s *Service) character(id string) (catalog.Character, error) {
	if id == "" {
		return s.catalog.DefaultCharacter()
	}
	return s.catalog.Character(id)
}
