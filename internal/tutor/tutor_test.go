package tutor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pybuddy/internal/catalog"
	"pybuddy/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	reply    string
	err      error
	received [][]llm.Message
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) Chat(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, messages)
	return f.reply, f.err
}

type fakeFactory struct {
	client *fakeClient
	err    error
	sel    llm.Selection
}

func (f *fakeFactory) Client(sel llm.Selection) (llm.ChatClient, error) {
	f.sel = sel
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newService(t *testing.T, client *fakeClient) (*Service, *fakeFactory) {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	f := &fakeFactory{client: client}
	return NewService(NewStore(), cat, f, time.Second), f
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	sess := s.Create("robot")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, PageHome, sess.Page)
	assert.Empty(t, sess.Messages)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	got, err = s.SetCharacter(sess.ID, "wizard")
	require.NoError(t, err)
	assert.Equal(t, "wizard", got.CharacterID)
	assert.Equal(t, PageLearn, got.Page)

	got, err = s.SetPage(sess.ID, PageChallenges)
	require.NoError(t, err)
	assert.Equal(t, PageChallenges, got.Page)

	require.NoError(t, s.Delete(sess.ID))
	_, err = s.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.Delete(sess.ID), ErrSessionNotFound)
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	sess := s.Create("robot")
	_, err := s.Append(sess.ID, llm.Message{Role: llm.RoleUser, Content: "hi"})
	require.NoError(t, err)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	got.Messages[0].Content = "changed"
	got.Page = PageChallenges

	again, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Messages[0].Content)
	assert.Equal(t, PageHome, again.Page)
}

func TestStoreRemoveLast(t *testing.T) {
	s := NewStore()
	sess := s.Create("robot")
	a := llm.Message{Role: llm.RoleUser, Content: "a"}
	b := llm.Message{Role: llm.RoleAssistant, Content: "b"}
	for _, m := range []llm.Message{a, b, a} {
		_, err := s.Append(sess.ID, m)
		require.NoError(t, err)
	}

	require.NoError(t, s.RemoveLast(sess.ID, a))
	got, _ := s.Get(sess.ID)
	assert.Equal(t, []llm.Message{a, b}, got.Messages)

	require.NoError(t, s.RemoveLast(sess.ID, llm.Message{Role: llm.RoleUser, Content: "missing"}))
	got, _ = s.Get(sess.ID)
	assert.Len(t, got.Messages, 2)
}

func TestStoreSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.now = func() time.Time { return now }

	old := s.Create("robot")
	now = now.Add(90 * time.Minute)
	fresh := s.Create("robot")
	now = now.Add(40 * time.Minute)

	assert.Equal(t, 1, s.Sweep(2*time.Hour))
	_, err := s.Get(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestParsePage(t *testing.T) {
	p, err := ParsePage("Challenges")
	require.NoError(t, err)
	assert.Equal(t, PageChallenges, p)

	_, err = ParsePage("settings")
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestStartUsesDefaultCharacter(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})

	sess, err := svc.Start("")
	require.NoError(t, err)
	assert.Equal(t, "robot", sess.CharacterID)

	_, err = svc.Start("pirate")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSelectCharacterMovesToLearn(t *testing.T) {
	svc, _ := newService(t, &fakeClient{})
	sess, err := svc.Start("robot")
	require.NoError(t, err)

	sess, err = svc.SelectCharacter(sess.ID, "dinosaur")
	require.NoError(t, err)
	assert.Equal(t, "dinosaur", sess.CharacterID)
	assert.Equal(t, PageLearn, sess.Page)

	_, err = svc.SelectCharacter(sess.ID, "pirate")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestSendAppendsTurn(t *testing.T) {
	client := &fakeClient{reply: "Beep-boop! A list holds items in order."}
	svc, f := newService(t, client)
	sess, err := svc.Start("robot")
	require.NoError(t, err)

	sel := llm.Selection{Provider: "deepseek", APIKey: "sk-user"}
	reply, err := svc.Send(context.Background(), sess.ID, sel, "What is a list?")
	require.NoError(t, err)
	assert.Equal(t, client.reply, reply)
	assert.Equal(t, sel, f.sel)

	require.Len(t, client.received, 1)
	sent := client.received[0]
	require.Len(t, sent, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content, "robot")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What is a list?"}, sent[1])

	got, err := svc.Store().Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "What is a list?"},
		{Role: llm.RoleAssistant, Content: client.reply},
	}, got.Messages)

	_, err = svc.Send(context.Background(), sess.ID, sel, "And a dict?")
	require.NoError(t, err)
	require.Len(t, client.received, 2)
	assert.Len(t, client.received[1], 4)
}

func TestSendRollsBackOnProviderError(t *testing.T) {
	client := &fakeClient{err: errors.New("Incorrect API key provided")}
	svc, _ := newService(t, client)
	sess, err := svc.Start("wizard")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), sess.ID, llm.Selection{}, "hello")
	require.Error(t, err)
	assert.Equal(t, "API Error: Incorrect API key provided", err.Error())

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "fake", perr.Provider)

	got, err := svc.Store().Get(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestSendErrors(t *testing.T) {
	svc, f := newService(t, &fakeClient{reply: "ok"})
	sess, err := svc.Start("")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), sess.ID, llm.Selection{}, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Send(context.Background(), "nope", llm.Selection{}, "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	f.err = llm.ErrMissingAPIKey
	_, err = svc.Send(context.Background(), sess.ID, llm.Selection{Provider: "openai"}, "hi")
	assert.ErrorIs(t, err, llm.ErrMissingAPIKey)

	got, _ := svc.Store().Get(sess.ID)
	assert.Empty(t, got.Messages)
}
