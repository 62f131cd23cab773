package app

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patient-assistant/internal/ai"
	"patient-assistant/internal/docstore"
	"patient-assistant/internal/generation"
	"patient-assistant/internal/history"
	"patient-assistant/internal/model"
	"patient-assistant/internal/retrieval"
	"patient-assistant/internal/session"
)

type echoGenerator struct {
	mu    sync.Mutex
	reply string
	seen  []ai.ChatMessage

	// gate, when set, holds the stream after its first token until closed.
	gate chan struct{}
}

func (g *echoGenerator) Generate(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = messages
	return g.reply, nil
}

func (g *echoGenerator) GenerateStream(ctx context.Context, messages []ai.ChatMessage, onToken func(string) error) (string, error) {
	g.mu.Lock()
	g.seen = messages
	reply := g.reply
	gate := g.gate
	g.mu.Unlock()
	for i, word := range strings.SplitAfter(reply, " ") {
		if err := onToken(word); err != nil {
			return "", err
		}
		if i == 0 && gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return reply, nil
}

type staticRetriever struct{ text string }

func (r staticRetriever) GetContext(ctx context.Context, query string) (string, []retrieval.Attribution) {
	if r.text == "" {
		return "", nil
	}
	return r.text, []retrieval.Attribution{{SourceLabel: "kb", Kind: retrieval.KindLocalMatch}}
}

type chatFixture struct {
	svc      *ChatService
	gen      *echoGenerator
	sessions *session.Store
	history  *history.Store
	profiles *ProfileService
}

func newChatFixture(retrieved string) *chatFixture {
	docs := docstore.NewMemoryStore()
	logger := zap.NewNop()
	hist := history.NewStore(docs, nil, logger)
	sessions := session.NewStore(session.Config{WindowSize: 8}, hist, logger)
	gen := &echoGenerator{reply: "Y"}
	coord := generation.NewCoordinator(gen, hist, generation.Config{}, logger)
	profiles := NewProfileService(docs, logger)
	return &chatFixture{
		svc:      NewChatService(sessions, staticRetriever{text: retrieved}, profiles, coord, hist, logger),
		gen:      gen,
		sessions: sessions,
		history:  hist,
		profiles: profiles,
	}
}

func TestSendMessageRoundTrip(t *testing.T) {
	f := newChatFixture("=== Medical Knowledge Base ===\n\nQ: a\nA: b")
	ctx := context.Background()

	res, err := f.svc.SendMessage(ctx, "u1", "  X  ")
	require.NoError(t, err)
	assert.Equal(t, "Y", res.Response)
	assert.Len(t, res.Sources, 1)

	last := f.gen.seen[len(f.gen.seen)-1]
	assert.Contains(t, last.Content, "User question: X")
	assert.Contains(t, last.Content, "Q: a\nA: b")

	groups, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, res.SessionID, groups[0].SessionID)
	require.Len(t, groups[0].Messages, 2)
	assert.Equal(t, "X", groups[0].Messages[0].MessageContent)
	assert.Equal(t, model.MessageTypeUser, groups[0].Messages[0].MessageType)
	assert.Equal(t, "Y", groups[0].Messages[1].MessageContent)
	assert.Equal(t, model.MessageTypeAI, groups[0].Messages[1].MessageType)

	info, err := f.svc.SessionInfo("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
}

func TestSendMessageWithoutContextUsesRawMessage(t *testing.T) {
	f := newChatFixture("")
	_, err := f.svc.SendMessage(context.Background(), "u1", "hello")
	require.NoError(t, err)

	last := f.gen.seen[len(f.gen.seen)-1]
	assert.Equal(t, ai.ChatMessage{Role: "user", Content: "hello"}, last)
	assert.Equal(t, "system", f.gen.seen[0].Role)
}

func TestSendMessageUsesProfile(t *testing.T) {
	f := newChatFixture("")
	require.NoError(t, f.profiles.Save(context.Background(), &model.UserProfile{UserID: "u1", FirstName: ptr("Mehmet")}))

	_, err := f.svc.SendMessage(context.Background(), "u1", "hello")
	require.NoError(t, err)
	assert.Contains(t, f.gen.seen[0].Content, "Name: Mehmet")
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	f := newChatFixture("")
	_, err := f.svc.SendMessage(context.Background(), "u1", "   ")
	require.ErrorIs(t, err, ErrMessageEmpty)
	assert.False(t, f.sessions.HasSession("u1"))
}

func TestStreamMessageFinalizes(t *testing.T) {
	f := newChatFixture("")
	f.gen.reply = "rest and fluids"

	stream, err := f.svc.StreamMessage(context.Background(), "u1", "I have a cold")
	require.NoError(t, err)
	var last generation.Event
	for ev := range stream.Events() {
		last = ev
	}
	stream.Close()

	assert.Equal(t, generation.EventDone, last.Kind)
	assert.Equal(t, "rest and fluids", last.FullResponse)
	groups, err := f.svc.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Messages, 2)
}

func TestDeleteSessionClearsActiveMemory(t *testing.T) {
	f := newChatFixture("")
	ctx := context.Background()
	res, err := f.svc.SendMessage(ctx, "u1", "X")
	require.NoError(t, err)

	n, err := f.svc.DeleteSession(ctx, "u1", res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := f.svc.SessionInfo("u1")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, info.SessionID)
	assert.Equal(t, 0, info.MessageCount)

	_, err = f.svc.DeleteSession(ctx, "u1", "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClearHistoryErasesEverything(t *testing.T) {
	f := newChatFixture("")
	ctx := context.Background()
	_, err := f.svc.SendMessage(ctx, "u1", "X")
	require.NoError(t, err)

	n, err := f.svc.ClearHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = f.svc.SessionInfo("u1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	groups, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestClearHistoryDuringStreamLeavesNoRecords(t *testing.T) {
	f := newChatFixture("")
	ctx := context.Background()
	f.gen.reply = "drink water often"
	f.gen.gate = make(chan struct{})

	stream, err := f.svc.StreamMessage(ctx, "u1", "I feel dizzy")
	require.NoError(t, err)
	for ev := range stream.Events() {
		if ev.Kind == generation.EventToken {
			break
		}
	}

	_, err = f.svc.ClearHistory(ctx, "u1")
	require.NoError(t, err)
	close(f.gen.gate)

	var last generation.Event
	for ev := range stream.Events() {
		last = ev
	}
	stream.Close()
	assert.Equal(t, generation.EventDone, last.Kind)

	groups, err := f.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, groups)

	f.gen.gate = nil
	_, err = f.svc.SendMessage(ctx, "u1", "still dizzy")
	require.NoError(t, err)
	groups, err = f.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Messages, 2)
}

func TestClearMemoryMissingSession(t *testing.T) {
	f := newChatFixture("")
	assert.ErrorIs(t, f.svc.ClearMemory("nobody"), ErrSessionNotFound)
}
