package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"patient-assistant/internal/generation"
	"patient-assistant/internal/model"
	"patient-assistant/internal/retrieval"
	"patient-assistant/internal/session"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrSessionNotFound = errors.New("session not found")
)

const maxMessageLength = 8000

type ContextRetriever interface {
	GetContext(ctx context.Context, query string) (string, []retrieval.Attribution)
}

type ProfileReader interface {
	Get(ctx context.Context, userID string) (*model.UserProfile, error)
}

type HistoryStore interface {
	ListGrouped(ctx context.Context, userID string) ([]model.SessionHistory, error)
	DeleteSession(ctx context.Context, userID, sessionID string) (int, error)
}

type ChatService struct {
	sessions    *session.Store
	retriever   ContextRetriever
	profiles    ProfileReader
	coordinator *generation.Coordinator
	history     HistoryStore
	logger      *zap.Logger
}

type ChatResult struct {
	Response  string                  `json:"response"`
	SessionID string                  `json:"session_id"`
	Sources   []retrieval.Attribution `json:"sources,omitempty"`
}

func NewChatService(
	sessions *session.Store,
	retriever ContextRetriever,
	profiles ProfileReader,
	coordinator *generation.Coordinator,
	history HistoryStore,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		sessions:    sessions,
		retriever:   retriever,
		profiles:    profiles,
		coordinator: coordinator,
		history:     history,
		logger:      logger,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, userID, message string) (*ChatResult, error) {
	req, sources, err := s.prepare(ctx, userID, message)
	if err != nil {
		return nil, err
	}
	text, err := s.coordinator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ChatResult{Response: text, SessionID: req.Session.ID, Sources: sources}, nil
}

// StreamMessage validates and prepares the exchange, then starts streaming.
// The caller owns the returned stream and must Close it.
func (s *ChatService) StreamMessage(ctx context.Context, userID, message string) (*generation.Stream, error) {
	req, _, err := s.prepare(ctx, userID, message)
	if err != nil {
		return nil, err
	}
	return s.coordinator.GenerateStream(ctx, req), nil
}

func (s *ChatService) SessionInfo(userID string) (session.Info, error) {
	info, err := s.sessions.GetInfo(userID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Info{}, ErrSessionNotFound
	}
	return info, err
}

func (s *ChatService) ClearMemory(userID string) error {
	if err := s.sessions.ClearMemory(userID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// ClearHistory drops the live session and erases all durable history.
func (s *ChatService) ClearHistory(ctx context.Context, userID string) (int, error) {
	return s.sessions.ClearSession(ctx, userID)
}

func (s *ChatService) History(ctx context.Context, userID string) ([]model.SessionHistory, error) {
	return s.history.ListGrouped(ctx, userID)
}

// DeleteSession erases one durable session. When it is the live session its
// memory is cleared as well.
func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrInvalidInput
	}
	n, err := s.history.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}

	active := false
	if info, infoErr := s.sessions.GetInfo(userID); infoErr == nil && info.SessionID == sessionID {
		active = true
		_ = s.sessions.ClearMemory(userID)
	}
	if n == 0 && !active {
		return 0, ErrSessionNotFound
	}
	s.logger.Info("session deleted",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int("records", n),
		zap.Bool("active", active),
	)
	return n, nil
}

func (s *ChatService) prepare(ctx context.Context, userID, message string) (generation.Request, []retrieval.Attribution, error) {
	if strings.TrimSpace(userID) == "" {
		return generation.Request{}, nil, ErrInvalidInput
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return generation.Request{}, nil, ErrMessageEmpty
	}
	if len(message) > maxMessageLength {
		return generation.Request{}, nil, fmt.Errorf("%w: message longer than %d bytes", ErrInvalidInput, maxMessageLength)
	}

	var profile *model.UserProfile
	if s.profiles != nil {
		p, err := s.profiles.Get(ctx, userID)
		switch {
		case err == nil:
			profile = p
		case errors.Is(err, ErrProfileNotFound):
		default:
			s.logger.Warn("load profile failed, continuing without it", zap.String("user_id", userID), zap.Error(err))
		}
	}

	sess := s.sessions.GetOrCreate(userID)

	var retrieved string
	var sources []retrieval.Attribution
	if s.retriever != nil {
		retrieved, sources = s.retriever.GetContext(ctx, message)
	}
	s.logger.Debug("context retrieved",
		zap.String("user_id", userID),
		zap.Int("sources", len(sources)),
		zap.Int("context_bytes", len(retrieved)),
	)

	return generation.Request{
		UserID:          userID,
		Session:         sess,
		SystemPrompt:    SystemPrompt(profile),
		RawMessage:      message,
		EnhancedMessage: EnhanceMessage(message, retrieved, profile),
	}, sources, nil
}
