// Package generation drives the text generator for one exchange and records
// the exchange once it completes.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"patient-assistant/internal/ai"
	"patient-assistant/internal/model"
	"patient-assistant/internal/session"
)

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrTimeout          = errors.New("no token received in time")
	ErrEmptyResponse    = errors.New("generator returned an empty response")
)

type Generator interface {
	Generate(ctx context.Context, messages []ai.ChatMessage) (string, error)
	GenerateStream(ctx context.Context, messages []ai.ChatMessage, onToken func(string) error) (string, error)
}

type Recorder interface {
	Record(ctx context.Context, rec model.ChatRecord) error
}

type State int32

const (
	StateIdle State = iota
	StatePromptAssembled
	StateGenerating
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePromptAssembled:
		return "prompt_assembled"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request is one user turn. RawMessage is what memory and history keep;
// EnhancedMessage, when set, is what the generator sees in its place.
type Request struct {
	UserID          string
	Session         *session.Session
	SystemPrompt    string
	RawMessage      string
	EnhancedMessage string
}

type Config struct {
	TokenTimeout     time.Duration
	StreamBufferSize int
	// RecordTimeout bounds the durable writes made at finalize.
	RecordTimeout time.Duration
}

type Coordinator struct {
	generator Generator
	recorder  Recorder
	cfg       Config
	logger    *zap.Logger
}

func NewCoordinator(generator Generator, recorder Recorder, cfg Config, logger *zap.Logger) *Coordinator {
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 60 * time.Second
	}
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = 64
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	return &Coordinator{generator: generator, recorder: recorder, cfg: cfg, logger: logger}
}

// Generate runs a single-shot exchange. On failure nothing is recorded.
func (c *Coordinator) Generate(ctx context.Context, req Request) (string, error) {
	ex := c.newExchange(req)
	messages := ex.assemble()

	ex.setState(StateGenerating)
	text, err := c.generator.Generate(ctx, messages)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		ex.setState(StateFailed)
		c.logger.Warn("generation failed", zap.String("user_id", req.UserID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	c.finalize(ctx, ex, text)
	return text, nil
}

// GenerateStream starts a streaming exchange. The caller must drain Events
// until a terminal event or call Close.
func (c *Coordinator) GenerateStream(ctx context.Context, req Request) *Stream {
	ex := c.newExchange(req)
	messages := ex.assemble()

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		exchange: ex,
		events:   make(chan Event, c.cfg.StreamBufferSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run(streamCtx, s, messages)
	return s
}

type produced struct {
	text string
	err  error
}

func (c *Coordinator) run(ctx context.Context, s *Stream, messages []ai.ChatMessage) {
	defer close(s.done)
	defer close(s.events)

	ex := s.exchange
	tokens := make(chan string, c.cfg.StreamBufferSize)
	result := make(chan produced, 1)

	producerCtx, stopProducer := context.WithCancel(ctx)
	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer close(tokens)
		text, err := c.generator.GenerateStream(producerCtx, messages, func(token string) error {
			select {
			case tokens <- token:
				return nil
			case <-producerCtx.Done():
				return producerCtx.Err()
			}
		})
		result <- produced{text: text, err: err}
	}()
	defer producer.Wait()
	defer stopProducer()

	if !s.emit(ctx, Event{Kind: EventStarted, SessionID: ex.req.Session.ID, UserID: ex.req.UserID}) {
		ex.setState(StateFailed)
		return
	}
	ex.setState(StateGenerating)

	timer := time.NewTimer(c.cfg.TokenTimeout)
	defer timer.Stop()

	for {
		select {
		case token, ok := <-tokens:
			if !ok {
				c.complete(ctx, s, <-result)
				return
			}
			// The timeout measures the producer only, not a slow reader.
			timer.Stop()
			s.appendPartial(token)
			if !s.emit(ctx, Event{Kind: EventToken, Token: token}) {
				ex.setState(StateFailed)
				return
			}
			timer.Reset(c.cfg.TokenTimeout)
		case <-timer.C:
			ex.setState(StateFailed)
			c.logger.Warn("stream timed out",
				zap.String("user_id", ex.req.UserID),
				zap.Duration("token_timeout", c.cfg.TokenTimeout),
				zap.Int("partial_bytes", len(s.Partial())),
			)
			s.emit(ctx, Event{Kind: EventError, Err: ErrTimeout})
			return
		case <-ctx.Done():
			ex.setState(StateFailed)
			c.logger.Info("stream cancelled", zap.String("user_id", ex.req.UserID), zap.Error(ctx.Err()))
			return
		}
	}
}

func (c *Coordinator) complete(ctx context.Context, s *Stream, res produced) {
	ex := s.exchange
	err := res.err
	if err == nil && strings.TrimSpace(res.text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		ex.setState(StateFailed)
		c.logger.Warn("stream generation failed", zap.String("user_id", ex.req.UserID), zap.Error(err))
		s.emit(ctx, Event{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrGenerationFailed, err)})
		return
	}

	c.finalize(ctx, ex, res.text)
	s.emit(ctx, Event{Kind: EventDone, FullResponse: res.text})
}

// finalize appends the exchange to memory and to durable history. It runs at
// most once per exchange. History write failures are logged and do not fail
// the exchange.
func (c *Coordinator) finalize(ctx context.Context, ex *exchange, reply string) {
	ex.finalizeOnce.Do(func() {
		ex.req.Session.Memory.Append(
			session.Turn{Role: session.RoleUser, Content: ex.req.RawMessage},
			session.Turn{Role: session.RoleAssistant, Content: reply},
		)

		if c.recorder != nil && ex.req.Session.Cleared() {
			c.logger.Info("session cleared during exchange, records not persisted",
				zap.String("user_id", ex.req.UserID),
				zap.String("session_id", ex.req.Session.ID),
			)
		} else if c.recorder != nil {
			recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RecordTimeout)
			defer cancel()

			replyAt := time.Now().UTC()
			if !replyAt.After(ex.startedAt) {
				replyAt = ex.startedAt.Add(time.Microsecond)
			}
			records := []model.ChatRecord{
				ex.record(model.MessageTypeUser, ex.req.RawMessage, ex.startedAt),
				ex.record(model.MessageTypeAI, reply, replyAt),
			}
			for _, rec := range records {
				if err := c.recorder.Record(recordCtx, rec); err != nil {
					c.logger.Error("record chat message failed",
						zap.String("user_id", rec.UserID),
						zap.String("session_id", rec.SessionID),
						zap.String("message_type", string(rec.MessageType)),
						zap.Error(err),
					)
				}
			}
		}

		ex.setState(StateCompleted)
	})
}

type exchange struct {
	req          Request
	startedAt    time.Time
	state        atomic.Int32
	finalizeOnce sync.Once
}

func (c *Coordinator) newExchange(req Request) *exchange {
	return &exchange{req: req, startedAt: time.Now().UTC()}
}

func (ex *exchange) setState(s State) { ex.state.Store(int32(s)) }

func (ex *exchange) State() State { return State(ex.state.Load()) }

// assemble builds the generator input: system prompt, live memory, then the
// current message.
func (ex *exchange) assemble() []ai.ChatMessage {
	turns := ex.req.Session.Memory.Turns()
	messages := make([]ai.ChatMessage, 0, len(turns)+2)
	if ex.req.SystemPrompt != "" {
		messages = append(messages, ai.ChatMessage{Role: "system", Content: ex.req.SystemPrompt})
	}
	for _, t := range turns {
		messages = append(messages, ai.ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	current := ex.req.EnhancedMessage
	if current == "" {
		current = ex.req.RawMessage
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: current})
	ex.setState(StatePromptAssembled)
	return messages
}

func (ex *exchange) record(typ model.MessageType, content string, at time.Time) model.ChatRecord {
	return model.ChatRecord{
		UserID:         ex.req.UserID,
		SessionID:      ex.req.Session.ID,
		MessageContent: content,
		MessageType:    typ,
		Timestamp:      at,
	}
}
