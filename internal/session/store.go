// Package session maps each user to one live conversational memory.
package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Memory    *Memory

	cleared atomic.Bool
}

// Cleared reports whether ClearSession dropped this session. Exchanges still
// running on it must not persist their records.
func (sess *Session) Cleared() bool { return sess.cleared.Load() }

type Info struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	MessageCount int       `json:"message_count"`
	WindowSize   int       `json:"window_size"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryEraser removes a user's durable chat records.
type HistoryEraser interface {
	DeleteUser(ctx context.Context, userID string) (int, error)
}

type Config struct {
	WindowSize int
	// IdleTTL evicts sessions not touched for this long. Zero keeps them
	// until cleared.
	IdleTTL time.Duration
}

const lockStripes = 64

// Store is safe for concurrent use. The user to session mapping lives in a
// go-cache table. Mutations of one user's entry are serialized by a striped
// lock and each Memory carries its own lock.
type Store struct {
	locks  [lockStripes]sync.Mutex
	table  *gocache.Cache
	window int
	eraser HistoryEraser
	logger *zap.Logger
}

func NewStore(cfg Config, eraser HistoryEraser, logger *zap.Logger) *Store {
	ttl := cfg.IdleTTL
	cleanup := time.Duration(0)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	} else {
		cleanup = ttl / 2
	}
	s := &Store{
		table:  gocache.New(ttl, cleanup),
		window: cfg.WindowSize,
		eraser: eraser,
		logger: logger,
	}
	s.table.OnEvicted(func(userID string, _ interface{}) {
		s.logger.Debug("session evicted", zap.String("user_id", userID))
	})
	return s
}

// GetOrCreate returns the user's session, creating it on first use. Two
// concurrent first calls for one user observe the same session.
func (s *Store) GetOrCreate(userID string) *Session {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	if sess, ok := s.touch(userID); ok {
		return sess
	}
	fresh := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Memory:    NewMemory(s.window),
	}
	s.table.Set(userID, fresh, gocache.DefaultExpiration)
	s.logger.Info("session created", zap.String("user_id", userID), zap.String("session_id", fresh.ID))
	return fresh
}

func (s *Store) HasSession(userID string) bool {
	_, ok := s.table.Get(userID)
	return ok
}

func (s *Store) Get(userID string) (*Session, error) {
	sess, ok := s.lookup(userID)
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return sess, nil
}

func (s *Store) GetInfo(userID string) (Info, error) {
	sess, err := s.Get(userID)
	if err != nil {
		return Info{}, err
	}
	return sess.info(), nil
}

// ClearMemory empties the live turns and keeps the session id.
func (s *Store) ClearMemory(userID string) error {
	sess, err := s.Get(userID)
	if err != nil {
		return err
	}
	sess.Memory.Clear()
	s.logger.Info("session memory cleared", zap.String("user_id", userID), zap.String("session_id", sess.ID))
	return nil
}

// ClearSession drops the live session and erases the user's durable
// history. It returns the number of erased records.
func (s *Store) ClearSession(ctx context.Context, userID string) (int, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	if v, ok := s.table.Get(userID); ok {
		v.(*Session).cleared.Store(true)
	}
	s.table.Delete(userID)
	mu.Unlock()

	if s.eraser == nil {
		return 0, nil
	}
	n, err := s.eraser.DeleteUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("erase history for %s failed: %w", userID, err)
	}
	s.logger.Info("session cleared", zap.String("user_id", userID), zap.Int("erased_records", n))
	return n, nil
}

// ClearAll drops every live session. Durable history is untouched.
func (s *Store) ClearAll() int {
	n := s.table.ItemCount()
	s.table.Flush()
	s.logger.Info("all sessions cleared", zap.Int("count", n))
	return n
}

func (s *Store) Count() int {
	return len(s.table.Items())
}

// List returns every live session ordered by user id.
func (s *Store) List() []Info {
	items := s.table.Items()
	out := make([]Info, 0, len(items))
	for _, item := range items {
		if sess, ok := item.Object.(*Session); ok {
			out = append(out, sess.info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *Store) WindowSize() int { return s.window }

func (s *Store) lookup(userID string) (*Session, bool) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.touch(userID)
}

// touch refreshes the idle deadline. Callers hold the user's stripe lock.
func (s *Store) touch(userID string) (*Session, bool) {
	v, ok := s.table.Get(userID)
	if !ok {
		return nil, false
	}
	sess := v.(*Session)
	s.table.Set(userID, sess, gocache.DefaultExpiration)
	return sess, true
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%lockStripes]
}

func (sess *Session) info() Info {
	return Info{
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		MessageCount: sess.Memory.Len(),
		WindowSize:   sess.Memory.WindowSize(),
		CreatedAt:    sess.CreatedAt,
	}
}
