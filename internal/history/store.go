// Package history persists chat records and reads them back grouped by
// session.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"patient-assistant/internal/docstore"
	"patient-assistant/internal/model"
)

type Cache interface {
	GetHistory(ctx context.Context, userID string) ([]model.SessionHistory, bool, error)
	SetHistory(ctx context.Context, userID string, groups []model.SessionHistory) error
	Invalidate(ctx context.Context, userID string) error
	IsDirty(ctx context.Context, userID string) (bool, error)
}

// Store reads and writes the chat_history collection. The cache is optional.
//
// DeleteUser leaves an erasure mark: records stamped at or before it are
// dropped on Append, so exchanges that finish or are dequeued after a full
// erase cannot bring the user's history back.
type Store struct {
	docs   docstore.Store
	cache  Cache
	logger *zap.Logger

	mu       sync.RWMutex
	erasedAt map[string]time.Time
}

func NewStore(docs docstore.Store, cache Cache, logger *zap.Logger) *Store {
	return &Store{docs: docs, cache: cache, logger: logger, erasedAt: make(map[string]time.Time)}
}

// Record appends one record. It satisfies the coordinator's recorder in
// direct persist mode.
func (s *Store) Record(ctx context.Context, rec model.ChatRecord) error {
	return s.Append(ctx, rec)
}

func (s *Store) Append(ctx context.Context, rec model.ChatRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if at, ok := s.erasedAt[rec.UserID]; ok && !rec.Timestamp.After(at) {
		s.logger.Info("drop chat record older than erase",
			zap.String("user_id", rec.UserID),
			zap.String("session_id", rec.SessionID),
		)
		return nil
	}

	s.invalidate(ctx, rec.UserID)
	if _, err := s.docs.Append(ctx, model.ChatHistoryCollection, rec.Fields()); err != nil {
		return fmt.Errorf("append chat record failed: %w", err)
	}
	return nil
}

// ListGrouped returns the user's history, one group per session. Messages
// are ordered by timestamp and groups by their first message.
func (s *Store) ListGrouped(ctx context.Context, userID string) ([]model.SessionHistory, error) {
	if s.cache != nil {
		dirty, err := s.cache.IsDirty(ctx, userID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.cache.GetHistory(ctx, userID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	records, err := s.userRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := groupBySession(records)

	if s.cache != nil {
		if dirty, err := s.cache.IsDirty(ctx, userID); err == nil && !dirty {
			if err := s.cache.SetHistory(ctx, userID, groups); err != nil {
				s.logger.Debug("fill history cache failed", zap.Error(err))
			}
		}
	}
	return groups, nil
}

// DeleteUser erases every record of the user and returns how many went.
func (s *Store) DeleteUser(ctx context.Context, userID string) (int, error) {
	// Waits for appends in flight so the scan below sees them.
	s.mu.Lock()
	s.erasedAt[userID] = time.Now().UTC()
	s.mu.Unlock()

	return s.deleteWhere(ctx, userID, func(model.ChatRecord) bool { return true })
}

// DeleteSession erases the records of one session of the user.
func (s *Store) DeleteSession(ctx context.Context, userID, sessionID string) (int, error) {
	return s.deleteWhere(ctx, userID, func(rec model.ChatRecord) bool { return rec.SessionID == sessionID })
}

func (s *Store) deleteWhere(ctx context.Context, userID string, match func(model.ChatRecord) bool) (int, error) {
	s.invalidate(ctx, userID)
	records, err := s.userRecords(ctx, userID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range records {
		if !match(rec) {
			continue
		}
		if err := s.docs.Delete(ctx, model.ChatHistoryCollection, rec.ID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete chat record failed: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) userRecords(ctx context.Context, userID string) ([]model.ChatRecord, error) {
	docs, err := s.docs.QueryWhere(ctx, model.ChatHistoryCollection, "user_id", userID)
	if err != nil {
		return nil, fmt.Errorf("query chat history failed: %w", err)
	}
	records := make([]model.ChatRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := model.ChatRecordFromFields(doc.ID, doc.Fields)
		if err != nil {
			s.logger.Warn("skip malformed chat record", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

func (s *Store) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Debug("invalidate history cache failed", zap.Error(err))
	}
}

func groupBySession(records []model.ChatRecord) []model.SessionHistory {
	groups := make([]model.SessionHistory, 0)
	index := make(map[string]int)
	for _, rec := range records {
		i, ok := index[rec.SessionID]
		if !ok {
			i = len(groups)
			index[rec.SessionID] = i
			groups = append(groups, model.SessionHistory{SessionID: rec.SessionID})
		}
		groups[i].Messages = append(groups[i].Messages, rec)
	}
	return groups
}
