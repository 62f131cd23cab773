package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// BoltStore keeps one bucket per collection. Keys are zero-padded bucket
// sequence numbers so iteration order is insertion order. Values that do not
// decode are skipped on read.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

type boltRecord struct {
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db failed: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoltStore{db: db, logger: logger}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) FetchAll(ctx context.Context, collection string) ([]Document, error) {
	return s.scan(ctx, collection, func(Document) bool { return true })
}

func (s *BoltStore) Append(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(boltRecord{Fields: fields, CreatedAt: time.Now()})
	if err != nil {
		return "", fmt.Errorf("marshal document failed: %w", err)
	}

	var id string
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = fmt.Sprintf("%020d", seq)
		return b.Put([]byte(id), payload)
	})
	if err != nil {
		return "", fmt.Errorf("append document failed: %w: %w", ErrUnavailable, err)
	}
	return id, nil
}

func (s *BoltStore) QueryWhere(ctx context.Context, collection, field, value string) ([]Document, error) {
	return s.scan(ctx, collection, func(d Document) bool {
		v, ok := d.Fields[field]
		return ok && fmt.Sprint(v) == value
	})
}

func (s *BoltStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil || b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete document failed: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *BoltStore) scan(ctx context.Context, collection string, keep func(Document) bool) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("skip undecodable document",
					zap.String("collection", collection),
					zap.String("id", string(k)),
					zap.Error(err),
				)
				return nil
			}
			doc := Document{
				ID:         string(k),
				Collection: collection,
				Fields:     rec.Fields,
				CreatedAt:  rec.CreatedAt,
			}
			if keep(doc) {
				out = append(out, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan collection failed: %w: %w", ErrUnavailable, err)
	}
	return out, nil
}
