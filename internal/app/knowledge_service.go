package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"patient-assistant/internal/docstore"
	"patient-assistant/internal/retrieval"
)

const embeddingBatchSize = 10 // embedding APIs commonly cap batch size

var ErrUnknownCollection = errors.New("unknown knowledge collection")

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// KnowledgeCollection describes how items of one collection are embedded.
type KnowledgeCollection struct {
	Name           string
	TextField      string
	EmbeddingField string
	Index          *retrieval.Index
}

type IngestResult struct {
	Collection string `json:"collection"`
	Ingested   int    `json:"ingested"`
	Skipped    int    `json:"skipped"`
}

// KnowledgeService embeds knowledge items, stores them and invalidates the
// matching index so the next query sees them.
type KnowledgeService struct {
	docs        docstore.Store
	embedder    BatchEmbedder
	collections map[string]KnowledgeCollection
	logger      *zap.Logger
}

func NewKnowledgeService(docs docstore.Store, embedder BatchEmbedder, collections []KnowledgeCollection, logger *zap.Logger) *KnowledgeService {
	byName := make(map[string]KnowledgeCollection, len(collections))
	for _, c := range collections {
		byName[c.Name] = c
	}
	return &KnowledgeService{docs: docs, embedder: embedder, collections: byName, logger: logger}
}

// Ingest stores items in batches. onBatch, when set, is called with the
// number of items handled so far. Items without text are skipped.
func (s *KnowledgeService) Ingest(ctx context.Context, collection string, items []map[string]any, onBatch func(done int)) (*IngestResult, error) {
	kc, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	result := &IngestResult{Collection: collection}
	defer func() {
		if result.Ingested > 0 && kc.Index != nil {
			kc.Index.Invalidate()
		}
	}()

	for i := 0; i < len(items); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(items) {
			end = len(items)
		}

		var texts []string
		var batch []map[string]any
		for _, item := range items[i:end] {
			text, _ := item[kc.TextField].(string)
			if strings.TrimSpace(text) == "" {
				result.Skipped++
				continue
			}
			texts = append(texts, text)
			batch = append(batch, item)
		}

		if len(texts) > 0 {
			vectors, err := s.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return result, fmt.Errorf("embed batch at item %d failed: %w", i, err)
			}
			if len(vectors) != len(texts) {
				return result, fmt.Errorf("embedding count mismatch at item %d", i)
			}
			for j, item := range batch {
				fields := make(map[string]any, len(item)+1)
				for k, v := range item {
					fields[k] = v
				}
				fields[kc.EmbeddingField] = vectors[j]
				if _, err := s.docs.Append(ctx, collection, fields); err != nil {
					return result, fmt.Errorf("store knowledge item failed: %w", err)
				}
				result.Ingested++
			}
		}

		if onBatch != nil {
			onBatch(end)
		}
	}

	s.logger.Info("knowledge ingested",
		zap.String("collection", collection),
		zap.Int("ingested", result.Ingested),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// InvalidateAll drops every built index.
func (s *KnowledgeService) InvalidateAll() []string {
	names := make([]string, 0, len(s.collections))
	for name, kc := range s.collections {
		if kc.Index != nil {
			kc.Index.Invalidate()
			names = append(names, name)
		}
	}
	return names
}

type IndexStatus struct {
	State   string `json:"state"`
	Entries int    `json:"entries"`
}

func (s *KnowledgeService) IndexStatuses() map[string]IndexStatus {
	out := make(map[string]IndexStatus, len(s.collections))
	for name, kc := range s.collections {
		if kc.Index == nil {
			continue
		}
		out[name] = IndexStatus{State: kc.Index.State().String(), Entries: kc.Index.Len()}
	}
	return out
}
