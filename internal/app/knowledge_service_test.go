package app

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patient-assistant/internal/docstore"
	"patient-assistant/internal/model"
	"patient-assistant/internal/retrieval"
)

type countingEmbedder struct {
	batches [][]string
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(e.batches)), float32(i)}
	}
	return out, nil
}

func TestIngestBatchesAndInvalidatesIndex(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	index := retrieval.NewIndex(docs, "questions", "prompt_embedding", zap.NewNop())
	require.NoError(t, index.Build(ctx))
	require.Equal(t, 0, index.Len())

	emb := &countingEmbedder{}
	svc := NewKnowledgeService(docs, emb, []KnowledgeCollection{
		{Name: "questions", TextField: "prompt", EmbeddingField: "prompt_embedding", Index: index},
	}, zap.NewNop())

	items := make([]map[string]any, 0, 13)
	for i := 0; i < 12; i++ {
		items = append(items, map[string]any{"prompt": fmt.Sprintf("q%d", i), "completion": "a"})
	}
	items = append(items, map[string]any{"completion": "no prompt"})

	var progress []int
	res, err := svc.Ingest(ctx, "questions", items, func(done int) { progress = append(progress, done) })
	require.NoError(t, err)

	assert.Equal(t, 12, res.Ingested)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, emb.batches, 2)
	assert.Len(t, emb.batches[0], 10)
	assert.Len(t, emb.batches[1], 2)
	assert.Equal(t, []int{10, 13}, progress)

	assert.Equal(t, retrieval.StateUnbuilt, index.State())
	require.NoError(t, index.Build(ctx))
	assert.Equal(t, 12, index.Len())
}

func TestIngestUnknownCollection(t *testing.T) {
	svc := NewKnowledgeService(docstore.NewMemoryStore(), &countingEmbedder{}, nil, zap.NewNop())
	_, err := svc.Ingest(context.Background(), "nope", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestProfileSaveReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	svc := NewProfileService(docs, zap.NewNop())

	_, err := svc.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrProfileNotFound)

	require.NoError(t, svc.Save(ctx, &model.UserProfile{UserID: "u1", Age: ptr(70)}))
	require.NoError(t, svc.Save(ctx, &model.UserProfile{UserID: "u1", Age: ptr(71), Allergies: []string{"penicillin"}}))

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 71, *p.Age)
	assert.Equal(t, []string{"penicillin"}, p.Allergies)
	assert.Equal(t, 1, docs.Len(model.UserProfilesCollection))

	err = svc.Save(ctx, &model.UserProfile{UserID: "u1", Age: ptr(-3)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
