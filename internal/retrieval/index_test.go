package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"patient-assistant/internal/docstore"
)

type countingStore struct {
	*docstore.MemoryStore
	fetches atomic.Int32
	fail    atomic.Bool
	delay   time.Duration
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: docstore.NewMemoryStore()}
}

func (s *countingStore) FetchAll(ctx context.Context, collection string) ([]docstore.Document, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, errors.Join(docstore.ErrUnavailable, ctx.Err())
		}
	}
	if s.fail.Load() {
		return nil, errors.Join(docstore.ErrUnavailable, errors.New("connection refused"))
	}
	return s.MemoryStore.FetchAll(ctx, collection)
}

func seed(t *testing.T, store docstore.Store, collection string, docs ...map[string]any) {
	t.Helper()
	for _, fields := range docs {
		_, err := store.Append(context.Background(), collection, fields)
		require.NoError(t, err)
	}
}

func TestIndexSkipsDocumentsWithoutEmbedding(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "questions",
		map[string]any{"prompt": "a", "prompt_embedding": []float64{1, 0}},
		map[string]any{"prompt": "b", "prompt_embedding": []any{0.0, 1.0}},
		map[string]any{"prompt": "c"},
		map[string]any{"prompt": "d", "prompt_embedding": []float32{1, 1}},
		map[string]any{"prompt": "e", "prompt_embedding": []float64{2, 2}},
	)

	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())
	require.NoError(t, ix.Build(context.Background()))

	assert.Equal(t, StateReady, ix.State())
	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, 2, ix.Dimension())
}

func TestIndexSkipsMismatchedDimensions(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "myth_facts",
		map[string]any{"embedding": []float64{1, 0}},
		map[string]any{"embedding": []float64{1, 0, 0}},
		map[string]any{"embedding": "not a vector"},
		map[string]any{"embedding": []float64{}},
		map[string]any{"embedding": []float64{0, 1}},
	)

	ix := NewIndex(store, "myth_facts", "embedding", zap.NewNop())
	require.NoError(t, ix.Build(context.Background()))
	assert.Equal(t, 2, ix.Len())
}

func TestIndexQueryReturnsAllWhenKExceedsSize(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "questions",
		map[string]any{"prompt": "far", "prompt_embedding": []float64{3, 0}},
		map[string]any{"prompt": "near", "prompt_embedding": []float64{0, 0}},
		map[string]any{"prompt": "mid", "prompt_embedding": []float64{1, 0}},
	)
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	hits, err := ix.Query(context.Background(), []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	var prompts []string
	for _, h := range hits {
		prompts = append(prompts, h.Document.Fields["prompt"].(string))
	}
	assert.Equal(t, []string{"near", "mid", "far"}, prompts)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.InDelta(t, 1.0, hits[1].Distance, 1e-9)
	assert.InDelta(t, 3.0, hits[2].Distance, 1e-9)
}

func TestIndexQueryBreaksTiesByInsertionOrder(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "questions",
		map[string]any{"prompt": "first", "prompt_embedding": []float64{1, 0}},
		map[string]any{"prompt": "second", "prompt_embedding": []float64{0, 1}},
		map[string]any{"prompt": "third", "prompt_embedding": []float64{-1, 0}},
	)
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	hits, err := ix.Query(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Document.Fields["prompt"])
	assert.Equal(t, "second", hits[1].Document.Fields["prompt"])
}

func TestIndexUnavailableIsDistinctFromEmpty(t *testing.T) {
	store := newCountingStore()
	store.fail.Store(true)
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	_, err := ix.Query(context.Background(), []float32{1}, 3)
	require.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Equal(t, StateBuildFailed, ix.State())

	store.fail.Store(false)
	hits, err := ix.Query(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, StateReady, ix.State())
	assert.Equal(t, 0, ix.Len())
	assert.EqualValues(t, 2, store.fetches.Load())
}

func TestIndexBuildsOnceUnderConcurrentQueries(t *testing.T) {
	store := newCountingStore()
	store.delay = 20 * time.Millisecond
	seed(t, store, "questions", map[string]any{"prompt_embedding": []float64{1, 2}})
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := ix.Query(context.Background(), []float32{1, 2}, 1)
			assert.NoError(t, err)
			assert.Len(t, hits, 1)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, store.fetches.Load())
}

func TestIndexBuildSurvivesCancelledFirstCaller(t *testing.T) {
	store := newCountingStore()
	store.delay = 200 * time.Millisecond
	seed(t, store, "questions", map[string]any{"prompt_embedding": []float64{1, 2}})
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := ix.Query(firstCtx, []float32{1, 2}, 1)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return store.fetches.Load() == 1 }, time.Second, 5*time.Millisecond)

	secondErr := make(chan error, 1)
	var hits []Neighbor
	go func() {
		var err error
		hits, err = ix.Query(context.Background(), []float32{1, 2}, 1)
		secondErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancelFirst()

	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrIndexUnavailable)

	require.NoError(t, <-secondErr)
	assert.Len(t, hits, 1)
	assert.Equal(t, StateReady, ix.State())
	assert.EqualValues(t, 1, store.fetches.Load())
}

func TestIndexInvalidateRebuilds(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "questions", map[string]any{"prompt_embedding": []float64{1}})
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())
	require.NoError(t, ix.Build(context.Background()))
	require.Equal(t, 1, ix.Len())

	seed(t, store, "questions", map[string]any{"prompt_embedding": []float64{2}})
	require.NoError(t, ix.Build(context.Background()))
	assert.Equal(t, 1, ix.Len())

	ix.Invalidate()
	assert.Equal(t, StateUnbuilt, ix.State())

	hits, err := ix.Query(context.Background(), []float32{0}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestIndexQueryRejectsWrongDimension(t *testing.T) {
	store := newCountingStore()
	seed(t, store, "questions", map[string]any{"prompt_embedding": []float64{1, 2, 3}})
	ix := NewIndex(store, "questions", "prompt_embedding", zap.NewNop())

	_, err := ix.Query(context.Background(), []float32{1, 2}, 1)
	require.ErrorIs(t, err, ErrMalformed)
}
