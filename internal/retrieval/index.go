// Package retrieval builds in-memory nearest-neighbour indexes over document
// collections and fuses them with the remote semantic search.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"patient-assistant/internal/docstore"
)

const buildTimeout = 2 * time.Minute

var (
	// ErrIndexUnavailable means the index has no usable build, as opposed to
	// a built index that happens to be empty.
	ErrIndexUnavailable = errors.New("index unavailable")
	ErrMalformed        = errors.New("malformed document")
)

type State int

const (
	StateUnbuilt State = iota
	StateBuilding
	StateReady
	StateBuildFailed
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateBuildFailed:
		return "build_failed"
	default:
		return "unknown"
	}
}

type entry struct {
	doc    docstore.Document
	vector []float32
}

// Neighbor is a query hit. Distance is Euclidean, lower is closer.
type Neighbor struct {
	Document docstore.Document
	Distance float64
}

// Index is a flat L2 index over one collection. It is built on first query
// and kept until Invalidate.
type Index struct {
	store          docstore.Store
	collection     string
	embeddingField string
	logger         *zap.Logger

	build singleflight.Group

	mu         sync.RWMutex
	state      State
	dimension  int
	entries    []entry
	generation uint64
}

func NewIndex(store docstore.Store, collection, embeddingField string, logger *zap.Logger) *Index {
	return &Index{
		store:          store,
		collection:     collection,
		embeddingField: embeddingField,
		logger:         logger.With(zap.String("collection", collection)),
	}
}

func (ix *Index) Collection() string { return ix.collection }

func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}

// Build loads the collection unless a build is already in place. Concurrent
// callers share a single load that is detached from any one caller's context;
// each caller stops waiting when its own ctx ends. A store failure leaves the
// index in StateBuildFailed so the next call retries.
func (ix *Index) Build(ctx context.Context) error {
	if ix.State() == StateReady {
		return nil
	}
	ch := ix.build.DoChan(ix.collection, func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), buildTimeout)
		defer cancel()

		ix.mu.Lock()
		if ix.state == StateReady {
			ix.mu.Unlock()
			return nil, nil
		}
		ix.state = StateBuilding
		gen := ix.generation
		ix.mu.Unlock()

		docs, err := ix.store.FetchAll(buildCtx, ix.collection)
		if err != nil {
			ix.mu.Lock()
			if ix.generation == gen {
				ix.state = StateBuildFailed
			}
			ix.mu.Unlock()
			ix.logger.Warn("index build failed", zap.Error(err))
			return nil, fmt.Errorf("build index %s failed: %w: %w", ix.collection, ErrIndexUnavailable, err)
		}

		entries, dim, skipped := ix.vectorize(docs)

		ix.mu.Lock()
		defer ix.mu.Unlock()
		if ix.generation != gen {
			// Invalidated while loading; the next query rebuilds.
			return nil, nil
		}
		ix.entries = entries
		ix.dimension = dim
		ix.state = StateReady
		ix.logger.Info("index built",
			zap.Int("entries", len(entries)),
			zap.Int("skipped", skipped),
			zap.Int("dimension", dim),
		)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("wait for index %s build: %w", ix.collection, ctx.Err())
	}
}

// Invalidate drops the built entries. A build that is in flight when this is
// called has its result discarded.
func (ix *Index) Invalidate() {
	ix.mu.Lock()
	ix.generation++
	ix.entries = nil
	ix.dimension = 0
	ix.state = StateUnbuilt
	ix.mu.Unlock()
	ix.build.Forget(ix.collection)
}

// Query returns up to k entries ordered by ascending distance, ties broken by
// insertion order. It builds the index on first use and returns
// ErrIndexUnavailable when no build succeeded.
func (ix *Index) Query(ctx context.Context, vector []float32, k int) ([]Neighbor, error) {
	if err := ix.Build(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.state != StateReady {
		return nil, fmt.Errorf("query index %s: %w", ix.collection, ErrIndexUnavailable)
	}
	if len(ix.entries) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("query index %s: vector has %d components, index has %d: %w",
			ix.collection, len(vector), ix.dimension, ErrMalformed)
	}

	hits := make([]Neighbor, len(ix.entries))
	for i, e := range ix.entries {
		hits[i] = Neighbor{Document: e.doc, Distance: euclidean(vector, e.vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *Index) vectorize(docs []docstore.Document) ([]entry, int, int) {
	entries := make([]entry, 0, len(docs))
	dim, skipped := 0, 0
	for _, doc := range docs {
		vec, err := parseEmbedding(doc.Fields[ix.embeddingField])
		if err == nil && dim != 0 && len(vec) != dim {
			err = fmt.Errorf("dimension %d, want %d: %w", len(vec), dim, ErrMalformed)
		}
		if err != nil {
			skipped++
			ix.logger.Debug("skip document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		if dim == 0 {
			dim = len(vec)
		}
		entries = append(entries, entry{doc: doc, vector: vec})
	}
	return entries, dim, skipped
}

func parseEmbedding(raw any) ([]float32, error) {
	var vec []float32
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("missing embedding: %w", ErrMalformed)
	case []float32:
		vec = append([]float32(nil), v...)
	case []float64:
		vec = make([]float32, len(v))
		for i, f := range v {
			vec[i] = float32(f)
		}
	case []any:
		vec = make([]float32, len(v))
		for i, item := range v {
			switch f := item.(type) {
			case float64:
				vec[i] = float32(f)
			case float32:
				vec[i] = f
			case int:
				vec[i] = float32(f)
			default:
				return nil, fmt.Errorf("embedding component %d has type %T: %w", i, item, ErrMalformed)
			}
		}
	default:
		return nil, fmt.Errorf("embedding has type %T: %w", raw, ErrMalformed)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding: %w", ErrMalformed)
	}
	for _, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, fmt.Errorf("embedding is not finite: %w", ErrMalformed)
		}
	}
	return vec, nil
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
