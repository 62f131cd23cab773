package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Section groups sources under one header in the fused context. Items
// inside a section are joined with Separator.
type Section struct {
	Header    string
	Separator string
	Sources   []Source
}

// Fusion embeds the query once and fans it out to every source. A failing
// source contributes nothing; the others still answer.
type Fusion struct {
	embedder      Embedder
	sections      []Section
	sourceTimeout time.Duration
	logger        *zap.Logger
}

func NewFusion(embedder Embedder, sections []Section, sourceTimeout time.Duration, logger *zap.Logger) *Fusion {
	return &Fusion{
		embedder:      embedder,
		sections:      sections,
		sourceTimeout: sourceTimeout,
		logger:        logger,
	}
}

// GetContext returns the fused context text and its attributions in
// section order. Both are empty when nothing matched.
func (f *Fusion) GetContext(ctx context.Context, query string) (string, []Attribution) {
	vector, err := f.embedder.Embed(ctx, query)
	if err != nil {
		f.logger.Warn("embed query failed, continuing without context", zap.Error(err))
		return "", nil
	}

	type slot struct {
		section int
		source  Source
		items   []RetrievedContext
	}
	var slots []*slot
	for i, sec := range f.sections {
		for _, src := range sec.Sources {
			slots = append(slots, &slot{section: i, source: src})
		}
	}

	var g errgroup.Group
	for _, s := range slots {
		s := s
		g.Go(func() error {
			srcCtx := ctx
			if f.sourceTimeout > 0 {
				var cancel context.CancelFunc
				srcCtx, cancel = context.WithTimeout(ctx, f.sourceTimeout)
				defer cancel()
			}
			items, err := s.source.Retrieve(srcCtx, vector)
			if err != nil {
				f.logger.Warn("retrieval source failed", zap.String("source", s.source.Name()), zap.Error(err))
				return nil
			}
			s.items = items
			return nil
		})
	}
	_ = g.Wait()

	var blocks []string
	var attributions []Attribution
	for i, sec := range f.sections {
		var texts []string
		for _, s := range slots {
			if s.section != i {
				continue
			}
			for _, item := range s.items {
				texts = append(texts, item.Text)
				attributions = append(attributions, item.Attribution)
			}
		}
		if len(texts) == 0 {
			continue
		}
		if sec.Header != "" {
			blocks = append(blocks, sec.Header)
		}
		blocks = append(blocks, strings.Join(texts, sec.Separator))
	}
	return strings.Join(blocks, "\n\n"), attributions
}
