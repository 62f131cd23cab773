package retrieval

import (
	"context"
	"fmt"
	"strings"

	"patient-assistant/internal/retrieval/qdrant"
)

type Kind string

const (
	KindLocalMatch  Kind = "local"
	KindRemoteMatch Kind = "remote"
)

// Attribution describes where a piece of context came from. It is for logs
// and API metadata only and is never stored with chat records.
type Attribution struct {
	SourceLabel string  `json:"source"`
	Score       float64 `json:"score"`
	Kind        Kind    `json:"kind"`
	DocumentID  string  `json:"id,omitempty"`
	Category    string  `json:"category,omitempty"`
}

type RetrievedContext struct {
	Text string
	Attribution
}

type Source interface {
	Name() string
	Retrieve(ctx context.Context, vector []float32) ([]RetrievedContext, error)
}

// Formatter renders a document as prompt text. It reports false when the
// document lacks the fields it needs.
type Formatter func(fields map[string]any) (string, bool)

func QuestionAnswerFormatter(fields map[string]any) (string, bool) {
	q, a := textField(fields, "prompt"), textField(fields, "completion")
	if q == "" || a == "" {
		return "", false
	}
	return fmt.Sprintf("Q: %s\nA: %s", q, a), true
}

func MythFactFormatter(fields map[string]any) (string, bool) {
	myth, fact := textField(fields, "myth"), textField(fields, "fact")
	if myth == "" || fact == "" {
		return "", false
	}
	return fmt.Sprintf("Myth: %s\nFact: %s", myth, fact), true
}

// LocalSource queries one Index.
type LocalSource struct {
	name          string
	index         *Index
	topK          int
	format        Formatter
	defaultLabel  string
	categoryField string
}

type LocalSourceConfig struct {
	Name          string
	TopK          int
	CategoryField string

	// DefaultLabel is used when a document has no "source" field.
	DefaultLabel string
}

func NewLocalSource(index *Index, format Formatter, cfg LocalSourceConfig) *LocalSource {
	return &LocalSource{
		name:          cfg.Name,
		index:         index,
		topK:          cfg.TopK,
		format:        format,
		defaultLabel:  cfg.DefaultLabel,
		categoryField: cfg.CategoryField,
	}
}

func (s *LocalSource) Name() string { return s.name }

func (s *LocalSource) Retrieve(ctx context.Context, vector []float32) ([]RetrievedContext, error) {
	hits, err := s.index.Query(ctx, vector, s.topK)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedContext, 0, len(hits))
	for _, hit := range hits {
		text, ok := s.format(hit.Document.Fields)
		if !ok {
			continue
		}
		label := textField(hit.Document.Fields, "source")
		if label == "" {
			label = s.defaultLabel
		}
		out = append(out, RetrievedContext{
			Text: text,
			Attribution: Attribution{
				SourceLabel: label,
				Score:       hit.Distance,
				Kind:        KindLocalMatch,
				DocumentID:  hit.Document.ID,
				Category:    textField(hit.Document.Fields, s.categoryField),
			},
		})
	}
	return out, nil
}

type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]qdrant.Match, error)
}

// RemoteSource queries the remote semantic search and keeps matches whose
// payload carries text.
type RemoteSource struct {
	name      string
	searcher  Searcher
	topK      int
	textField string
	label     string
}

func NewRemoteSource(name string, searcher Searcher, topK int, textField, label string) *RemoteSource {
	return &RemoteSource{name: name, searcher: searcher, topK: topK, textField: textField, label: label}
}

func (s *RemoteSource) Name() string { return s.name }

func (s *RemoteSource) Retrieve(ctx context.Context, vector []float32) ([]RetrievedContext, error) {
	matches, err := s.searcher.Search(ctx, vector, s.topK)
	if err != nil {
		return nil, err
	}
	out := make([]RetrievedContext, 0, len(matches))
	for _, m := range matches {
		text := textField(m.Payload, s.textField)
		if text == "" {
			continue
		}
		out = append(out, RetrievedContext{
			Text: text,
			Attribution: Attribution{
				SourceLabel: s.label,
				Score:       m.Score,
				Kind:        KindRemoteMatch,
				DocumentID:  m.ID,
			},
		})
	}
	return out, nil
}

func textField(fields map[string]any, key string) string {
	if key == "" {
		return ""
	}
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}
