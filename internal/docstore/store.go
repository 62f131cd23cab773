// Package docstore defines the document collection contract the assistant
// core reads knowledge from and writes chat records to.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks failures of the backing engine. Callers degrade
	// on it instead of aborting the request.
	ErrUnavailable = errors.New("document store unavailable")
	ErrNotFound    = errors.New("document not found")
)

type Document struct {
	ID         string
	Collection string
	Fields     map[string]any
	CreatedAt  time.Time
}

type Store interface {
	FetchAll(ctx context.Context, collection string) ([]Document, error)
	Append(ctx context.Context, collection string, fields map[string]any) (string, error)
	QueryWhere(ctx context.Context, collection, field, value string) ([]Document, error)
	Delete(ctx context.Context, collection, id string) error
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
