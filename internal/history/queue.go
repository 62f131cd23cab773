package history

import (
	"context"
	"fmt"

	"patient-assistant/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, rec model.ChatRecord) error
}

// QueueRecorder hands records to the broker instead of writing them. The
// persist worker appends them through Store.Append.
type QueueRecorder struct {
	store     *Store
	publisher Publisher
}

func NewQueueRecorder(store *Store, publisher Publisher) *QueueRecorder {
	return &QueueRecorder{store: store, publisher: publisher}
}

func (r *QueueRecorder) Record(ctx context.Context, rec model.ChatRecord) error {
	r.store.invalidate(ctx, rec.UserID)
	if err := r.publisher.Publish(ctx, rec); err != nil {
		return fmt.Errorf("enqueue chat record failed: %w", err)
	}
	return nil
}
