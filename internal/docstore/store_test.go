package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

func storesUnderTest(t *testing.T) map[string]Store {
	bolt, err := NewBoltStore(filepath.Join(t.TempDir(), "docs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := store.Append(ctx, "chat_history", map[string]any{"user_id": "u1", "message_content": "X"})
			require.NoError(t, err)
			_, err = store.Append(ctx, "chat_history", map[string]any{"user_id": "u2", "message_content": "Y"})
			require.NoError(t, err)
			_, err = store.Append(ctx, "chat_history", map[string]any{"user_id": "u1", "message_content": "Z"})
			require.NoError(t, err)

			all, err := store.FetchAll(ctx, "chat_history")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "X", all[0].Fields["message_content"])
			assert.Equal(t, "Z", all[2].Fields["message_content"])

			mine, err := store.QueryWhere(ctx, "chat_history", "user_id", "u1")
			require.NoError(t, err)
			require.Len(t, mine, 2)

			require.NoError(t, store.Delete(ctx, "chat_history", id1))
			mine, err = store.QueryWhere(ctx, "chat_history", "user_id", "u1")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "Z", mine[0].Fields["message_content"])

			err = store.Delete(ctx, "chat_history", id1)
			assert.True(t, errors.Is(err, ErrNotFound))

			empty, err := store.FetchAll(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestBoltStoreClosedIsUnavailable(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "docs.db"), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.FetchAll(context.Background(), "questions")
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = store.Append(context.Background(), "questions", map[string]any{"a": "b"})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestBoltStoreSkipsUndecodableValue(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "docs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Append(ctx, "questions", map[string]any{"prompt": "fever"})
	require.NoError(t, err)
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("questions")).Put([]byte("00000000000000000099"), []byte("{not json"))
	}))
	_, err = store.Append(ctx, "questions", map[string]any{"prompt": "cough"})
	require.NoError(t, err)

	all, err := store.FetchAll(ctx, "questions")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fever", all[0].Fields["prompt"])
	assert.Equal(t, "cough", all[1].Fields["prompt"])

	hits, err := store.QueryWhere(ctx, "questions", "prompt", "cough")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestMemoryStoreCopiesFields(t *testing.T) {
	store := NewMemoryStore()
	fields := map[string]any{"k": "v"}
	_, err := store.Append(context.Background(), "c", fields)
	require.NoError(t, err)
	fields["k"] = "changed"

	docs, err := store.FetchAll(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "v", docs[0].Fields["k"])
	assert.Equal(t, 1, store.Len("c"))
}
