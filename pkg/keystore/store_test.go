package keystore

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(NewInMemoryTableRepository(), "KeysPartition")
}

func testRecord() Record {
	return Record{
		Public:  map[string]any{"signing": "pub-1", "mailboxes": map[string]any{"inbox": "mb-pub-1"}},
		Private: map[string]any{"signing": "prv-1"},
	}
}

func TestStoreGet(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		store := newTestStore()

		_, err := store.Get(ctx, uuid.NewString())
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, CodeResourceNotFound, notFound.Code())
	})

	t.Run("RoundTrip", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, testRecord()))

		record, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "pub-1", record.Public["signing"])
		assert.Equal(t, "prv-1", record.Private["signing"])
	})

	t.Run("InvalidUidFailsFast", func(t *testing.T) {
		store := newTestStore()

		_, err := store.Get(ctx, "not-a-guid")
		var dataErr *DataAccessError
		assert.ErrorAs(t, err, &dataErr)
	})

	t.Run("CustomUidPattern", func(t *testing.T) {
		store := New(NewInMemoryTableRepository(), "KeysPartition",
			WithUIDPattern(regexp.MustCompile(`^user-\d+$`)))

		require.NoError(t, store.Set(ctx, "user-42", testRecord()))
		_, err := store.Get(ctx, "user-42")
		assert.NoError(t, err)

		_, err = store.Get(ctx, uuid.NewString())
		var dataErr *DataAccessError
		assert.ErrorAs(t, err, &dataErr)
	})
}

func TestStoreSet(t *testing.T) {
	ctx := context.Background()

	t.Run("ReplaceIsIdempotent", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		record := testRecord()
		require.NoError(t, store.Set(ctx, uid, record))
		require.NoError(t, store.Set(ctx, uid, record))

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "pub-1", stored.Public["signing"])
	})

	t.Run("ReplaceDropsOldKeys", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, testRecord()))
		require.NoError(t, store.Set(ctx, uid, Record{
			Public:  map[string]any{"other": "pub-2"},
			Private: map[string]any{},
		}))

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"other": "pub-2"}, stored.Public)
		assert.Empty(t, stored.Private)
	})
}

func TestStoreMergeUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("MergesAndDeletes", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, Record{
			Public:  map[string]any{"a": "1", "b": "2"},
			Private: map[string]any{"p": "old"},
		}))

		err := store.MergeUpdate(ctx, uid,
			map[string]any{"b": nil, "c": "3"},
			map[string]any{"p": "new"})
		require.NoError(t, err)

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "1", "c": "3"}, stored.Public)
		assert.Equal(t, map[string]any{"p": "new"}, stored.Private)
	})

	t.Run("NullStringMarkerDeletes", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, Record{
			Public:  map[string]any{"a": "1", "b": "2"},
			Private: map[string]any{},
		}))

		require.NoError(t, store.MergeUpdate(ctx, uid, map[string]any{"b": "null"}, nil))

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "1"}, stored.Public)
	})

	t.Run("MailboxesMergeOneLevelDeeper", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, Record{
			Public: map[string]any{
				"signing":   "pub-1",
				"mailboxes": map[string]any{"inbox": "mb-1", "archive": "mb-2"},
			},
			Private: map[string]any{},
		}))

		err := store.MergeUpdate(ctx, uid, map[string]any{
			"mailboxes": map[string]any{"archive": nil, "shared": "mb-3"},
		}, nil)
		require.NoError(t, err)

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "pub-1", stored.Public["signing"])
		assert.Equal(t, map[string]any{"inbox": "mb-1", "shared": "mb-3"}, stored.Public["mailboxes"])
	})

	t.Run("UntouchedSectionPreserved", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.Set(ctx, uid, testRecord()))
		require.NoError(t, store.MergeUpdate(ctx, uid, map[string]any{"extra": "pub-x"}, nil))

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, "prv-1", stored.Private["signing"])
		assert.Equal(t, "pub-x", stored.Public["extra"])
	})

	t.Run("CreatesMissingRecord", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()

		require.NoError(t, store.MergeUpdate(ctx, uid, map[string]any{"a": "1"}, nil))

		stored, err := store.Get(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "1"}, stored.Public)
		assert.Empty(t, stored.Private)
	})

	t.Run("InvalidUidFailsFast", func(t *testing.T) {
		store := newTestStore()

		err := store.MergeUpdate(ctx, "nope", map[string]any{"a": "1"}, nil)
		var dataErr *DataAccessError
		assert.ErrorAs(t, err, &dataErr)
	})
}

func TestStorePublicKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("ReturnsOnlyPublicSections", func(t *testing.T) {
		store := newTestStore()
		uid1, uid2 := uuid.NewString(), uuid.NewString()

		require.NoError(t, store.Set(ctx, uid1, testRecord()))
		require.NoError(t, store.Set(ctx, uid2, Record{
			Public:  map[string]any{"signing": "pub-2"},
			Private: map[string]any{"signing": "prv-2"},
		}))

		keys, err := store.PublicKeys(ctx, []string{uid1, uid2})
		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Equal(t, "pub-1", keys[uid1]["signing"])
		assert.Equal(t, "pub-2", keys[uid2]["signing"])
	})

	t.Run("MissingUidsOmitted", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()
		require.NoError(t, store.Set(ctx, uid, testRecord()))

		keys, err := store.PublicKeys(ctx, []string{uid, uuid.NewString()})
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Contains(t, keys, uid)
	})

	t.Run("NoMatchesIsNotFound", func(t *testing.T) {
		store := newTestStore()

		_, err := store.PublicKeys(ctx, []string{uuid.NewString()})
		var notFound *NotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("AnyInvalidUidFailsFast", func(t *testing.T) {
		store := newTestStore()
		uid := uuid.NewString()
		require.NoError(t, store.Set(ctx, uid, testRecord()))

		_, err := store.PublicKeys(ctx, []string{uid, "bad-uid"})
		var dataErr *DataAccessError
		assert.ErrorAs(t, err, &dataErr)
	})
}
