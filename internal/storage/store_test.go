package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.MemoryStore.Get(ctx, key)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "a1/u1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a1/u1", []byte("first")))
	require.NoError(t, store.Put(ctx, "a1/u1", []byte("second")))
	require.NoError(t, store.Put(ctx, "a1/u2", []byte("other")))
	require.NoError(t, store.Put(ctx, "a2/u1", []byte("elsewhere")))

	data, err := store.Get(ctx, "a1/u1")
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	keys, err := store.List(ctx, "a1/")
	require.NoError(t, err)
	require.Equal(t, []string{"a1/u1", "a1/u2"}, keys)

	require.NoError(t, store.Delete(ctx, "a1/u1"))
	require.ErrorIs(t, store.Delete(ctx, "a1/u1"), ErrNotFound)

	_, err = store.Get(ctx, "../escape")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestNamespacedStore(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	models := NewNamespaced(backing, BucketModelSolutions)
	submissions := NewNamespaced(backing, BucketSubmissions)

	require.NoError(t, models.Put(ctx, "42", []byte("reference")))
	require.NoError(t, submissions.Put(ctx, "42/student-1", []byte("submission")))

	_, err := models.Get(ctx, "42/student-1")
	require.ErrorIs(t, err, ErrNotFound)

	data, err := backing.Get(ctx, "model_solutions/42")
	require.NoError(t, err)
	require.Equal(t, "reference", string(data))

	keys, err := submissions.List(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{"42/student-1"}, keys)

	require.ErrorIs(t, models.Put(ctx, "", []byte("x")), ErrInvalidKey)
}

func TestJoinKeyRejectsSeparators(t *testing.T) {
	key, err := JoinKey("42", "student-1")
	require.NoError(t, err)
	require.Equal(t, "42/student-1", key)

	_, err = JoinKey("42", "../../etc")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestCachedStoreServesFromRedis(t *testing.T) {
	ctx := context.Background()
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	backing := &countingStore{MemoryStore: NewMemoryStore()}
	cached := NewCachedStore(backing, client, time.Minute, zerolog.Nop())

	require.NoError(t, cached.Put(ctx, "model_solutions/1", []byte("v1")))

	for i := 0; i < 3; i++ {
		data, err := cached.Get(ctx, "model_solutions/1")
		require.NoError(t, err)
		require.Equal(t, "v1", string(data))
	}
	require.Equal(t, 1, backing.gets)
	require.True(t, server.Exists("grading:archive:model_solutions/1"))

	require.NoError(t, cached.Put(ctx, "model_solutions/1", []byte("v2")))
	require.False(t, server.Exists("grading:archive:model_solutions/1"))

	data, err := cached.Get(ctx, "model_solutions/1")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
	require.Equal(t, 2, backing.gets)

	require.NoError(t, cached.Delete(ctx, "model_solutions/1"))
	_, err = cached.Get(ctx, "model_solutions/1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCachedStoreWithoutRedis(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	cached := NewCachedStore(backing, nil, 0, zerolog.Nop())

	require.NoError(t, cached.Put(ctx, "k", []byte("v")))
	data, err := cached.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(data))
}
