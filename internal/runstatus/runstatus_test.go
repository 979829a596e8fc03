package runstatus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, zap.NewNop())
}

func TestPublishAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Publish(ctx, Status{
		RunID:     "run-1",
		Mode:      "funded_projects",
		Geography: "Kenya",
		Phase:     "research",
		Iteration: 2,
	})

	st, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "research", st.Phase)
	assert.Equal(t, 2, st.Iteration)
	assert.False(t, st.UpdatedAt.IsZero())
}

func TestGetMissingRun(t *testing.T) {
	store := newTestStore(t)

	st, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSeenCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.False(t, store.Seen(ctx, "ghgi_data", "Kenya", "https://a.example/x"))

	store.MarkSeen(ctx, "ghgi_data", "Kenya", "https://a.example/x", "https://a.example/y")

	assert.True(t, store.Seen(ctx, "ghgi_data", "Kenya", "https://a.example/x"))
	assert.True(t, store.Seen(ctx, "ghgi_data", "Kenya", "https://a.example/y"))
	// Scopes are independent.
	assert.False(t, store.Seen(ctx, "funded_projects", "Kenya", "https://a.example/x"))
	assert.False(t, store.Seen(ctx, "ghgi_data", "Ghana", "https://a.example/x"))
}

func TestDegradesWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewWithClient(client, zap.NewNop())
	mr.Close()

	ctx := context.Background()
	store.Publish(ctx, Status{RunID: "run-1"})
	store.MarkSeen(ctx, "ghgi_data", "Kenya", "https://a.example/x")
	assert.False(t, store.Seen(ctx, "ghgi_data", "Kenya", "https://a.example/x"))
}
