package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPair connects two handles to the server named by
// SNIPPETRUNNER_TEST_REDIS_URL, skipping the test when it is unset.
func newPair(t *testing.T) (*Medium, *Medium) {
	t.Helper()
	url := os.Getenv("SNIPPETRUNNER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SNIPPETRUNNER_TEST_REDIS_URL not set")
	}
	opt, err := goredis.ParseURL(url)
	require.NoError(t, err)

	prefix := "test-" + uuid.NewString()
	a := New(goredis.NewClient(opt), prefix, nil)
	b := New(goredis.NewClient(opt), prefix, nil)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestMedium_WriteIsVisibleAndNotified(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	editor, runner := newPair(t)

	events := make(chan struct{}, 4)
	stop, err := runner.Watch(ctx, "c", func() { events <- struct{}{} })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, runner.Write(ctx, "c", "own"))
	require.NoError(t, editor.Write(ctx, "c", "external"))

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("external write was not reported")
	}
	select {
	case <-events:
		t.Fatal("own write must not be reported")
	case <-time.After(100 * time.Millisecond):
	}

	blob, ok, err := runner.Read(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "external", blob)

	require.NoError(t, editor.Delete(ctx, "c"))
	_, ok, err = runner.Read(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMedium_ForkIsNotifiedOfOriginalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shared, _ := newPair(t)
	runner := shared.Fork()

	events := make(chan struct{}, 4)
	stop, err := runner.Watch(ctx, "c", func() { events <- struct{}{} })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, shared.Write(ctx, "c", "from the shared handle"))
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("a write through the original handle must reach the fork's watcher")
	}

	require.NoError(t, runner.(*Medium).Close())
	require.NoError(t, shared.client.Ping(ctx).Err(), "closing a fork must keep the shared client open")
}
