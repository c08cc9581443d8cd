package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedium_ReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	m := NewSpace().Medium()

	_, ok, err := m.Read(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Write(ctx, "c", `{"a":1}`))
	blob, ok, err := m.Read(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"a":1}`, blob)

	require.NoError(t, m.Delete(ctx, "c"))
	_, ok, _ = m.Read(ctx, "c")
	assert.False(t, ok)
}

func TestMedium_WatchReportsOnlyExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	space := NewSpace()
	editor := space.Medium()
	runner := space.Medium()

	events := make(chan struct{}, 8)
	stop, err := runner.Watch(ctx, "c", func() { events <- struct{}{} })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, runner.Write(ctx, "c", "own"))
	require.NoError(t, editor.Write(ctx, "other", "x"))
	require.NoError(t, editor.Write(ctx, "c", "external"))

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected a notification for the external write")
	}
	select {
	case <-events:
		t.Fatal("own writes and other containers must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMedium_StopFromInsideCallback(t *testing.T) {
	ctx := context.Background()
	space := NewSpace()
	editor := space.Medium()
	runner := space.Medium()

	calls := make(chan struct{}, 8)
	var stop func()
	stop, err := runner.Watch(ctx, "c", func() {
		calls <- struct{}{}
		stop()
	})
	require.NoError(t, err)

	require.NoError(t, editor.Write(ctx, "c", "1"))
	<-calls
	require.NoError(t, editor.Write(ctx, "c", "2"))

	select {
	case <-calls:
		t.Fatal("watcher stopped from its own callback must not fire again")
	case <-time.After(50 * time.Millisecond):
	}
	stop()
}

func TestMedium_ForkHasItsOwnWriterIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := NewSpace().Medium()
	runner := shared.Fork()
	require.NotEqual(t, shared.ID(), runner.(*Medium).ID())

	events := make(chan struct{}, 8)
	stop, err := runner.Watch(ctx, "c", func() { events <- struct{}{} })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, shared.Write(ctx, "c", "from the shared handle"))
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("a write through the original handle must reach the fork's watcher")
	}

	blob, ok, err := runner.Read(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from the shared handle", blob)
}
