package editor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/messenger"
	"github.com/vk/snippetrunner/internal/model"
	"github.com/vk/snippetrunner/internal/store"
	"github.com/vk/snippetrunner/internal/store/memory"
)

// frozenClock never advances, which exercises the prev+1 rule.
func frozenClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newService(t *testing.T, opts ...Option) (*Service, *memory.Space) {
	t.Helper()
	space := memory.NewSpace()
	return New(space.Medium(), opts...), space
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t, WithClock(frozenClock(1000)))
	ctx := context.Background()

	s, err := svc.Create(ctx, "excel", "")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "EXCEL", s.Host)
	assert.Equal(t, "Blank snippet", s.Name)
	assert.Equal(t, int64(1000), s.CreatedAt)
	assert.Equal(t, int64(1000), s.ModifiedAt)

	lo, err := svc.LastOpened(ctx)
	require.NoError(t, err)
	require.NotNil(t, lo)
	assert.Equal(t, s.ID, lo.ID)

	_, err = svc.Create(ctx, " ", "x")
	assert.True(t, fault.Is(err, fault.Malformed))
}

func TestSave_ModifiedAtStrictlyIncreases(t *testing.T) {
	svc, _ := newService(t, WithClock(frozenClock(1000)))
	ctx := context.Background()

	s, err := svc.Create(ctx, "EXCEL", "demo")
	require.NoError(t, err)

	prev := s.ModifiedAt
	for i := 0; i < 5; i++ {
		s.Script.Content = "console.log(" + string(rune('a'+i)) + ")"
		s, err = svc.Save(ctx, s)
		require.NoError(t, err)
		assert.Greater(t, s.ModifiedAt, prev)
		prev = s.ModifiedAt
	}
	assert.Equal(t, int64(1000), s.CreatedAt)

	lo, err := svc.LastOpened(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ModifiedAt, lo.ModifiedAt, "the open snippet follows saves")
	assert.Equal(t, s.Script.Content, lo.Script.Content)
}

func TestSave_UsesWallClockWhenAhead(t *testing.T) {
	var now atomic.Int64
	now.Store(1000)
	svc, _ := newService(t, WithClock(func() time.Time { return time.UnixMilli(now.Load()) }))
	ctx := context.Background()

	s, err := svc.Create(ctx, "EXCEL", "demo")
	require.NoError(t, err)
	now.Store(5000)
	s, err = svc.Save(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), s.ModifiedAt)
}

func TestSave_Validation(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Save(context.Background(), model.Snippet{Host: "EXCEL"})
	assert.True(t, fault.Is(err, fault.Malformed))
	_, err = svc.Save(context.Background(), model.Snippet{ID: "x"})
	assert.True(t, fault.Is(err, fault.Malformed))
}

func TestTwoEditorsConverge(t *testing.T) {
	space := memory.NewSpace()
	a := New(space.Medium(), WithClock(frozenClock(1000)))
	b := New(space.Medium(), WithClock(frozenClock(1000)))
	ctx := context.Background()

	s1, err := a.Create(ctx, "EXCEL", "one")
	require.NoError(t, err)
	s2, err := b.Create(ctx, "EXCEL", "two")
	require.NoError(t, err)

	list, err := a.List(ctx, "EXCEL")
	require.NoError(t, err)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, ids, "b's write must not be lost by a")

	// b saves a snippet a last wrote; the timestamp still increases.
	got, err := b.Get(ctx, "EXCEL", s1.ID)
	require.NoError(t, err)
	saved, err := b.Save(ctx, got)
	require.NoError(t, err)
	assert.Greater(t, saved.ModifiedAt, s1.ModifiedAt)
}

func TestOpenAndDelete(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "EXCEL", "a")
	require.NoError(t, err)
	b, err := svc.Create(ctx, "EXCEL", "b")
	require.NoError(t, err)

	_, err = svc.Open(ctx, "EXCEL", a.ID)
	require.NoError(t, err)
	lo, _ := svc.LastOpened(ctx)
	assert.Equal(t, a.ID, lo.ID)

	require.NoError(t, svc.Delete(ctx, "EXCEL", b.ID))
	lo, _ = svc.LastOpened(ctx)
	require.NotNil(t, lo, "deleting another snippet keeps last opened")
	assert.Equal(t, a.ID, lo.ID)

	require.NoError(t, svc.Delete(ctx, "EXCEL", a.ID))
	lo, _ = svc.LastOpened(ctx)
	assert.Nil(t, lo)

	err = svc.Delete(ctx, "EXCEL", a.ID)
	assert.True(t, fault.Is(err, fault.NotFound))
	_, err = svc.Open(ctx, "EXCEL", "nope")
	assert.True(t, fault.Is(err, fault.NotFound))
}

func TestResolve_FallsBackToUnsavedLastOpened(t *testing.T) {
	svc, space := newService(t)
	ctx := context.Background()

	unsaved, err := svc.OpenUnsaved(ctx, model.Snippet{Name: "draft", Host: "word", Script: model.Code{Content: "1"}})
	require.NoError(t, err)
	assert.NotEmpty(t, unsaved.ID)

	_, ok := space.Raw(model.SnippetsContainer("WORD"))
	assert.False(t, ok, "unsaved snippets are not stored")

	got, err := svc.Resolve(ctx, "WORD", unsaved.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Name)

	_, err = svc.Resolve(ctx, "EXCEL", unsaved.ID)
	assert.True(t, fault.Is(err, fault.NotFound), "last opened is scoped to its host")
}

func TestList_NewestFirst(t *testing.T) {
	var now atomic.Int64
	svc, _ := newService(t, WithClock(func() time.Time { return time.UnixMilli(now.Add(10)) }))
	ctx := context.Background()

	first, err := svc.Create(ctx, "EXCEL", "first")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "EXCEL", "second")
	require.NoError(t, err)

	list, err := svc.List(ctx, "EXCEL")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestRequestRefresh(t *testing.T) {
	bus := messenger.NewBus()
	defer bus.Close()
	editorPort := bus.Open("https://editor.example.com")
	runnerPort := bus.Open("https://runner.example.com")

	m, err := messenger.New("https://runner.example.com", editorPort, nil)
	require.NoError(t, err)
	svc, _ := newService(t, WithMessenger(m))

	received := make(chan messenger.Event, 1)
	remove := runnerPort.AddListener(func(ev messenger.Event) { received <- ev })
	defer remove()

	require.NoError(t, svc.RequestRefresh(editorPort.To(runnerPort), "L9"))
	select {
	case ev := <-received:
		msg, err := messenger.Decode(ev.Data)
		require.NoError(t, err)
		assert.Equal(t, messenger.RefreshRequest{ID: "L9"}, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("refresh request not delivered")
	}

	plain, _ := newService(t)
	assert.Error(t, plain.RequestRefresh(editorPort.To(runnerPort), "L9"))
}

func TestStoreSeesEditorWrites(t *testing.T) {
	svc, space := newService(t)
	ctx := context.Background()
	s, err := svc.Create(ctx, "EXCEL", "x")
	require.NoError(t, err)

	reader := store.New[model.Snippet](space.Medium(), model.SnippetsContainer("EXCEL"))
	require.NoError(t, reader.Load(ctx))
	got, ok := reader.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, s.ModifiedAt, got.ModifiedAt)
}
