package wsport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/snippetrunner/internal/messenger"
)

const clientOrigin = "https://editor.example.com"

// startServer accepts one connection and hands its port to the test.
func startServer(t *testing.T) (wsURL string, ports <-chan *Port) {
	t.Helper()
	ch := make(chan *Port, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := Accept(w, r, nil)
		if err != nil {
			return
		}
		ch <- p
		_ = p.Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch
}

func TestOriginOf(t *testing.T) {
	for in, want := range map[string]string{
		"ws://localhost:8080/heartbeat/ws?id=1": "http://localhost:8080",
		"wss://runner.example.com/x":            "https://runner.example.com",
		"https://editor.example.com/edit":       "https://editor.example.com",
	} {
		got, err := OriginOf(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := OriginOf("ftp://x")
	assert.Error(t, err)
}

func TestPort_RoundTripWithMessenger(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL, ports := startServer(t)
	client, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	go func() { _ = client.Run(ctx) }()
	defer client.Close()

	var server *Port
	select {
	case server = <-ports:
	case <-ctx.Done():
		t.Fatal("no connection accepted")
	}
	assert.Equal(t, clientOrigin, server.PeerOrigin())

	// The server trusts the client's origin; the client trusts the server's.
	serverSide, err := messenger.New(clientOrigin, server, nil)
	require.NoError(t, err)
	clientSide, err := messenger.New(client.PeerOrigin(), client, nil)
	require.NoError(t, err)

	got := make(chan string, 1)
	sub := messenger.Subscribe(serverSide, func(r messenger.RefreshRequest) { got <- r.ID })
	defer sub.Unsubscribe()

	require.NoError(t, clientSide.Send(client, messenger.RefreshRequest{ID: "L123"}))
	select {
	case id := <-got:
		assert.Equal(t, "L123", id)
	case <-ctx.Done():
		t.Fatal("refresh request not received")
	}

	back := make(chan messenger.Type, 1)
	sub2 := clientSide.Listen().Subscribe(func(m messenger.Message) { back <- m.Type })
	defer sub2.Unsubscribe()
	require.NoError(t, serverSide.Send(server, messenger.HeartbeatInitialized{}))
	select {
	case typ := <-back:
		assert.Equal(t, messenger.TypeHeartbeatInitialized, typ)
	case <-ctx.Done():
		t.Fatal("heartbeat message not received")
	}
}

func TestPort_DropsOtherTargetOrigins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL, ports := startServer(t)
	client, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	go func() { _ = client.Run(ctx) }()
	defer client.Close()
	server := <-ports

	received := make(chan messenger.Event, 2)
	remove := server.AddListener(func(ev messenger.Event) { received <- ev })
	defer remove()

	require.NoError(t, client.PostMessage([]byte("nope"), "https://someone-else.example.com"))
	require.NoError(t, client.PostMessage([]byte("yes"), client.PeerOrigin()))

	select {
	case ev := <-received:
		assert.Equal(t, "yes", string(ev.Data))
		assert.Equal(t, clientOrigin, ev.Origin)
	case <-ctx.Done():
		t.Fatal("frame not received")
	}
}

func TestPort_CloseIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL, ports := startServer(t)
	client, err := Dial(ctx, wsURL, clientOrigin, nil)
	require.NoError(t, err)
	server := <-ports

	client.Close()
	client.Close()
	select {
	case <-server.Done():
	case <-ctx.Done():
		t.Fatal("server port did not observe the close")
	}
	assert.Error(t, client.PostMessage([]byte("late"), client.PeerOrigin()))
}
