package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer accepts one websocket connection on a UNIX socket and echoes frames back
func echoServer(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parent.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return path
}

func openTemp(t *testing.T) (*os.File, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(path, []byte("shared through the socket"), 0o600); err != nil {
		return nil, err
	}
	return os.Open(path)
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		kind    Kind
		target  string
		wantErr bool
	}{
		{name: "bare path", address: "/tmp/w.sock", kind: KindWebSocketUnix, target: "/tmp/w.sock"},
		{name: "ws+unix", address: "ws+unix:///tmp/w.sock", kind: KindWebSocketUnix, target: "/tmp/w.sock"},
		{name: "ws tcp", address: "ws://127.0.0.1:9000/w", kind: KindWebSocket, target: "ws://127.0.0.1:9000/w"},
		{name: "framed", address: "unix:///tmp/w.sock", kind: KindFramed, target: "/tmp/w.sock"},
		{name: "empty", address: "", wantErr: true},
		{name: "http", address: "http://x", wantErr: true},
		{name: "unix without path", address: "unix://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, target, err := ParseAddress(tt.address)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedAddr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	path := echoServer(t)

	ch, err := NewDialer(DefaultOptions()).Dial(context.Background(), path)
	require.NoError(t, err)
	defer ch.Close()

	frames := []string{`[3,"a"]`, `[3,"b"]`, `[0,null]`}
	for _, f := range frames {
		require.NoError(t, ch.Send(Frame{Data: []byte(f)}))
	}

	for _, want := range frames {
		got, err := ch.Receive()
		require.NoError(t, err)
		assert.Equal(t, want, string(got.Data))
		assert.Nil(t, got.Handle)
	}
}

func TestWebSocketCloseIdempotent(t *testing.T) {
	path := echoServer(t)

	ch, err := NewDialer(DefaultOptions()).Dial(context.Background(), "ws+unix://"+path)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		ch.Close()
		ch.Close()
	})

	assert.ErrorIs(t, ch.Send(Frame{Data: []byte(`[0,null]`)}), ErrClosed)

	_, err = ch.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWebSocketRejectsHandles(t *testing.T) {
	path := echoServer(t)

	ch, err := NewDialer(DefaultOptions()).Dial(context.Background(), path)
	require.NoError(t, err)
	defer ch.Close()

	f, err := openTemp(t)
	require.NoError(t, err)
	defer f.Close()

	assert.ErrorIs(t, ch.Send(Frame{Data: []byte(`[3,1]`), Handle: f}), ErrHandleNotSupported)
}

func TestWebSocketPeerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parent.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	upgrader := websocket.Upgrader{}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	})}
	go srv.Serve(ln)
	defer srv.Close()

	ch, err := NewDialer(DefaultOptions()).Dial(context.Background(), path)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Receive()
	assert.True(t, errors.Is(err, io.EOF), "expected io.EOF, got %v", err)
}

func TestDialFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 500 * time.Millisecond

	_, err := NewDialer(opts).Dial(context.Background(), filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, err)
}

func TestNewDialerDefaults(t *testing.T) {
	d := NewDialer(Options{})
	assert.Equal(t, DefaultOptions(), d.Options)
}
