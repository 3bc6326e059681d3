package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds how long Close waits to deliver the close frame
const closeGrace = time.Second

// WebSocket is a Channel backed by a gorilla websocket connection
type WebSocket struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func dialWebSocketUnix(ctx context.Context, path string, opts Options) (*WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	// Host is ignored by the custom dialer but must be present for the handshake
	return dialWith(ctx, &dialer, "ws://localhost/", opts)
}

func dialWebSocket(ctx context.Context, rawURL string, opts Options) (*WebSocket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
	}
	return dialWith(ctx, &dialer, rawURL, opts)
}

func dialWith(ctx context.Context, dialer *websocket.Dialer, rawURL string, opts Options) (*WebSocket, error) {
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return NewWebSocket(conn, opts), nil
}

// NewWebSocket wraps an established connection
func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	if opts.MaxFrameBytes > 0 {
		conn.SetReadLimit(opts.MaxFrameBytes)
	}
	return &WebSocket{
		conn:   conn,
		closed: make(chan struct{}),
	}
}

// Send writes one text frame
func (w *WebSocket) Send(frame Frame) error {
	if frame.Handle != nil {
		return ErrHandleNotSupported
	}
	if w.isClosed() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, frame.Data)
}

// Receive reads the next data frame. Text and binary frames are delivered as-is.
func (w *WebSocket) Receive() (Frame, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if w.isClosed() {
			return Frame{}, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Frame{}, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return Frame{}, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		}
		return Frame{}, err
	}
	return Frame{Data: data}, nil
}

// Close sends a normal closure and tears down the connection. Safe to call repeatedly.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = w.conn.Close()
	})
	return err
}

func (w *WebSocket) isClosed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}
