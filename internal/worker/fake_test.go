package worker

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/channel"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/sandbox"
)

const waitTimeout = 5 * time.Second

// fakeChannel is an in-memory parent connection
type fakeChannel struct {
	inbound chan channel.Frame
	out     chan string
	closed  chan struct{}

	mu         sync.Mutex
	closeCount int
	eofOnce    sync.Once
	closeOnce  sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		inbound: make(chan channel.Frame, 16),
		out:     make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeChannel) Send(frame channel.Frame) error {
	select {
	case <-f.closed:
		return channel.ErrClosed
	default:
	}
	f.out <- string(frame.Data)
	return nil
}

func (f *fakeChannel) Receive() (channel.Frame, error) {
	select {
	case frame, ok := <-f.inbound:
		if !ok {
			return channel.Frame{}, io.EOF
		}
		return frame, nil
	case <-f.closed:
		return channel.Frame{}, channel.ErrClosed
	}
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) push(data string) {
	f.inbound <- channel.Frame{Data: []byte(data)}
}

// eof simulates the parent going away without CLOSE
func (f *fakeChannel) eof() {
	f.eofOnce.Do(func() { close(f.inbound) })
}

func (f *fakeChannel) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// next returns the next outbound frame or fails the test
func (f *fakeChannel) next(t *testing.T) string {
	t.Helper()
	select {
	case data := <-f.out:
		return data
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for outbound message")
		return ""
	}
}

// none asserts nothing was sent
func (f *fakeChannel) none(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.out:
		t.Fatalf("unexpected outbound message %s", data)
	default:
	}
}

type fakeDialer struct {
	ch  *fakeChannel
	err error

	mu    sync.Mutex
	calls int
	addrs []string
}

func (d *fakeDialer) Dial(_ context.Context, address string) (channel.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.addrs = append(d.addrs, address)
	if d.err != nil {
		return nil, d.err
	}
	return d.ch, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// writeScript stores code as name under dir and returns the path
func writeScript(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func newTestWorker(t *testing.T, code string) (*Worker, *fakeChannel, *fakeDialer) {
	t.Helper()
	dir := t.TempDir()
	path := writeScript(t, dir, "main.js", code)

	cfg := sandbox.DefaultConfig()
	cfg.WorkDir = dir

	fc := newFakeChannel()
	dialer := &fakeDialer{ch: fc}
	w := New(Options{
		Address:  "parent.sock",
		Location: path,
		Sandbox:  cfg,
		Dialer:   dialer,
	})
	return w, fc, dialer
}

// startWorker boots the worker and runs its script on the test goroutine.
// The loop returns right away since nothing holds it, so the test goroutine
// then stands in for the loop goroutine: dispatch can be called directly.
func startWorker(t *testing.T, code string) (*Worker, *fakeChannel) {
	t.Helper()
	w, fc, _ := newTestWorker(t, code)

	loc, src, err := w.start(context.Background())
	require.NoError(t, err)

	var bootErr error
	w.loop.Run(func(vm *goja.Runtime) { bootErr = w.boot(vm, loc, src) })
	require.NoError(t, bootErr)

	t.Cleanup(w.terminate)
	return w, fc
}

// runWorker runs the worker on its own goroutine
func runWorker(t *testing.T, ctx context.Context, code string) (*Worker, *fakeChannel, <-chan error) {
	t.Helper()
	w, fc, _ := newTestWorker(t, code)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(fc.eof)
	return w, fc, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for worker to stop")
		return nil
	}
}

func frame(data string) channel.Frame {
	return channel.Frame{Data: []byte(data)}
}
