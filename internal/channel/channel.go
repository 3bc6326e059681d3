package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	ErrClosed             = errors.New("channel is closed")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrUnsupportedAddr    = errors.New("unsupported channel address")
	ErrHandleNotSupported = errors.New("transport cannot carry handles")
)

// Frame is one discrete message on the channel.
// Handle is nil unless a descriptor travelled with the frame.
type Frame struct {
	Data   []byte
	Handle *os.File
}

// Channel is an ordered, reliable connection to the parent.
// Receive blocks until the next frame arrives and returns ErrClosed (or
// io.EOF when the peer went away) once no more frames can be delivered.
// Close is idempotent.
type Channel interface {
	Send(frame Frame) error
	Receive() (Frame, error)
	Close() error
}

// Dialer establishes a Channel to an address
type Dialer interface {
	Dial(ctx context.Context, address string) (Channel, error)
}

// Options configures transports
type Options struct {
	MaxFrameBytes int64
	Timeout       time.Duration
}

// DefaultOptions returns the transport defaults
func DefaultOptions() Options {
	return Options{
		MaxFrameBytes: 64 << 20,
		Timeout:       10 * time.Second,
	}
}

// NetDialer dials the transport selected by the address scheme
type NetDialer struct {
	Options Options
}

// NewDialer creates a dialer with the given options
func NewDialer(opts Options) *NetDialer {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultOptions().MaxFrameBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	return &NetDialer{Options: opts}
}

// Dial connects to address.
//
//	/path/to.sock, ws+unix:///path/to.sock  WebSocket over a UNIX socket
//	ws://host:port/path                      WebSocket over TCP
//	unix:///path/to.sock                     framed stream with descriptor passing
func (d *NetDialer) Dial(ctx context.Context, address string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Options.Timeout)
	defer cancel()

	kind, target, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	var ch Channel
	switch kind {
	case KindWebSocketUnix:
		ch, err = wrapDial(dialWebSocketUnix(ctx, target, d.Options))
	case KindWebSocket:
		ch, err = wrapDial(dialWebSocket(ctx, target, d.Options))
	case KindFramed:
		ch, err = wrapDial(dialFramed(ctx, target, d.Options))
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedAddr, address)
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// wrapDial keeps typed nil pointers out of the Channel interface
func wrapDial[T Channel](ch T, err error) (Channel, error) {
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Kind identifies a transport
type Kind int

const (
	KindWebSocketUnix Kind = iota
	KindWebSocket
	KindFramed
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindWebSocketUnix:
		return "ws+unix"
	case KindWebSocket:
		return "ws"
	case KindFramed:
		return "unix"
	default:
		return "unknown"
	}
}

// ParseAddress splits an address into its transport and target.
// For UNIX transports the target is the socket path; for ws:// it is the URL.
func ParseAddress(address string) (Kind, string, error) {
	if address == "" {
		return 0, "", fmt.Errorf("%w: empty address", ErrUnsupportedAddr)
	}
	if !strings.Contains(address, "://") {
		return KindWebSocketUnix, address, nil
	}

	u, err := url.Parse(address)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrUnsupportedAddr, err)
	}

	switch u.Scheme {
	case "ws+unix":
		if u.Path == "" {
			return 0, "", fmt.Errorf("%w: missing socket path in %q", ErrUnsupportedAddr, address)
		}
		return KindWebSocketUnix, u.Path, nil
	case "ws", "wss":
		return KindWebSocket, address, nil
	case "unix":
		if u.Path == "" {
			return 0, "", fmt.Errorf("%w: missing socket path in %q", ErrUnsupportedAddr, address)
		}
		return KindFramed, u.Path, nil
	default:
		return 0, "", fmt.Errorf("%w: scheme %q", ErrUnsupportedAddr, u.Scheme)
	}
}
