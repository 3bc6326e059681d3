//go:build unix

package channel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	headerSize = 5
	flagHandle = 1 << 0

	readChunk = 32 << 10
	oobSize   = 64
)

// Framed is a Channel over a UNIX stream socket.
// Each frame is a 4-byte big-endian length, a flag byte and the body.
// A handle travels as SCM_RIGHTS on the header write.
type Framed struct {
	conn     *net.UnixConn
	maxFrame int64

	readMu  sync.Mutex
	pending []byte
	fds     []int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func dialFramed(ctx context.Context, path string, opts Options) (*Framed, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("unix dial failed: %w", err)
	}
	return NewFramed(conn.(*net.UnixConn), opts), nil
}

// NewFramed wraps an established UNIX connection
func NewFramed(conn *net.UnixConn, opts Options) *Framed {
	return &Framed{
		conn:     conn,
		maxFrame: opts.MaxFrameBytes,
		closed:   make(chan struct{}),
	}
}

// Send writes one frame, passing frame.Handle out of band when set
func (f *Framed) Send(frame Frame) error {
	if f.isClosed() {
		return ErrClosed
	}
	if f.maxFrame > 0 && int64(len(frame.Data)) > f.maxFrame {
		return ErrFrameTooLarge
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(frame.Data)))

	var oob []byte
	if frame.Handle != nil {
		header[4] |= flagHandle
		oob = unix.UnixRights(int(frame.Handle.Fd()))
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, _, err := f.conn.WriteMsgUnix(header[:], oob, nil); err != nil {
		return f.wrapErr(err)
	}
	if _, err := f.conn.Write(frame.Data); err != nil {
		return f.wrapErr(err)
	}
	return nil
}

// Receive reads the next frame
func (f *Framed) Receive() (Frame, error) {
	f.readMu.Lock()
	defer f.readMu.Unlock()

	header, err := f.readFull(headerSize)
	if err != nil {
		return Frame{}, err
	}

	size := int64(binary.BigEndian.Uint32(header[:4]))
	if f.maxFrame > 0 && size > f.maxFrame {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	var handle *os.File
	if header[4]&flagHandle != 0 {
		if len(f.fds) == 0 {
			return Frame{}, errors.New("frame flagged with handle but none received")
		}
		fd := f.fds[0]
		f.fds = f.fds[1:]
		handle = os.NewFile(uintptr(fd), "handle")
	}

	body, err := f.readFull(int(size))
	if err != nil {
		if handle != nil {
			handle.Close()
		}
		return Frame{}, err
	}

	data := make([]byte, len(body))
	copy(data, body)
	return Frame{Data: data, Handle: handle}, nil
}

// Close shuts the socket. Undelivered descriptors are closed as well.
func (f *Framed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.closed)
		err = f.conn.Close()

		f.readMu.Lock()
		for _, fd := range f.fds {
			unix.Close(fd)
		}
		f.fds = nil
		f.readMu.Unlock()
	})
	return err
}

// readFull returns the next n buffered bytes, reading from the socket as needed
func (f *Framed) readFull(n int) ([]byte, error) {
	for len(f.pending) < n {
		buf := make([]byte, readChunk)
		oob := make([]byte, unix.CmsgSpace(oobSize*4))

		nr, oobn, _, _, err := f.conn.ReadMsgUnix(buf, oob)
		if oobn > 0 {
			f.collectRights(oob[:oobn])
		}
		if nr > 0 {
			f.pending = append(f.pending, buf[:nr]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(f.pending) >= n {
				break
			}
			return nil, f.wrapErr(err)
		}
		if nr == 0 && oobn == 0 {
			return nil, io.EOF
		}
	}

	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *Framed) collectRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		f.fds = append(f.fds, fds...)
	}
}

func (f *Framed) wrapErr(err error) error {
	if f.isClosed() {
		return ErrClosed
	}
	return err
}

func (f *Framed) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}
