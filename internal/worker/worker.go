package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/channel"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/script"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/shared/id"
)

var (
	ErrConnect        = errors.New("cannot connect to parent")
	ErrAlreadyStarted = errors.New("worker already started")
)

// State is the lifecycle state of a worker
type State int32

const (
	StateConnecting State = iota
	StateRunning
	StateClosing
	StateTerminated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StartupError is a fatal failure before the script started running
type StartupError struct {
	Op  string
	Err error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Options configures a worker
type Options struct {
	Address  string // channel address of the parent
	Location string // script location
	Sandbox  sandbox.Config
	Dialer   channel.Dialer
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
}

// Worker drives one script from connection to termination
type Worker struct {
	id       id.WorkerID
	address  string
	location string
	config   sandbox.Config
	dialer   channel.Dialer
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	state   atomic.Int32
	started atomic.Bool

	loop    *sandbox.Loop
	sandbox *sandbox.Context
	ch      channel.Channel

	closeOnce sync.Once
	recvDone  chan struct{} // set when the receiver starts

	// Owned by the loop goroutine
	handlingError bool
	handles       []*os.File
}

// New creates a worker. Nothing happens until Run.
func New(opts Options) *Worker {
	wid := id.NewWorkerID()

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.NewMetrics(nil)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = channel.NewDialer(channel.DefaultOptions())
	}

	w := &Worker{
		id:       wid,
		address:  opts.Address,
		location: opts.Location,
		config:   opts.Sandbox,
		dialer:   dialer,
		logger:   logger.ForWorker(wid.String()),
		metrics:  metrics,
		loop:     sandbox.NewLoop(),
	}
	w.setState(StateConnecting)
	return w
}

// ID returns the worker instance id
func (w *Worker) ID() id.WorkerID {
	return w.id
}

// State returns the current lifecycle state. Safe for concurrent use.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run starts the worker and blocks until it terminates.
// A nil return means graceful shutdown; startup failures are *StartupError.
// Cancelling ctx closes the worker the same way a CLOSE message does.
func (w *Worker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if created, err := w.id.Timestamp(); err == nil {
		w.logger.Debug("Worker starting", zap.Time("created", created))
	}

	loc, src, err := w.start(ctx)
	if err != nil {
		w.setState(StateTerminated)
		return err
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutdown requested", zap.Error(ctx.Err()))
			w.loop.Post(w.shutdown)
		case <-stop:
		}
	}()

	var bootErr error
	w.loop.Run(func(vm *goja.Runtime) {
		if bootErr = w.boot(vm, loc, src); bootErr != nil {
			return
		}
		// Released by the receiver once the parent goes away
		w.loop.Hold()
		w.recvDone = make(chan struct{})
		go w.receive(w.recvDone)
	})
	close(stop)

	if bootErr != nil {
		w.loop.Terminate()
		w.setState(StateTerminated)
		return bootErr
	}

	w.terminate()
	return nil
}

// start resolves and loads the script, then connects to the parent
func (w *Worker) start(ctx context.Context) (script.Location, *script.Source, error) {
	loc, err := script.ParseLocation(w.location)
	if err != nil {
		return loc, nil, &StartupError{Op: "resolve script", Err: err}
	}

	src, err := script.Load(loc)
	if err != nil {
		return loc, nil, &StartupError{Op: "load script", Err: err}
	}

	ch, err := w.dialer.Dial(ctx, w.address)
	if err != nil {
		return loc, nil, &StartupError{Op: "connect", Err: fmt.Errorf("%w %s: %w", ErrConnect, w.address, err)}
	}
	w.ch = ch
	w.logger.Info("Connected to parent", zap.String("address", w.address))
	return loc, src, nil
}

// boot builds the context on the loop's runtime and runs the script once.
// Loop goroutine only.
func (w *Worker) boot(vm *goja.Runtime, loc script.Location, src *script.Source) error {
	sc, err := sandbox.New(vm, w.config, loc, &host{w: w}, w.loop, w.logger)
	if err != nil {
		w.closeChannel()
		return &StartupError{Op: "create context", Err: err}
	}
	sc.SetFailureHook(w.intercept)
	sc.SetImportHook(w.recordImport)
	w.sandbox = sc
	w.loop.OnPanic = w.recoverPanic

	w.setState(StateRunning)

	w.logger.Info("Running script", zap.String("script", loc.Href))
	sc.Execute(src)
	return nil
}

// receive forwards inbound frames to the loop in arrival order
func (w *Worker) receive(done chan<- struct{}) {
	defer close(done)

	for {
		frame, err := w.ch.Receive()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				w.logger.Info("Parent disconnected")
			case errors.Is(err, channel.ErrClosed):
			default:
				w.logger.Warn("Channel receive failed", zap.Error(err))
			}
			w.loop.Post(w.loop.Release)
			return
		}

		if !w.loop.Post(func() { w.dispatch(frame) }) {
			closeHandle(frame.Handle)
			return
		}
	}
}

// shutdown is the close path shared by CLOSE, close() and cancellation.
// Only the first call has any effect.
func (w *Worker) shutdown() {
	if !w.transition(StateRunning, StateClosing) {
		return
	}
	w.logger.Info("Worker closing", zap.Int("pending_timers", w.loop.Pending()))

	w.sandbox.MarkClosing()
	w.closeChannel()

	if fn := w.sandbox.OnClose(); fn != nil {
		w.sandbox.Invoke(fn)
	}

	w.loop.Stop()
	w.sandbox.Interrupt()
}

// terminate releases everything once the loop has returned
func (w *Worker) terminate() {
	// A parent EOF ends the loop without going through shutdown
	w.transition(StateRunning, StateClosing)
	w.sandbox.MarkClosing()
	w.closeChannel()
	if w.recvDone != nil {
		<-w.recvDone
	}

	// Post fails from here on
	w.loop.Terminate()

	for _, f := range w.handles {
		closeHandle(f)
	}
	w.handles = nil

	w.setState(StateTerminated)
	w.logger.Info("Worker terminated")
}

func (w *Worker) closeChannel() {
	w.closeOnce.Do(func() {
		if err := w.ch.Close(); err != nil {
			w.logger.Debug("Channel close failed", zap.Error(err))
		}
	})
}

// send writes one outbound message. Failures are logged, never fatal.
func (w *Worker) send(msgType protocol.Type, data []byte) {
	if err := w.ch.Send(channel.Frame{Data: data}); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			w.logger.Debug("Dropped outbound message on closed channel", zap.Stringer("tag", msgType))
		} else {
			w.logger.Warn("Failed to send message", zap.Stringer("tag", msgType), zap.Error(err))
		}
		return
	}
	w.metrics.RecordSent(msgType.String())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.metrics.SetState(int(s), s.String())
}

func (w *Worker) transition(from, to State) bool {
	if !w.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	w.metrics.SetState(int(to), to.String())
	return true
}

func (w *Worker) recordImport(path string, err error) {
	if err != nil {
		w.metrics.RecordImport("failed")
		return
	}
	w.metrics.RecordImport("ok")
}

func (w *Worker) recoverPanic(v interface{}) {
	w.logger.Error("Recovered panic in event loop", zap.Any("panic", v))
	w.intercept(fmt.Errorf("panic: %v", v))
}

// host carries script actions back to the worker
type host struct {
	w *Worker
}

func (h *host) PostMessage(payload []byte) error {
	data, err := protocol.EncodeUser(payload)
	if err != nil {
		return err
	}
	h.w.send(protocol.TypeUser, data)
	return nil
}

func (h *host) Close() {
	h.w.shutdown()
}

func closeHandle(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
