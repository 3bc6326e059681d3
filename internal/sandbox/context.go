package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/webworker/internal/script"
)

// errClosing is the interrupt value used to unwind script code after close()
var errClosing = errors.New("worker closing")

type listener struct {
	value goja.Value
	fn    goja.Callable
}

// Context is the global environment a worker script runs in.
// It is not safe for concurrent use: every method must be called on the
// goroutine running the owning Loop.
type Context struct {
	vm       *goja.Runtime
	global   *goja.Object
	config   Config
	host     Host
	loop     *Loop
	logger   *logging.Logger
	location script.Location

	closing   bool
	listeners map[string][]listener

	// Captured before any script runs so redefining JSON cannot affect the host
	stringify goja.Callable
	parse     goja.Callable

	failureHook func(error)
	importHook  func(path string, err error)
}

// New builds the context and its capability surface on vm, the runtime the
// loop hands to Run
func New(vm *goja.Runtime, config Config, loc script.Location, host Host, loop *Loop, logger *logging.Logger) (*Context, error) {
	if vm == nil {
		return nil, errors.New("sandbox: runtime is required")
	}
	if host == nil {
		return nil, errors.New("sandbox: host is required")
	}
	if loop == nil {
		return nil, errors.New("sandbox: loop is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		config.WorkDir = wd
	}

	if config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	c := &Context{
		vm:        vm,
		global:    vm.GlobalObject(),
		config:    config,
		host:      host,
		loop:      loop,
		logger:    logger,
		location:  loc,
		listeners: map[string][]listener{EventMessage: {}},
	}

	if err := c.setupGlobals(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetFailureHook registers the callback that receives uncaught failures
func (c *Context) SetFailureHook(hook func(error)) {
	c.failureHook = hook
}

// SetImportHook registers a callback observing every importScripts load
func (c *Context) SetImportHook(hook func(path string, err error)) {
	c.importHook = hook
}

// Execute compiles and runs src at top level. Failures go to the failure hook.
func (c *Context) Execute(src *script.Source) {
	if err := c.run(src); err != nil {
		c.fail(err)
	}
}

// Invoke calls fn with the global object as receiver. Failures go to the failure hook.
func (c *Context) Invoke(fn goja.Callable, args ...goja.Value) {
	if err := c.Call(fn, args...); err != nil {
		c.fail(err)
	}
}

// Call calls fn with the global object as receiver and returns its failure
func (c *Context) Call(fn goja.Callable, args ...goja.Value) error {
	_, err := fn(c.global, args...)
	return err
}

// OnMessage returns the onmessage slot if it holds a function
func (c *Context) OnMessage() goja.Callable {
	return c.slot("onmessage")
}

// OnError returns the onerror slot if it holds a function
func (c *Context) OnError() goja.Callable {
	return c.slot("onerror")
}

// OnClose returns the onclose slot if it holds a function
func (c *Context) OnClose() goja.Callable {
	return c.slot("onclose")
}

// Listeners returns a snapshot of the callbacks registered for event
func (c *Context) Listeners(event string) []goja.Callable {
	registered := c.listeners[event]
	fns := make([]goja.Callable, len(registered))
	for i, l := range registered {
		fns[i] = l.fn
	}
	return fns
}

// HasMessageHandlers reports whether a USER message would be delivered
func (c *Context) HasMessageHandlers() bool {
	return c.OnMessage() != nil || len(c.listeners[EventMessage]) > 0
}

// NewMessageEvent builds the event object handed to message handlers
func (c *Context) NewMessageEvent(payload json.RawMessage, handle *os.File) (goja.Value, error) {
	data := goja.Null()
	if len(payload) > 0 {
		v, err := c.parse(goja.Undefined(), c.vm.ToValue(string(payload)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode message payload: %w", err)
		}
		data = v
	}

	event := c.vm.NewObject()
	if err := event.Set("data", data); err != nil {
		return nil, err
	}
	if handle != nil {
		if err := event.Set("fd", int64(handle.Fd())); err != nil {
			return nil, err
		}
	}
	return event, nil
}

// ErrorValue returns the value a failure carries into onerror
func (c *Context) ErrorValue(err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return ex.Value()
	}
	return c.vm.NewGoError(err)
}

// MarkClosing sets the closing flag. It never goes back to false.
func (c *Context) MarkClosing() {
	c.closing = true
}

// Closing reports the closing flag
func (c *Context) Closing() bool {
	return c.closing
}

// Interrupt unwinds any script code currently on the stack
func (c *Context) Interrupt() {
	c.vm.Interrupt(errClosing)
}

// Location returns the main script location
func (c *Context) Location() script.Location {
	return c.location
}

// Runtime exposes the underlying VM
func (c *Context) Runtime() *goja.Runtime {
	return c.vm
}

func (c *Context) run(src *script.Source) error {
	prog, err := goja.Compile(src.Name, string(src.Code), false)
	if err != nil {
		return err
	}
	_, err = c.vm.RunProgram(prog)
	return err
}

func (c *Context) fail(err error) {
	if IsInterrupt(err) {
		return
	}
	if c.failureHook == nil {
		c.logger.Warn("Uncaught script failure", zap.Error(err))
		return
	}
	c.failureHook(err)
}

func (c *Context) slot(name string) goja.Callable {
	v := c.global.Get(name)
	if v == nil {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return fn
}

// IsInterrupt reports whether err is the unwinding caused by Interrupt
func IsInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}
