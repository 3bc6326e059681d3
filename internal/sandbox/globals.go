package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/script"
)

// ErrImportDenied is thrown into the script when importScripts names a path
// outside the allow-list
var ErrImportDenied = errors.New("import not allowed")

// hostOnly are names a host runtime would normally provide; they stay undefined.
// The event loop installs require and the immediate functions itself.
var hostOnly = []string{
	"require", "process", "module", "exports", "global", "__filename", "__dirname",
	"setImmediate", "clearImmediate",
}

// setupGlobals provisions the capability surface, one step per capability
func (c *Context) setupGlobals() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"json", c.setupJSON},
		{"isolation", c.setupIsolation},
		{"self", c.setupSelf},
		{"location", c.setupLocation},
		{"lifecycle", c.setupLifecycle},
		{"messaging", c.setupMessaging},
		{"events", c.setupEvents},
		{"imports", c.setupImports},
		{"timers", c.setupTimers},
		{"console", c.setupConsole},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to set up %s: %w", step.name, err)
		}
	}
	return nil
}

func (c *Context) setupJSON() error {
	obj := c.vm.Get("JSON").ToObject(c.vm)

	stringify, ok := goja.AssertFunction(obj.Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify unavailable")
	}
	parse, ok := goja.AssertFunction(obj.Get("parse"))
	if !ok {
		return errors.New("JSON.parse unavailable")
	}

	c.stringify = stringify
	c.parse = parse
	return nil
}

func (c *Context) setupIsolation() error {
	for _, name := range hostOnly {
		if err := c.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) setupSelf() error {
	return c.vm.Set("self", c.global)
}

func (c *Context) setupLocation() error {
	loc := c.vm.NewObject()
	fields := map[string]string{
		"protocol": c.location.Protocol,
		"pathname": c.location.Pathname,
		"href":     c.location.Href,
	}
	for k, v := range fields {
		if err := loc.DefineDataProperty(k, c.vm.ToValue(v), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}
	if err := loc.Set("toString", func(goja.FunctionCall) goja.Value {
		return c.vm.ToValue(c.location.Href)
	}); err != nil {
		return err
	}
	return c.global.DefineDataProperty("location", loc, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

func (c *Context) setupLifecycle() error {
	getter := c.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return c.vm.ToValue(c.closing)
	})
	if err := c.global.DefineAccessorProperty("closing", getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
		return err
	}

	return c.vm.Set("close", func(goja.FunctionCall) goja.Value {
		c.host.Close()
		return goja.Undefined()
	})
}

func (c *Context) setupMessaging() error {
	return c.vm.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if c.closing {
			return goja.Undefined()
		}

		payload := "null"
		out, err := c.stringify(goja.Undefined(), call.Argument(0))
		if err != nil {
			panic(err)
		}
		if out != nil && !goja.IsUndefined(out) {
			payload = out.String()
		}

		if err := c.host.PostMessage([]byte(payload)); err != nil {
			c.logger.Warn("Failed to post message", zap.Error(err))
		}
		return goja.Undefined()
	})
}

func (c *Context) setupEvents() error {
	add := func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		registered, known := c.listeners[event]
		if !known {
			return goja.Undefined()
		}
		handler := call.Argument(1)
		fn, ok := goja.AssertFunction(handler)
		if !ok {
			return goja.Undefined()
		}
		c.listeners[event] = append(registered, listener{value: handler, fn: fn})
		return goja.Undefined()
	}

	remove := func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		registered, known := c.listeners[event]
		if !known {
			return goja.Undefined()
		}
		handler := call.Argument(1)
		for i, l := range registered {
			if l.value.StrictEquals(handler) {
				c.listeners[event] = append(registered[:i:i], registered[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	}

	if err := c.vm.Set("addEventListener", add); err != nil {
		return err
	}
	return c.vm.Set("removeEventListener", remove)
}

func (c *Context) setupImports() error {
	for _, pattern := range c.config.ImportAllow {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid import pattern %q", pattern)
		}
	}

	return c.vm.Set("importScripts", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			name := arg.String()
			if err := c.importScript(name); err != nil {
				if IsInterrupt(err) {
					// re-arm so the importing script unwinds as well
					c.Interrupt()
					return goja.Undefined()
				}
				var ex *goja.Exception
				if errors.As(err, &ex) {
					panic(ex)
				}
				panic(c.vm.NewGoError(err))
			}
		}
		return goja.Undefined()
	})
}

// importScript loads one file and runs it to completion in this context
func (c *Context) importScript(name string) (err error) {
	path := script.Resolve(c.config.WorkDir, name)
	if c.importHook != nil {
		defer func() { c.importHook(path, err) }()
	}

	if !c.importAllowed(path) {
		return fmt.Errorf("%w: %s", ErrImportDenied, name)
	}

	src, err := script.ReadFile(path)
	if err != nil {
		return err
	}
	src.Name = name

	c.logger.Debug("Importing script", zap.String("path", path))
	return c.run(src)
}

func (c *Context) importAllowed(path string) bool {
	if len(c.config.ImportAllow) == 0 {
		return false
	}

	candidate := path
	if rel, err := filepath.Rel(c.config.WorkDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		candidate = rel
	}
	candidate = filepath.ToSlash(candidate)

	for _, pattern := range c.config.ImportAllow {
		if ok, _ := doublestar.Match(pattern, candidate); ok {
			return true
		}
	}
	return false
}

func (c *Context) setupTimers() error {
	schedule := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				panic(c.vm.NewTypeError("callback must be a function"))
			}

			var delay time.Duration
			if d := call.Argument(1); !goja.IsUndefined(d) {
				delay = time.Duration(d.ToFloat() * float64(time.Millisecond))
			}

			var args []goja.Value
			if len(call.Arguments) > 2 {
				args = append(args, call.Arguments[2:]...)
			}

			id := c.loop.SetTimer(delay, repeat, func() {
				c.Invoke(fn, args...)
			})
			return c.vm.ToValue(id)
		}
	}

	cancel := func(call goja.FunctionCall) goja.Value {
		if id := call.Argument(0); !goja.IsUndefined(id) && !goja.IsNull(id) {
			c.loop.ClearTimer(id.ToInteger())
		}
		return goja.Undefined()
	}

	bindings := map[string]interface{}{
		"setTimeout":    schedule(false),
		"setInterval":   schedule(true),
		"clearTimeout":  cancel,
		"clearInterval": cancel,
	}
	for name, fn := range bindings {
		if err := c.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) setupConsole() error {
	if !c.config.EnableConsole {
		return nil
	}

	console := c.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, c.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	return c.vm.Set("console", console)
}

// makeConsoleFunc creates a console function that writes to the worker log
func (c *Context) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	logger := c.logger.Named("console")
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "warn":
			logger.Warn(msg)
		case "error":
			logger.Error(msg)
		case "debug":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
		return goja.Undefined()
	}
}
