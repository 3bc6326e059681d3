/*
Package sandbox provides the isolated JavaScript context a worker script runs in.

# Overview

Each worker owns one Context backed by a goja runtime. The global object
exposes a fixed set of capabilities and nothing else:

  - postMessage, close, closing, self, location
  - addEventListener and removeEventListener for "message"
  - importScripts for loading more files into the same context
  - setTimeout, setInterval, clearTimeout, clearInterval
  - console, routed to the worker log

Host runtime names such as require and process are explicitly undefined.

# Event Loop

A Context is driven by a Loop built on goja_nodejs' eventloop, which also
owns the runtime. Script code only ever runs on the goroutine calling
Loop.Run; channel readers hand work over with Loop.Post. The loop returns
once it is stopped or no timer and no Hold can wake it up.

# Failures

Uncaught failures from top-level code, callbacks and timers go to the
failure hook registered with SetFailureHook. Describe turns a failure into
the message, file and line reported to the parent.

# Usage Example

	loop := sandbox.NewLoop()
	loop.Run(func(vm *goja.Runtime) {
		ctx, err := sandbox.New(vm, sandbox.DefaultConfig(), loc, host, loop, logger)
		if err != nil {
			return
		}
		ctx.SetFailureHook(onFailure)
		ctx.Execute(src)
	})
	loop.Terminate()
*/
package sandbox
