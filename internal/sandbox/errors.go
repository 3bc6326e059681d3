package sandbox

import (
	"errors"
	"regexp"
	"strconv"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/protocol"
)

// stackFrame matches "at file:line:col" and "at fn (file:line:col" frames
var stackFrame = regexp.MustCompile(`(?m)^\s*at (?:[^\n(]*\()?([^\s():]+):(\d+):\d+`)

// syntaxPosition matches the "file: Line n:c" prefix of parser errors
var syntaxPosition = regexp.MustCompile(`^(.+?): Line (\d+):\d+ `)

// Describe extracts the message, file and line of a failure.
// Fields are best effort: values thrown without an Error object, and
// failures raised by the host, may leave Filename empty and Line zero.
func Describe(err error) protocol.ErrorRecord {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		rec := protocol.ErrorRecord{Message: exceptionMessage(ex)}
		rec.Filename, rec.Line = framePosition(ex.String())
		return rec
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		rec := protocol.ErrorRecord{Message: syntax.Message}
		if syntax.File != nil {
			pos := syntax.File.Position(syntax.Offset)
			rec.Filename, rec.Line = pos.Filename, pos.Line
		} else if m := syntaxPosition.FindStringSubmatch(syntax.Message); m != nil {
			rec.Filename = m[1]
			rec.Line, _ = strconv.Atoi(m[2])
		}
		return rec
	}

	return protocol.ErrorRecord{Message: err.Error()}
}

func exceptionMessage(ex *goja.Exception) string {
	val := ex.Value()
	if val == nil {
		return ex.Error()
	}
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return val.String()
}

// framePosition returns the innermost frame that has a source position
func framePosition(stack string) (string, int) {
	m := stackFrame.FindStringSubmatch(stack)
	if m == nil {
		return "", 0
	}
	line, err := strconv.Atoi(m[2])
	if err != nil {
		return m[1], 0
	}
	return m[1], line
}
