package sandbox

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/webworker/internal/protocol"
)

func runFailure(t *testing.T, name, code string) error {
	t.Helper()
	vm := goja.New()
	prog, err := goja.Compile(name, code, false)
	if err != nil {
		return err
	}
	_, err = vm.RunProgram(prog)
	require.Error(t, err)
	return err
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		file string
		code string
		want protocol.ErrorRecord
	}{
		{
			name: "top level throw",
			file: "a.js",
			code: "\n\n\n\n\n\nthrow new Error(\"boom\");",
			want: protocol.ErrorRecord{Message: "boom", Filename: "a.js", Line: 7},
		},
		{
			name: "thrown inside function",
			file: "lib/b.js",
			code: "function f() {\n  throw new RangeError(\"deep\");\n}\nf();",
			want: protocol.ErrorRecord{Message: "deep", Filename: "lib/b.js", Line: 2},
		},
		{
			name: "runtime type error",
			file: "c.js",
			code: "var x;\nx.y;",
			want: protocol.ErrorRecord{Filename: "c.js", Line: 2},
		},
		{
			name: "thrown string",
			file: "d.js",
			code: "throw \"plain\";",
			want: protocol.ErrorRecord{Message: "plain", Filename: "d.js", Line: 1},
		},
		{
			name: "syntax error",
			file: "e.js",
			code: "var ok = 1;\nvar = ;",
			want: protocol.ErrorRecord{Filename: "e.js", Line: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Describe(runFailure(t, tt.file, tt.code))

			if tt.want.Message != "" {
				assert.Equal(t, tt.want.Message, rec.Message)
			} else {
				assert.NotEmpty(t, rec.Message)
			}
			assert.Equal(t, tt.want.Filename, rec.Filename)
			assert.Equal(t, tt.want.Line, rec.Line)
		})
	}
}

func TestDescribeHostError(t *testing.T) {
	rec := Describe(errors.New("host failure"))
	assert.Equal(t, protocol.ErrorRecord{Message: "host failure"}, rec)
}

func TestFramePosition(t *testing.T) {
	tests := []struct {
		stack string
		file  string
		line  int
	}{
		{"Error: x\n\tat a.js:7:1(3)\n", "a.js", 7},
		{"Error: x\n\tat f (lib/b.js:2:9(4))\n\tat lib/b.js:4:1(7)\n", "lib/b.js", 2},
		{"Error: x\n\tat importScripts (native)\n\tat main.js:3:1(5)\n", "main.js", 3},
		{"Error: at line:1:2 in message only", "", 0},
		{"", "", 0},
	}

	for _, tt := range tests {
		file, line := framePosition(tt.stack)
		assert.Equal(t, tt.file, file, tt.stack)
		assert.Equal(t, tt.line, line, tt.stack)
	}
}
