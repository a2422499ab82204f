package evaluator_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrelay/internal/evaluator"
)

func run(t *testing.T, src string, inputs ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	queue := append([]string(nil), inputs...)

	ev := evaluator.New(evaluator.DefaultConfig())
	err = ev.Run(context.Background(), src, evaluator.Env{
		Stdout: &out,
		Stderr: &errOut,
		Input: func(context.Context) (string, error) {
			if len(queue) == 0 {
				return "", errors.New("no more input")
			}
			v := queue[0]
			queue = queue[1:]
			return v, nil
		},
	})
	return out.String(), errOut.String(), err
}

func TestRun(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		inputs     []string
		wantStdout string
		wantStderr string
		wantFault  string // substring; empty means success
	}{
		{
			name:       "hello world",
			src:        `print("Hello World")`,
			wantStdout: "Hello World\n",
		},
		{
			name:       "print separators",
			src:        `print(1, "a", [2], sep="-", end="!")`,
			wantStdout: "1-a-[2]!",
		},
		{
			name:       "print to stderr",
			src:        `print("oops", file="stderr")`,
			wantStderr: "oops\n",
		},
		{
			name:       "input writes prompt then returns value",
			src:        `x = input("name: "); print("hi " + x)`,
			inputs:     []string{"bob"},
			wantStdout: "name: hi bob\n",
		},
		{
			name: "inputs are consumed in order",
			src: strings.Join([]string{
				`a = int(input())`,
				`b = int(input())`,
				`print(a - b)`,
			}, "\n"),
			inputs:     []string{"10", "3"},
			wantStdout: "7\n",
		},
		{
			name: "top level loops and recursion",
			src: strings.Join([]string{
				"def fib(n):",
				"    if n <= 1:",
				"        return n",
				"    return fib(n-1) + fib(n-2)",
				"total = 0",
				"for i in range(5):",
				"    total += i",
				"while total > 12:",
				"    total -= 1",
				"print(fib(10), total, len(set([1, 1, 2])))",
			}, "\n"),
			wantStdout: "55 10 2\n",
		},
		{
			name:      "runtime fault",
			src:       `x = 1 // 0`,
			wantFault: "division by zero",
		},
		{
			name:      "syntax error",
			src:       `print("Missing parenthesis"`,
			wantFault: "<main>:1",
		},
		{
			name:      "undefined name",
			src:       `open("/etc/passwd")`,
			wantFault: "undefined: open",
		},
		{
			name:      "builtin outside allow-list",
			src:       `print(sorted([3, 1]))`,
			wantFault: "name 'sorted' is not allowed",
		},
		{
			name:      "reflection is denied",
			src:       `print(dir("x"))`,
			wantFault: "name 'dir' is not allowed",
		},
		{
			name:      "no import mechanism",
			src:       `load("os", "system")`,
			wantFault: "load",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, err := run(t, tt.src, tt.inputs...)
			if tt.wantFault != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantFault)
				var fault *evaluator.Fault
				assert.True(t, errors.As(err, &fault))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStdout, stdout)
			assert.Equal(t, tt.wantStderr, stderr)
		})
	}
}

func TestFault_Backtrace(t *testing.T) {
	_, _, err := run(t, "def inner():\n    return 1 // 0\n\ndef outer():\n    return inner()\n\nouter()\n")
	var fault *evaluator.Fault
	require.ErrorAs(t, err, &fault)
	bt := fault.Backtrace()
	assert.Contains(t, bt, "outer")
	assert.Contains(t, bt, "inner")

	// Syntax errors have no call stack; the message is all there is.
	_, _, err = run(t, "print(")
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, fault.Error(), fault.Backtrace())
}

func TestRun_ContextCancelStopsLoop(t *testing.T) {
	ev := evaluator.New(evaluator.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ev.Run(ctx, "while True:\n    pass\n", evaluator.Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_StepBudget(t *testing.T) {
	ev := evaluator.New(evaluator.Config{MaxSteps: 1000})
	err := ev.Run(context.Background(), "for i in range(1000000):\n    pass\n", evaluator.Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many steps")
}

func TestRun_OnInputRequestFiresAfterPrompt(t *testing.T) {
	var out bytes.Buffer
	var seenAtRequest string

	ev := evaluator.New(evaluator.DefaultConfig())
	err := ev.Run(context.Background(), `input("? ")`, evaluator.Env{
		Stdout:         &out,
		OnInputRequest: func() { seenAtRequest = out.String() },
		Input:          func(context.Context) (string, error) { return "", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "? ", seenAtRequest)
}

func TestCapabilities_Names(t *testing.T) {
	caps := evaluator.NewCapabilities(nil, nil)
	names := caps.Names()
	for _, forbidden := range []string{"dir", "getattr", "hasattr", "sorted", "fail", "type"} {
		assert.NotContains(t, names, forbidden)
	}
	for _, allowed := range []string{"len", "str", "int", "float", "range", "list", "dict", "tuple", "bool"} {
		assert.Contains(t, names, allowed)
	}
}
