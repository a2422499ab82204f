// Package evaluator runs a submitted program in-process against a fixed set
// of builtins.
//
// THE LANGUAGE:
// Programs are written in Starlark, a Python dialect designed for embedding.
// It has no import statement unless the host provides one (we don't), no file,
// network or process access, and no reflection. The only way a program can
// touch the outside world is through the builtins in Capabilities.
//
// KNOWN WEAKNESS:
// The allow-list limits WHAT a program can call, not HOW MUCH it can consume.
// A tight loop or a huge list still burns CPU and memory in this process. The
// step budget (Config.MaxSteps) and the caller's context are the only brakes.
// This is not a substitute for process or container isolation.
package evaluator

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/sakif/pyrelay/internal/capture"
)

// Filename appears in fault positions, e.g. "<main>:3:5".
const Filename = "<main>"

// InputFunc supplies the value for one input() call. It blocks until the value
// is available or ctx is done.
type InputFunc func(ctx context.Context) (string, error)

// Config holds evaluator limits.
type Config struct {
	// MaxSteps caps interpreter steps per run. Zero means unlimited.
	MaxSteps uint64
}

// DefaultConfig returns limits suitable for a playground.
func DefaultConfig() Config {
	return Config{MaxSteps: 50_000_000}
}

// Env is everything one run is allowed to touch.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Input  InputFunc

	// OnInputRequest, if set, is called after the prompt has been written and
	// just before the run blocks waiting for a value.
	OnInputRequest func()
}

// Evaluator executes programs. It is stateless between runs and safe for
// concurrent use.
type Evaluator struct {
	config Config
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{config: cfg}
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Run executes src to completion. A nil return means the program finished
// normally; otherwise the error's text is the fault description (syntax
// error, runtime error, disallowed name, cancellation).
func (e *Evaluator) Run(ctx context.Context, src string, env Env) error {
	if env.Stdout == nil {
		env.Stdout = io.Discard
	}
	if env.Stderr == nil {
		env.Stderr = io.Discard
	}

	thread := &starlark.Thread{
		Name: "exec",
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(env.Stdout, msg)
		},
	}
	if e.config.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.config.MaxSteps)
	}

	// Cancel the interpreter when ctx ends so loops that never call input()
	// still stop.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-stop:
		}
	}()

	caps := NewCapabilities(printBuiltin(env), inputBuiltin(ctx, env))

	_, err := starlark.ExecFileOptions(fileOptions, thread, Filename, src, caps.table())
	if err != nil {
		return &Fault{err: err}
	}
	return nil
}

// Fault is a failure of the submitted program itself.
type Fault struct {
	err error
}

func (f *Fault) Error() string { return f.err.Error() }
func (f *Fault) Unwrap() error { return f.err }

// Backtrace returns the interpreter's call stack for runtime faults, or the
// plain message for syntax errors.
func (f *Fault) Backtrace() string {
	if evalErr, ok := f.err.(*starlark.EvalError); ok {
		return evalErr.Backtrace()
	}
	return f.err.Error()
}

// printBuiltin implements print(*args, sep=" ", end="\n", file="stdout").
func printBuiltin(env Env) *starlark.Builtin {
	return starlark.NewBuiltin("print", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		sep, end, file := " ", "\n", capture.StreamStdout

		for _, kv := range kwargs {
			key, _ := starlark.AsString(kv[0])
			if kv[1] == starlark.None {
				continue
			}
			val, ok := starlark.AsString(kv[1])
			if !ok {
				return nil, fmt.Errorf("%s: %s must be None or a string, not %s", b.Name(), key, kv[1].Type())
			}
			switch key {
			case "sep":
				sep = val
			case "end":
				end = val
			case "file":
				file = val
			default:
				return nil, fmt.Errorf("%s: unexpected keyword argument '%s'", b.Name(), key)
			}
		}

		var out io.Writer
		switch file {
		case capture.StreamStdout:
			out = env.Stdout
		case capture.StreamStderr:
			out = env.Stderr
		default:
			return nil, fmt.Errorf("%s: file must be \"stdout\" or \"stderr\"", b.Name())
		}

		var sb strings.Builder
		for i, arg := range args {
			if i > 0 {
				sb.WriteString(sep)
			}
			sb.WriteString(display(arg))
		}
		sb.WriteString(end)

		if _, err := io.WriteString(out, sb.String()); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

// inputBuiltin implements input(prompt=""). The prompt is written to stdout
// without a newline before the run blocks.
func inputBuiltin(ctx context.Context, env Env) *starlark.Builtin {
	return starlark.NewBuiltin("input", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prompt starlark.Value = starlark.String("")
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &prompt); err != nil {
			return nil, err
		}

		if _, err := io.WriteString(env.Stdout, display(prompt)); err != nil {
			return nil, err
		}
		if env.Input == nil {
			return nil, fmt.Errorf("%s: no input available", b.Name())
		}
		if env.OnInputRequest != nil {
			env.OnInputRequest()
		}

		v, err := env.Input(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.String(v), nil
	})
}

// display formats a value the way print() shows it: strings unquoted,
// everything else in its repr form.
func display(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
