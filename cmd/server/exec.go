package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/pyrelay/internal/capture"
	"github.com/sakif/pyrelay/internal/evaluator"
	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/executor/interactive"
	"github.com/sakif/pyrelay/internal/monitor"
	"github.com/sakif/pyrelay/internal/relay"
)

const execSession = "cli"

var execCmd = &cobra.Command{
	Use:   "exec <file>",
	Short: "Run a program locally with the terminal as its input",
	Long: `Run a program through the same evaluator and relay the server uses.

Output is streamed as it is produced. Each time the program calls input(),
one line is read from standard input and relayed to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading program: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	registry := relay.NewRegistry()
	defer registry.Close()

	orch := interactive.New(
		evaluator.New(cfg.EvaluatorConfig()),
		registry,
		interactive.Config{Timeout: cfg.Executor.Timeout},
		monitor.NewMetrics(),
		monitor.NewTracer(),
		logger,
	)

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	lines := newLineReader(cmd.InOrStdin())

	hooks := interactive.Hooks{
		OnOutput: func(stream string, chunk []byte) {
			if stream == capture.StreamStderr {
				stderr.Write(chunk)
				return
			}
			stdout.Write(chunk)
		},
		// The hook runs on the evaluator goroutine just before it blocks, so
		// the terminal read happens elsewhere.
		OnInputRequest: func() {
			go func() {
				line, err := lines.next()
				if err != nil {
					cancel(fmt.Errorf("reading input: %w", err))
					return
				}
				if err := orch.SupplyInput(execSession, line); err != nil {
					cancel(err)
				}
			}()
		},
	}

	res, err := orch.ExecuteWithHooks(ctx, executor.ExecutionRequest{
		Code:      string(code),
		SessionID: execSession,
	}, hooks)
	if err != nil {
		return err
	}

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if res.State != executor.StateCompleted && res.Error != nil {
		return errors.New(*res.Error)
	}
	return nil
}

// lineReader hands out one line per call. Trailing "\n" and "\r\n" are
// stripped to match what a browser input box sends.
type lineReader struct {
	sc *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{sc: bufio.NewScanner(r)}
}

func (l *lineReader) next() (string, error) {
	if l.sc.Scan() {
		return l.sc.Text(), nil
	}
	if err := l.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
