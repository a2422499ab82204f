// Package interactive runs programs in-process and relays input() values to
// them from separate HTTP requests.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/pyrelay/internal/capture"
	"github.com/sakif/pyrelay/internal/evaluator"
	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/monitor"
	"github.com/sakif/pyrelay/internal/relay"
)

// Config holds orchestrator settings.
type Config struct {
	// Timeout bounds one execution, including time spent waiting for input.
	// Zero means no limit: a program blocked in input() then waits until the
	// client disconnects or the server shuts down.
	Timeout time.Duration
}

// Hooks let a streaming caller observe an execution while it runs.
type Hooks struct {
	// OnOutput receives each chunk written to stdout or stderr.
	OnOutput capture.Observer
	// OnInputRequest fires when the program blocks in input().
	OnInputRequest func()
}

// Orchestrator ties the evaluator, output capture and relay registry together
// for each request.
type Orchestrator struct {
	eval     *evaluator.Evaluator
	registry *relay.Registry
	config   Config
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
	logger   *slog.Logger
}

var _ executor.Interactive = (*Orchestrator)(nil)

// New creates an Orchestrator. The registry is owned by the caller (the
// server) so its lifetime matches the process.
func New(
	eval *evaluator.Evaluator,
	registry *relay.Registry,
	cfg Config,
	metrics *monitor.Metrics,
	tracer *monitor.Tracer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		eval:     eval,
		registry: registry,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
		logger:   logger,
	}
}

// Execute implements executor.Executor.
func (o *Orchestrator) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	return o.ExecuteWithHooks(ctx, req, Hooks{})
}

// ExecuteWithHooks runs req to a terminal state.
//
// LIFECYCLE:
//
//	Idle → Running:  open a relay channel under the session ID, start capture,
//	                 launch the evaluator on its own goroutine
//	Running → Completed | Faulted | TimedOut
//	* → Cleaned:     deregister the channel and release buffers (deferred, so
//	                 it runs on every path including panics)
//
// Faults in the program never surface as a Go error; they are reported in
// ExecutionResult.Error.
func (o *Orchestrator) ExecuteWithHooks(ctx context.Context, req executor.ExecutionRequest, hooks Hooks) (*executor.ExecutionResult, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = executor.DefaultSessionID
	}
	execID := uuid.NewString()

	ctx, span := o.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(execID),
		monitor.AttrSessionID.String(sessionID),
		monitor.AttrVariant.String(monitor.VariantInteractive),
		monitor.AttrCodeBytes.Int(len(req.Code)),
	)

	var cancel context.CancelFunc
	if o.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	// === Idle → Running ===
	ch := o.registry.Open(sessionID)
	o.metrics.ActiveSessions.Set(float64(o.registry.Active()))

	var opts []capture.Option
	if hooks.OnOutput != nil {
		opts = append(opts, capture.WithObserver(hooks.OnOutput))
	}
	buffers := capture.New(opts...)

	start := time.Now()
	result := &executor.ExecutionResult{ID: execID, State: executor.StateRunning}

	// === * → Cleaned ===
	defer func() {
		cancel()
		o.registry.Release(ch)
		buffers.Release()
		o.metrics.ActiveSessions.Set(float64(o.registry.Active()))

		var faultMsg string
		if result.State != executor.StateCompleted && result.Error != nil {
			faultMsg = *result.Error
		}
		monitor.EndSpan(span, result.State.String(), faultMsg)
		o.metrics.RecordExecution(monitor.VariantInteractive, result.State.String(), result.Duration.Seconds())

		o.logger.Info("execution finished",
			slog.String("id", execID),
			slog.String("session", sessionID),
			slog.String("state", result.State.String()),
			slog.Duration("duration", result.Duration),
		)
	}()

	o.logger.Debug("execution started",
		slog.String("id", execID),
		slog.String("session", sessionID),
		slog.Int("codeBytes", len(req.Code)),
	)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("internal evaluator error: %v", r)
			}
		}()
		done <- o.eval.Run(ctx, req.Code, evaluator.Env{
			Stdout:         buffers.Stdout(),
			Stderr:         buffers.Stderr(),
			Input:          ch.RequestValue,
			OnInputRequest: hooks.OnInputRequest,
		})
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		// The evaluator goroutine notices the cancellation on its own; its
		// late writes land in released buffers and are dropped.
		runErr = ctx.Err()
	}
	result.Duration = time.Since(start)

	// === Running → terminal state ===
	switch {
	case runErr == nil:
		captured := buffers.Result()
		result.State = executor.StateCompleted
		result.Output = executor.StringPtr(captured.Output)
		result.Error = captured.Error

	case errors.Is(ctx.Err(), context.DeadlineExceeded) && o.config.Timeout > 0:
		result.State = executor.StateTimedOut
		result.Error = executor.StringPtr(fmt.Sprintf("execution timed out after %s", o.config.Timeout))

	case ctx.Err() != nil:
		result.State = executor.StateFaulted
		result.Error = executor.StringPtr("execution cancelled")

	default:
		result.State = executor.StateFaulted
		result.Error = executor.StringPtr(runErr.Error())

		var fault *evaluator.Fault
		if errors.As(runErr, &fault) {
			o.logger.Debug("program faulted",
				slog.String("id", execID),
				slog.String("backtrace", fault.Backtrace()),
			)
		}
	}

	return result, nil
}

// SupplyInput implements executor.Interactive.
func (o *Orchestrator) SupplyInput(sessionID, value string) error {
	if sessionID == "" {
		sessionID = executor.DefaultSessionID
	}

	if err := o.registry.Supply(sessionID, value); err != nil {
		o.metrics.RecordInput("no_session")
		o.logger.Debug("input for inactive session", slog.String("session", sessionID))
		return err
	}

	o.metrics.RecordInput("delivered")
	return nil
}
