// Package docker runs programs as short-lived processes inside containers.
//
// This is the batch strategy behind POST /run: strong timeout enforcement and
// a real process boundary, but no interactive input. The container's stdin is
// never attached, so a program that calls input() sees EOF.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/monitor"
)

// TimeoutExitCode matches the convention of coreutils `timeout`.
const TimeoutExitCode = 124

// CancelledExitCode is reported when the caller went away mid-run, as a
// shell reports a process killed by SIGINT.
const CancelledExitCode = 130

// TimeoutNotice is appended to the output of a run that was killed.
const TimeoutNotice = "\nExecution timed out.\n"

// Runner implements executor.Runner using Docker.
type Runner struct {
	cli     *client.Client
	config  Config
	logger  *slog.Logger
	pool    *Pool
	metrics *monitor.Metrics
	tracer  *monitor.Tracer
}

var _ executor.Runner = (*Runner)(nil)

// New connects to the Docker daemon, makes sure the image is present and
// starts the pre-warmed pool. It fails fast when the daemon is unreachable so
// the server can start without the /run endpoint.
func New(ctx context.Context, cfg Config, metrics *monitor.Metrics, tracer *monitor.Tracer, logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: daemon unreachable: %w", err)
	}

	pullCtx, cancelPull := context.WithTimeout(ctx, 2*time.Minute)
	defer cancelPull()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(pullCtx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: pulling %s: %w", cfg.Image, err)
	}
	// Drain the progress stream; the pull is done when it hits EOF.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	r := &Runner{
		cli:     cli,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
	r.pool = NewPool(cli, cfg, metrics, logger)
	r.pool.Start()

	return r, nil
}

// Close stops the pool and the client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Run executes code with the configured interpreter command and returns the
// combined stdout+stderr.
func (r *Runner) Run(ctx context.Context, code string) (*executor.RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()

	ctx, span := r.tracer.StartSpan(ctx, "run",
		monitor.AttrExecID.String(runID),
		monitor.AttrVariant.String(monitor.VariantBatch),
		monitor.AttrCodeBytes.Int(len(code)),
	)

	containerID, err := r.pool.Acquire(ctx)
	if err != nil {
		monitor.EndSpan(span, "error", err.Error())
		return nil, fmt.Errorf("docker: acquiring container: %w", err)
	}
	// Containers are single-use: whatever the program did to /tmp or its
	// process table is thrown away with it.
	defer r.pool.Discard(containerID)

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	cmd := append(append([]string(nil), r.config.Command...), code)
	execResp, err := r.cli.ContainerExecCreate(runCtx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		monitor.EndSpan(span, "error", err.Error())
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		monitor.EndSpan(span, "error", err.Error())
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attach.Close()

	// Both streams go to the same buffer: the client sees them interleaved in
	// the order the daemon delivered them.
	combined := &limitedBuffer{limit: r.config.MaxOutputBytes}
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(combined, combined, attach.Reader)
		copied <- err
	}()

	res := &executor.RunResult{}
	state := executor.StateCompleted
	select {
	case err := <-copied:
		if err != nil && !errors.Is(err, io.EOF) {
			r.logger.Warn("docker: reading exec output", slog.String("id", runID), slog.String("error", err.Error()))
		}
		inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
		if err == nil {
			res.ExitCode = inspect.ExitCode
		}
		if res.ExitCode != 0 {
			state = executor.StateFaulted
		}
	case <-runCtx.Done():
		state = interruptedState(ctx, runCtx)
		if state == executor.StateTimedOut {
			res.ExitCode = TimeoutExitCode
			res.TimedOut = true
		} else {
			res.ExitCode = CancelledExitCode
		}
	}

	res.Output = combined.String()
	if res.TimedOut {
		res.Output += TimeoutNotice
	}
	res.Duration = time.Since(start)

	monitor.EndSpan(span, state.String(), "")
	r.metrics.RecordExecution(monitor.VariantBatch, state.String(), res.Duration.Seconds())

	r.logger.Info("batch run finished",
		slog.String("id", runID),
		slog.String("state", state.String()),
		slog.Int("exitCode", res.ExitCode),
		slog.Duration("duration", res.Duration),
	)

	return res, nil
}

// interruptedState reports why runCtx ended before the program did. Only the
// run's own deadline counts as a timeout; a cancelled or expired parent means
// the caller went away.
func interruptedState(parent, runCtx context.Context) executor.State {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return executor.StateTimedOut
	}
	return executor.StateFaulted
}

// limitedBuffer keeps the first limit bytes and silently drops the rest so a
// runaway print loop cannot exhaust server memory. On timeout it is read while
// StdCopy may still be writing, hence the mutex.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = true
			return len(p), nil
		}
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
			return len(p), nil
		}
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return b.buf.String() + "\n[output truncated]\n"
	}
	return b.buf.String()
}
