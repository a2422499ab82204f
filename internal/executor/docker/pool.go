package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/sakif/pyrelay/internal/monitor"
)

// Pool keeps a few idle containers running so a batch run only pays for
// `docker exec`, not for container creation.
//
// Every container is used exactly once: Acquire hands it out, Discard
// force-removes it, and the refill loop replaces it in the background.
type Pool struct {
	cli     *client.Client
	config  Config
	metrics *monitor.Metrics
	logger  *slog.Logger

	ready chan string
	done  chan struct{}
	wg    sync.WaitGroup
	start sync.Once
	stop  sync.Once
}

// NewPool creates a pool; call Start to begin filling it.
func NewPool(cli *client.Client, cfg Config, metrics *monitor.Metrics, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size < 1 {
		size = 1
	}
	return &Pool{
		cli:     cli,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		ready:   make(chan string, size),
		done:    make(chan struct{}),
	}
}

// Start launches the refill loop. Calling it again is a no-op.
func (p *Pool) Start() {
	p.start.Do(func() {
		p.logger.Info("starting container pool", slog.Int("size", cap(p.ready)))
		p.wg.Add(1)
		go p.refill()
	})
}

// Stop ends the refill loop and removes every idle container.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		p.logger.Info("stopping container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.ready:
				p.remove(id)
			default:
				p.metrics.ContainerPoolSize.Set(0)
				return
			}
		}
	})
}

// Acquire takes an idle container, waiting until one is ready or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.ready:
		p.metrics.ContainerPoolSize.Set(float64(len(p.ready)))
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("container pool stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Discard removes a container handed out by Acquire.
func (p *Pool) Discard(id string) {
	p.remove(id)
}

func (p *Pool) refill() {
	defer p.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-p.done:
			return
		default:
		}

		id, err := p.create()
		if err != nil {
			p.logger.Error("creating pooled container", slog.String("error", err.Error()))
			select {
			case <-time.After(backoff):
			case <-p.done:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		// Blocks while the pool is full; that is the only throttle needed.
		select {
		case p.ready <- id:
			p.metrics.ContainerPoolSize.Set(float64(len(p.ready)))
		case <-p.done:
			p.remove(id)
			return
		}
	}
}

// create starts an idle container that does nothing until exec'd into.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,size=16m"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image: p.config.Image,
		Cmd:   []string{"sleep", "infinity"},
		User:  "nobody",
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.remove(resp.ID)
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

func (p *Pool) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("removing container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
