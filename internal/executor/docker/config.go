package docker

import (
	"time"
)

// Config holds the configuration for batch runs in Docker.
type Config struct {
	// Image is the interpreter image, e.g. python:3.12-alpine.
	Image string
	// Command is prefixed to the submitted code: Command... + code.
	Command []string
	// MemoryLimit is the container memory cap in bytes.
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the hard wall-clock limit for one run.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to keep ready.
	PoolSize int
	// MaxOutputBytes truncates the combined output.
	MaxOutputBytes int
}

// DefaultConfig mirrors the original `/run` behaviour: `python3 -c <code>`
// with a 5 second timeout.
func DefaultConfig() Config {
	return Config{
		Image:          "python:3.12-alpine",
		Command:        []string{"python3", "-c"},
		MemoryLimit:    128 * 1024 * 1024,
		CPULimit:       0.5,
		Timeout:        5 * time.Second,
		PoolSize:       2,
		MaxOutputBytes: 64 * 1024,
	}
}
