package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the referenced container does not exist
	ErrNotFound = errors.New("container not found")

	// ErrUnavailable is returned when the container engine cannot be reached
	ErrUnavailable = errors.New("container engine unavailable")
)

// Status is the observed container state, normalized across engine versions
type Status string

const (
	StatusNotFound Status = "not_found"
	StatusCreated  Status = "created"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusPaused   Status = "paused"
	StatusDead     Status = "dead"
)

// Mount is a host bind mount into the container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes everything needed to create and start a sandbox
// container. Ports maps container ports to host ports bound on loopback
// only; sandboxes are never reachable from off the host directly.
type RunSpec struct {
	Name          string
	Image         string
	Ports         map[int]int // container port -> host port on 127.0.0.1
	Mounts        []Mount
	Env           []string
	MemoryBytes   int64
	CPUQuota      float64 // CPU cores; translated to quota/period
	RestartPolicy string  // e.g. "unless-stopped"
	Init          bool
	Labels        map[string]string
}

// Runtime abstracts the container engine for sandbox lifecycle operations.
// Implementations map engine-specific failures onto ErrNotFound and
// ErrUnavailable so the manager can distinguish a vanished container from
// an unreachable daemon.
type Runtime interface {
	// Run creates and starts a container, returning its engine ID.
	Run(ctx context.Context, spec RunSpec) (string, error)

	// Start starts an existing stopped container.
	Start(ctx context.Context, id string) error

	// Stop stops a running container, waiting up to grace before killing.
	Stop(ctx context.Context, id string, grace time.Duration) error

	// Restart stops and starts a container.
	Restart(ctx context.Context, id string, grace time.Duration) error

	// Remove deletes a container. With force, a running container is
	// killed first.
	Remove(ctx context.Context, id string, force bool) error

	// Inspect returns the container's observed status. A missing
	// container yields StatusNotFound with a nil error.
	Inspect(ctx context.Context, id string) (Status, error)
}
