package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"pixelpress/internal/capability"
	"pixelpress/internal/pool"
	"pixelpress/internal/startup"
)

// Dispatcher is the pool surface handlers need.
type Dispatcher interface {
	Dispatch(ctx context.Context, task pool.Task) (*pool.TaskResult, error)
}

// Handlers carries the shared state behind the HTTP API.
type Handlers struct {
	pool         Dispatcher
	capabilities *capability.Resolver
	config       *startup.Config
	started      time.Time
	ready        atomic.Bool
}

// New wires handlers against the pool and capability resolver.
func New(p Dispatcher, caps *capability.Resolver, config *startup.Config) *Handlers {
	return &Handlers{
		pool:         p,
		capabilities: caps,
		config:       config,
		started:      time.Now(),
	}
}

// SetReady flips the readiness probe; called once startup completes.
func (h *Handlers) SetReady() {
	h.ready.Store(true)
}
