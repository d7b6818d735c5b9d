package engine

import (
	"context"
	"fmt"
	"sync"

	"smabot/internal/id"
)

// Registry tracks runs by handle so an outer control surface can start,
// query and stop several runs in one process. A fatal error in one run
// never affects the others.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// StartRun wires a run from opts, assigns a handle when the caller did not
// set one, and starts it.
func (g *Registry) StartRun(ctx context.Context, opts Options) (*Run, error) {
	if opts.RunID == "" {
		opts.RunID = id.New()
	}

	g.mu.Lock()
	if _, exists := g.runs[opts.RunID]; exists {
		g.mu.Unlock()
		return nil, fmt.Errorf("run %s already registered", opts.RunID)
	}
	g.mu.Unlock()

	run, err := NewRun(opts)
	if err != nil {
		return nil, err
	}
	if err := run.Start(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.runs[opts.RunID] = run
	g.mu.Unlock()
	return run, nil
}

// Get returns the run for a handle.
func (g *Registry) Get(handle string) (*Run, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	run, ok := g.runs[handle]
	return run, ok
}

// StopRun requests a stop and waits for the run to reach a terminal state.
func (g *Registry) StopRun(handle string) error {
	run, ok := g.Get(handle)
	if !ok {
		return fmt.Errorf("unknown run %s", handle)
	}
	run.Stop()
	run.Wait()
	return nil
}

// List returns the registered runs.
func (g *Registry) List() []*Run {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r)
	}
	return out
}
