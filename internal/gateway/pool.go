package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/FlowMCP/remote-mcp-authkit/internal/metrics"
)

// BuildFunc creates the instance for a normalized permission set.
type BuildFunc func(ctx context.Context, permissions []string) (*Instance, error)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures a Pool or Router.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type poolEntry struct {
	done chan struct{}
	inst *Instance
	err  error
}

// Pool holds one instance per permission set. The first request for a set
// builds it; concurrent requests wait for that build. A failed build is
// handed to every waiter and then forgotten.
type Pool struct {
	build BuildFunc
	opts  options

	mu      sync.Mutex
	entries map[string]*poolEntry
}

// NewPool creates an empty pool.
func NewPool(build BuildFunc, opts ...Option) *Pool {
	return &Pool{
		build:   build,
		opts:    newOptions(opts),
		entries: make(map[string]*poolEntry),
	}
}

// Normalize sorts and de-duplicates permissions and drops empty entries.
func Normalize(permissions []string) []string {
	out := make([]string, 0, len(permissions))
	for _, p := range permissions {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Get returns the instance for permissions, building it if needed.
func (p *Pool) Get(ctx context.Context, permissions []string) (*Instance, error) {
	perms := Normalize(permissions)
	key := poolKey(perms)

	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &poolEntry{done: make(chan struct{})}
		p.entries[key] = e
	}
	p.mu.Unlock()

	if !ok {
		p.fill(ctx, key, e, perms)
	}

	select {
	case <-e.done:
		return e.inst, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fill runs the build for a new entry. A failed or panicking build is
// removed from the map before waiters are released.
func (p *Pool) fill(ctx context.Context, key string, e *poolEntry, perms []string) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.inst, e.err = nil, fmt.Errorf("instance initialization panicked: %v", r)
		}
		if e.err != nil {
			p.opts.logger.Error("instance initialization failed", "perms", perms, "err", e.err)
			p.mu.Lock()
			delete(p.entries, key)
			p.mu.Unlock()
		}
	}()
	// Waiters share this build, so one caller going away must not cancel it.
	e.inst, e.err = p.build(context.WithoutCancel(ctx), perms)
}

// poolKey quotes each permission so a single permission containing
// spaces never collides with a set of several.
func poolKey(perms []string) string {
	return fmt.Sprintf("%q", perms)
}

// Len returns the number of ready or pending instances.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Shutdown closes every ready instance.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	var errs []error
	for _, e := range entries {
		select {
		case <-e.done:
		default:
			continue
		}
		if e.inst != nil {
			errs = append(errs, e.inst.Shutdown(ctx))
		}
	}
	return errors.Join(errs...)
}
