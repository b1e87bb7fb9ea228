// Package coordinator runs, stops and restarts channels of the loaded
// project on top of a process.Supervisor, one channel at a time or as a
// group.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/project"
)

var (
	// ErrUnknownChannel is returned for an ID the project does not define.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNoProject is returned by channel lookups before a project is set.
	ErrNoProject = errors.New("no project loaded")
)

// DefaultSettleDelay is the pause between a confirmed kill and the rerun of
// a restart, giving the old process's ports and files time to free up.
const DefaultSettleDelay = time.Second

// Config configures a Coordinator.
type Config struct {
	// SettleDelay is the restart pause. Zero selects DefaultSettleDelay; a
	// negative value disables it.
	SettleDelay time.Duration
	// Parallelism bounds concurrent channel operations in group
	// operations. Zero or less means unbounded.
	Parallelism int
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Result is the outcome of one channel within a group operation.
type Result struct {
	ChannelID string `json:"id"`
	// OK reports whether the channel ended up running (run, restart) or
	// stopped (stop).
	OK bool `json:"ok"`
	// Skipped is set for channels RunAll left alone because they were
	// already active.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Coordinator is the command façade of the daemon. It is safe for
// concurrent use.
type Coordinator struct {
	sup    *process.Supervisor
	cfg    Config
	logger *slog.Logger
	kill   func(ctx context.Context, id string) error

	mu      sync.RWMutex
	project *project.Project
}

// New creates a coordinator for sup. proj may be nil until SetProject.
func New(sup *process.Supervisor, proj *project.Project, cfg Config) *Coordinator {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		sup:     sup,
		cfg:     cfg,
		logger:  logger.With("component", "coordinator"),
		kill:    sup.Kill,
		project: proj,
	}
}

// Supervisor returns the underlying supervisor.
func (c *Coordinator) Supervisor() *process.Supervisor {
	return c.sup
}

// Project returns the current project, or nil.
func (c *Coordinator) Project() *project.Project {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.project
}

// SetProject replaces the project. Running channels are left alone; they
// pick up new definitions on their next run.
func (c *Coordinator) SetProject(p *project.Project) {
	c.mu.Lock()
	c.project = p
	c.mu.Unlock()

	if p != nil {
		c.logger.Info("project loaded", "path", p.Path, "channels", len(p.Channels))
	}
}

// lookup resolves a channel ID against the current project.
func (c *Coordinator) lookup(id string) (channel.Channel, string, error) {
	p := c.Project()
	if p == nil {
		return channel.Channel{}, "", ErrNoProject
	}
	ch, ok := p.Channel(id)
	if !ok {
		return channel.Channel{}, "", fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return ch, p.Path, nil
}

// Run starts a project channel. See process.Supervisor.Run for the result
// contract; an active channel is rejected with process.ErrAlreadyActive.
func (c *Coordinator) Run(ctx context.Context, id string) (bool, error) {
	ch, path, err := c.lookup(id)
	if err != nil {
		return false, err
	}
	return c.sup.Run(ctx, ch, path)
}

// RunChannel starts an explicit channel definition, resolving its relative
// paths against projectFile.
func (c *Coordinator) RunChannel(ctx context.Context, ch channel.Channel, projectFile string) (bool, error) {
	return c.sup.Run(ctx, ch, projectFile)
}

// Kill stops a channel and waits until it is Stopped. Unknown and stopped
// channels are a no-op.
func (c *Coordinator) Kill(ctx context.Context, id string) error {
	return c.kill(ctx, id)
}

// Restart kills the channel, waits for the kill to be confirmed, pauses for
// the settle delay and runs it again.
func (c *Coordinator) Restart(ctx context.Context, id string) (bool, error) {
	ch, path, err := c.lookup(id)
	if err != nil {
		return false, err
	}

	if c.sup.Status(id) != process.Stopped {
		if err := c.kill(ctx, id); err != nil {
			return false, fmt.Errorf("restart %s: %w", id, err)
		}
		if err := c.settle(ctx); err != nil {
			return false, err
		}
	}
	return c.sup.Run(ctx, ch, path)
}

func (c *Coordinator) settle(ctx context.Context) error {
	if c.cfg.SettleDelay <= 0 {
		return nil
	}
	t := time.NewTimer(c.cfg.SettleDelay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll starts every active project channel that is not already waiting
// or running.
func (c *Coordinator) RunAll(ctx context.Context) ([]Result, error) {
	channels, path, err := c.activeChannels()
	if err != nil {
		return nil, err
	}
	return c.runChannels(ctx, channels, path, true)
}

// StopAll kills every waiting or running channel, including channels that
// are no longer part of the project.
func (c *Coordinator) StopAll(ctx context.Context) ([]Result, error) {
	return c.stopIDs(ctx, c.sup.Active())
}

// RestartAll kills every waiting or running channel, waits for every kill
// to be confirmed, settles once and starts all active project channels.
// A channel whose kill fails is reported with that error and not
// relaunched; the others still restart.
func (c *Coordinator) RestartAll(ctx context.Context) ([]Result, error) {
	channels, path, err := c.activeChannels()
	if err != nil {
		return nil, err
	}

	running := c.sup.Active()
	stopped, stopErr := c.stopIDs(ctx, running)
	failed := make(map[string]bool)
	for _, r := range stopped {
		if !r.OK {
			failed[r.ChannelID] = true
		}
	}
	if len(running) > len(failed) {
		if err := c.settle(ctx); err != nil {
			return stopped, errors.Join(stopErr, err)
		}
	}

	relaunch := make([]channel.Channel, 0, len(channels))
	for _, ch := range channels {
		if !failed[ch.ID] {
			relaunch = append(relaunch, ch)
		}
	}
	results, runErr := c.runChannels(ctx, relaunch, path, false)
	for _, r := range stopped {
		if !r.OK {
			results = append(results, r)
		}
	}
	return results, errors.Join(stopErr, runErr)
}

// Statuses returns one record per project channel in project order,
// followed by records of channels no longer in the project.
func (c *Coordinator) Statuses() []process.RecordInfo {
	records := c.sup.Records()
	byID := make(map[string]process.RecordInfo, len(records))
	for _, r := range records {
		byID[r.ChannelID] = r
	}

	var out []process.RecordInfo
	if p := c.Project(); p != nil {
		for _, id := range p.IDs() {
			rec, ok := byID[id]
			if !ok {
				rec = process.RecordInfo{ChannelID: id, Status: process.Stopped, ExitCode: -1}
			}
			out = append(out, rec)
			delete(byID, id)
		}
	}
	for _, r := range records {
		if _, left := byID[r.ChannelID]; left {
			out = append(out, r)
		}
	}
	return out
}

func (c *Coordinator) activeChannels() ([]channel.Channel, string, error) {
	p := c.Project()
	if p == nil {
		return nil, "", ErrNoProject
	}
	return p.Active(), p.Path, nil
}

// group runs fn for n items with the configured parallelism and collects
// one result per item. Every item is attempted; errors are joined.
func (c *Coordinator) group(n int, fn func(i int) (Result, error)) ([]Result, error) {
	results := make([]Result, n)
	errs := make([]error, n)

	var g errgroup.Group
	if c.cfg.Parallelism > 0 {
		g.SetLimit(c.cfg.Parallelism)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			res, err := fn(i)
			if err != nil {
				res.Error = err.Error()
				errs[i] = err
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

func (c *Coordinator) runChannels(ctx context.Context, channels []channel.Channel, path string, skipActive bool) ([]Result, error) {
	return c.group(len(channels), func(i int) (Result, error) {
		ch := channels[i]
		res := Result{ChannelID: ch.ID}

		ok, err := c.sup.Run(ctx, ch, path)
		res.OK = ok
		if skipActive && errors.Is(err, process.ErrAlreadyActive) {
			res.Skipped = true
			res.OK = c.sup.Status(ch.ID) == process.Running
			return res, nil
		}
		if err != nil {
			c.logger.Warn("run failed", "channel", ch.ID, "error", err)
			return res, fmt.Errorf("%s: %w", ch.ID, err)
		}
		return res, nil
	})
}

func (c *Coordinator) stopIDs(ctx context.Context, ids []string) ([]Result, error) {
	return c.group(len(ids), func(i int) (Result, error) {
		res := Result{ChannelID: ids[i]}
		if err := c.kill(ctx, ids[i]); err != nil {
			c.logger.Warn("kill failed", "channel", ids[i], "error", err)
			return res, fmt.Errorf("%s: %w", ids[i], err)
		}
		res.OK = true
		return res, nil
	})
}
