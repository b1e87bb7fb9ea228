// Package process supervises one OS process per channel: it gates start on
// readiness conditions, spawns the process in its own process group, feeds
// its output to the collector and terminates the whole process tree on
// kill.
package process

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scomans/dev-console-sub000/bus"
	"github.com/scomans/dev-console-sub000/cancel"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/readiness"
)

var (
	// ErrAlreadyActive is returned by Run when the channel is waiting or running.
	ErrAlreadyActive = errors.New("channel is already active")
	// ErrShuttingDown is returned when the supervisor is shutting down.
	ErrShuttingDown = errors.New("supervisor is shutting down")
)

// KillReason is the cancellation reason used when a kill interrupts a wait.
const KillReason = "KILLED"

// PIDTracker records spawned processes so a restarted daemon can clean up
// after a crash.
type PIDTracker interface {
	Add(channelID string, pid int, pgid int, runID string) error
	Remove(channelID string, runID string) error
}

// Config holds configuration for the Supervisor.
type Config struct {
	// GracefulTimeout is how long a process may take to exit after the
	// termination signal before it is killed.
	GracefulTimeout time.Duration
	// OutputDrain bounds how long output pipes may stay open after the
	// process exited, for example when a grandchild inherited them.
	OutputDrain time.Duration
	// Readiness holds the probe polling parameters. The per-channel wait
	// timeout overrides Readiness.Timeout.
	Readiness readiness.Options
	// PIDTracker is optional.
	PIDTracker PIDTracker
	// Environ returns the base environment for children. Defaults to
	// os.Environ.
	Environ func() []string
	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GracefulTimeout: 5 * time.Second,
		OutputDrain:     2 * time.Second,
		Readiness:       readiness.DefaultOptions(),
	}
}

// record is the per-channel execution state. All fields are guarded by
// Supervisor.mu.
type record struct {
	channelID  string
	status     Status
	runID      string
	killSignal string
	rewriter   *output.Rewriter

	// Present only while Waiting.
	cancel cancel.CancelFunc
	// phase is closed when the run leaves Waiting, either to Running or
	// to Stopped.
	phase chan struct{}
	// starting is set while the command is being started outside the lock.
	starting bool

	// Present only while Running.
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	// done is closed by the waiter once the process was reaped.
	done chan struct{}

	exitCode int
}

// active reports whether the record is waiting, starting or running.
func (r *record) active() bool {
	return r.status != Stopped || r.starting
}

func (r *record) info() RecordInfo {
	return RecordInfo{
		ChannelID: r.channelID,
		Status:    r.status,
		PID:       r.pid,
		RunID:     r.runID,
		StartedAt: r.startedAt,
		ExitCode:  r.exitCode,
	}
}

// Supervisor owns the channel to execution record map.
type Supervisor struct {
	cfg    Config
	out    *output.Collector
	status *bus.Bus[StatusEvent]
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*record

	totalStarted atomic.Int64
	totalFailed  atomic.Int64

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// NewSupervisor creates a supervisor that writes output lines to out.
func NewSupervisor(cfg Config, out *output.Collector) *Supervisor {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 5 * time.Second
	}
	if cfg.OutputDrain <= 0 {
		cfg.OutputDrain = 2 * time.Second
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		cfg:     cfg,
		out:     out,
		status:  bus.NewCoalescing(bus.DefaultBuffer, func(e StatusEvent) string { return e.ChannelID }),
		logger:  logger.With("component", "supervisor"),
		records: make(map[string]*record),
	}
}

// Output returns the collector the supervisor writes to.
func (s *Supervisor) Output() *output.Collector {
	return s.out
}

// setStatusLocked changes a record's status and broadcasts the transition.
// Publishing under the lock keeps transitions of one channel in order.
func (s *Supervisor) setStatusLocked(rec *record, st Status) {
	if rec.status == st {
		return
	}
	rec.status = st
	s.status.Publish(StatusEvent{
		ChannelID: rec.channelID,
		Status:    st,
		PID:       rec.pid,
		RunID:     rec.runID,
		Time:      time.Now(),
	})
	s.logger.Debug("status changed", "channel", rec.channelID, "status", st, "run", rec.runID)
}

// Status returns the current status of a channel. Unknown channels are
// Stopped.
func (s *Supervisor) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		return rec.status
	}
	return Stopped
}

// Record returns a snapshot of a channel's execution record.
func (s *Supervisor) Record(id string) (RecordInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return RecordInfo{ChannelID: id, Status: Stopped, ExitCode: -1}, false
	}
	return rec.info(), true
}

// Records returns snapshots of every known record, sorted by channel ID.
func (s *Supervisor) Records() []RecordInfo {
	s.mu.Lock()
	out := make([]RecordInfo, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.info())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Active returns the IDs of channels that are waiting or running.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	var ids []string
	for id, rec := range s.records {
		if rec.active() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// SubscribeStatus streams every status transition.
func (s *Supervisor) SubscribeStatus() (<-chan StatusEvent, func()) {
	return s.status.Subscribe()
}

// SelectStatus streams the status transitions of one channel.
func (s *Supervisor) SelectStatus(id string) (<-chan StatusEvent, func()) {
	return s.status.SubscribeWhere(func(e StatusEvent) bool { return e.ChannelID == id })
}

// TotalStarted returns how many processes were spawned.
func (s *Supervisor) TotalStarted() int64 {
	return s.totalStarted.Load()
}

// TotalFailed returns how many runs failed to spawn or timed out.
func (s *Supervisor) TotalFailed() int64 {
	return s.totalFailed.Load()
}

// IsShuttingDown returns true once Shutdown was called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// KillAll kills every waiting or running channel concurrently. All kills
// are attempted; their errors are joined.
func (s *Supervisor) KillAll(ctx context.Context) error {
	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)

	for _, id := range s.Active() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Kill(ctx, id); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Shutdown refuses new runs, kills everything and waits for all process
// waiters to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	err := s.KillAll(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	s.status.Close()
	return err
}
