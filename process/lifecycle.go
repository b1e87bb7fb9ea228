package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scomans/dev-console-sub000/cancel"
	"github.com/scomans/dev-console-sub000/channel"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/readiness"
)

// Run starts a channel. If the channel declares readiness conditions the
// record enters Waiting until they all hold, then the process is spawned.
//
// Run reports true once the process is running. A wait interrupted by Kill
// and a failed spawn both report false with a nil error; the reason is in
// the channel's log. A readiness timeout reports a *readiness.TimeoutError.
// A channel that is already waiting or running is rejected with
// ErrAlreadyActive.
func (s *Supervisor) Run(ctx context.Context, ch channel.Channel, projectFile string) (bool, error) {
	if s.shuttingDown.Load() {
		return false, ErrShuttingDown
	}
	if err := ch.Validate(); err != nil {
		return false, err
	}

	rewriter, rwErr := output.NewRewriter(ch.RewriteRule())

	s.mu.Lock()
	if prev, ok := s.records[ch.ID]; ok && prev.active() {
		st := prev.status.String()
		if prev.starting {
			st = "starting"
		}
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s is %s", ErrAlreadyActive, ch.ID, st)
	}

	rec := &record{
		channelID:  ch.ID,
		runID:      uuid.NewString(),
		killSignal: ch.KillSignal,
		rewriter:   rewriter,
		phase:      make(chan struct{}),
		exitCode:   -1,
	}
	s.records[ch.ID] = rec

	if rwErr != nil {
		s.out.Error(ch.ID, fmt.Sprintf("Output rewriting disabled: %v", rwErr))
	}

	if len(ch.WaitOn) == 0 {
		return s.startLocked(rec, &ch, projectFile)
	}

	tok, cancelFn := cancel.New()
	rec.cancel = cancelFn
	s.setStatusLocked(rec, Waiting)
	s.mu.Unlock()

	opts := s.cfg.Readiness
	opts.Timeout = ch.WaitTimeout()
	err := readiness.Wait(ctx, ch.WaitOn, opts, tok, func(pending []string) {
		s.out.Info(ch.ID, readiness.PendingMessage(pending))
	})

	s.mu.Lock()
	rec.cancel = nil
	if err == nil {
		// A kill that got in after the gate resolved still wins.
		err = tok.Err()
	}
	if err == nil {
		return s.startLocked(rec, &ch, projectFile)
	}

	s.setStatusLocked(rec, Stopped)
	close(rec.phase)
	s.mu.Unlock()

	var timeout *readiness.TimeoutError
	switch {
	case cancel.IsCancelled(err):
		s.out.Info(ch.ID, fmt.Sprintf("Waiting cancelled (%s)", tok.Reason()))
		return false, nil
	case errors.As(err, &timeout):
		s.totalFailed.Add(1)
		s.out.Error(ch.ID, "Readiness "+timeout.Error())
		return false, err
	default:
		s.totalFailed.Add(1)
		s.out.Error(ch.ID, fmt.Sprintf("Readiness wait failed: %v", err))
		return false, err
	}
}

// startLocked spawns the process for rec. It is called with s.mu held and
// releases it. The lock is dropped while the environment is resolved and
// the command started; rec.starting keeps other runs out meanwhile.
func (s *Supervisor) startLocked(rec *record, ch *channel.Channel, projectFile string) (bool, error) {
	rec.starting = true
	s.mu.Unlock()

	p, err := s.spawn(rec, ch, projectFile)

	s.mu.Lock()
	rec.starting = false
	if err != nil {
		s.setStatusLocked(rec, Stopped)
	} else {
		rec.cmd = p.cmd
		rec.pid = p.cmd.Process.Pid
		rec.startedAt = time.Now()
		rec.done = make(chan struct{})
		s.setStatusLocked(rec, Running)

		s.wg.Add(1)
		go s.waitForExit(rec, p.stdout, p.stderr)
	}
	close(rec.phase)
	pid, runID := rec.pid, rec.runID
	s.mu.Unlock()

	if err != nil {
		s.totalFailed.Add(1)
		s.logger.Warn("spawn failed", "channel", ch.ID, "error", err)
		s.out.Error(ch.ID, fmt.Sprintf("Failed to start process: %v", err))
		return false, nil
	}

	s.totalStarted.Add(1)
	s.logger.Info("process started", "channel", ch.ID, "pid", pid, "run", runID)
	s.out.Info(ch.ID, fmt.Sprintf("Process started with PID %d", pid))

	if s.cfg.PIDTracker != nil {
		if err := s.cfg.PIDTracker.Add(ch.ID, pid, processGroupID(pid), runID); err != nil {
			s.logger.Warn("pid tracking failed", "channel", ch.ID, "error", err)
		}
	}
	return true, nil
}

// spawned is a started command and its output writers.
type spawned struct {
	cmd            *exec.Cmd
	stdout, stderr *output.LineWriter
}

// spawn builds and starts the command. It runs without s.mu.
func (s *Supervisor) spawn(rec *record, ch *channel.Channel, projectFile string) (*spawned, error) {
	env, err := ch.Environment(projectFile)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(ch.Executable, ch.Arguments...)
	cmd.Dir = ch.ResolveWorkingDir(projectFile)
	cmd.Env = channel.MergeEnviron(s.cfg.Environ(), env)
	cmd.WaitDelay = s.cfg.OutputDrain
	setProcAttr(cmd)

	s.out.Info(ch.ID, fmt.Sprintf("Starting %s in %s", commandLine(ch), cmd.Dir))

	stdout := s.out.Writer(ch.ID, output.KindData, rec.rewriter)
	stderr := s.out.Writer(ch.ID, output.KindError, rec.rewriter)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, err
	}

	if err := setupJobObject(cmd); err != nil {
		s.logger.Debug("job object setup failed", "channel", ch.ID, "error", err)
	}
	return &spawned{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// waitForExit reaps the process. It is the only place a running record
// becomes Stopped.
func (s *Supervisor) waitForExit(rec *record, stdout, stderr *output.LineWriter) {
	defer s.wg.Done()

	err := rec.cmd.Wait()
	stdout.Close()
	stderr.Close()

	cleanupJobObject(rec.pid)

	code := -1
	detail := ""
	if st := rec.cmd.ProcessState; st != nil {
		code = st.ExitCode()
		if code < 0 {
			detail = st.String()
		}
	} else if err != nil {
		detail = err.Error()
	}

	if s.cfg.PIDTracker != nil {
		if err := s.cfg.PIDTracker.Remove(rec.channelID, rec.runID); err != nil {
			s.logger.Warn("pid untracking failed", "channel", rec.channelID, "error", err)
		}
	}

	msg := fmt.Sprintf("Process exited with code %d", code)
	if detail != "" {
		msg += " (" + detail + ")"
	}
	s.out.Info(rec.channelID, msg)
	s.logger.Info("process exited", "channel", rec.channelID, "code", code, "run", rec.runID)

	s.mu.Lock()
	rec.exitCode = code
	rec.cmd = nil
	rec.pid = 0
	s.setStatusLocked(rec, Stopped)
	s.mu.Unlock()

	close(rec.done)
}

// Kill stops a channel. A pending readiness wait is cancelled; a running
// process tree is signalled, escalated to a hard kill after the graceful
// timeout, and awaited. Killing a stopped or unknown channel is a no-op.
func (s *Supervisor) Kill(ctx context.Context, id string) error {
	for {
		s.mu.Lock()
		rec, ok := s.records[id]
		if !ok || (rec.status == Stopped && !rec.starting) {
			s.mu.Unlock()
			return nil
		}

		if rec.status == Running {
			s.mu.Unlock()
			return s.terminate(ctx, rec)
		}

		// Waiting or starting: cancel and wait for the run to leave that
		// phase. The gate may have resolved first, so look at the record
		// again.
		if rec.cancel != nil {
			rec.cancel(KillReason)
		}
		phase := rec.phase
		s.mu.Unlock()

		select {
		case <-phase:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// terminate signals a running process tree and waits for the waiter to
// reap it.
func (s *Supervisor) terminate(ctx context.Context, rec *record) error {
	s.mu.Lock()
	pid, done, sigName := rec.pid, rec.done, rec.killSignal
	s.mu.Unlock()

	if pid == 0 {
		return nil
	}

	sig, err := parseSignal(sigName)
	if err != nil {
		s.out.Error(rec.channelID, fmt.Sprintf("Invalid kill signal %q, using default", sigName))
		sig = defaultSignal
	}

	descendants := descendantPIDs(pid)
	s.out.Info(rec.channelID, fmt.Sprintf("Stopping process %d (%s)", pid, signalName(sig)))

	if err := signalTree(pid, descendants, sig); err != nil && !isNoSuchProcess(err) {
		return fmt.Errorf("signal %s: %w", rec.channelID, err)
	}

	grace := time.NewTimer(s.cfg.GracefulTimeout)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-grace.C:
		s.out.Info(rec.channelID, fmt.Sprintf("Process %d did not exit after %s, killing", pid, s.cfg.GracefulTimeout))
	case <-ctx.Done():
	}

	// Pick up children spawned during the grace period.
	descendants = mergePIDs(descendants, descendantPIDs(pid))
	if err := killTree(pid, descendants); err != nil && !isNoSuchProcess(err) {
		return fmt.Errorf("force kill %s: %w", rec.channelID, err)
	}

	if ctx.Err() != nil {
		select {
		case <-done:
			return nil
		case <-time.After(100 * time.Millisecond):
			return ctx.Err()
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func commandLine(ch *channel.Channel) string {
	parts := append([]string{ch.Executable}, ch.Arguments...)
	return strings.Join(parts, " ")
}
