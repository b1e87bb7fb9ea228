package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// TrackedProcess is one spawned channel process recorded for orphan cleanup.
type TrackedProcess struct {
	ChannelID string    `json:"channel_id"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	PGID      int       `json:"pgid"`
	StartedAt time.Time `json:"started_at"`
}

// PIDTracking holds the complete tracking state.
type PIDTracking struct {
	DaemonPID int              `json:"daemon_pid"`
	Processes []TrackedProcess `json:"processes"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FilePIDTracker persists the PIDs of running channel processes so that a
// daemon restarted after a crash can kill what its predecessor left behind.
//
// Every load-modify-save cycle holds an flock on path+".lock", so two
// daemons pointed at the same file cannot lose each other's updates.
type FilePIDTracker struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

var _ PIDTracker = (*FilePIDTracker)(nil)

// FilePIDTrackerConfig configures the file-based PID tracker.
type FilePIDTrackerConfig struct {
	// Path is the tracking file. If empty, a file under XDG_STATE_HOME is used.
	Path string
	// AppName is used for the default path. Default: "devconsole"
	AppName string
}

// NewFilePIDTracker creates a file-based PID tracker.
func NewFilePIDTracker(config FilePIDTrackerConfig) *FilePIDTracker {
	path := config.Path
	if path == "" {
		appName := config.AppName
		if appName == "" {
			appName = "devconsole"
		}
		path = defaultPIDTrackingPath(appName)
	}
	return &FilePIDTracker{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func defaultPIDTrackingPath(appName string) string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, appName, "pids.json")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", appName, "pids.json")
	}
	return filepath.Join(os.TempDir(), appName+"-pids.json")
}

// Path returns the tracking file path.
func (pt *FilePIDTracker) Path() string {
	return pt.path
}

// update runs fn on the current state under both locks and saves the
// result unless fn returns an error.
func (pt *FilePIDTracker) update(fn func(*PIDTracking) error) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(pt.path), 0755); err != nil {
		return fmt.Errorf("failed to create tracking directory: %w", err)
	}
	if err := pt.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock tracking file: %w", err)
	}
	defer pt.lock.Unlock()

	tracking := pt.loadLocked()
	if err := fn(&tracking); err != nil {
		return err
	}
	return pt.saveLocked(tracking)
}

// Load reads the current tracking state from disk.
func (pt *FilePIDTracker) Load() PIDTracking {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	return pt.loadLocked()
}

// loadLocked is best effort: a missing or corrupt file yields empty state.
func (pt *FilePIDTracker) loadLocked() PIDTracking {
	var tracking PIDTracking

	data, err := os.ReadFile(pt.path)
	if err != nil {
		return tracking
	}
	_ = json.Unmarshal(data, &tracking)
	return tracking
}

// Add records a spawned process, replacing any previous entry of the
// channel.
func (pt *FilePIDTracker) Add(channelID string, pid int, pgid int, runID string) error {
	return pt.update(func(t *PIDTracking) error {
		t.Processes = removeTracked(t.Processes, func(p TrackedProcess) bool {
			return p.ChannelID == channelID
		})
		t.Processes = append(t.Processes, TrackedProcess{
			ChannelID: channelID,
			RunID:     runID,
			PID:       pid,
			PGID:      pgid,
			StartedAt: time.Now(),
		})
		return nil
	})
}

// Remove drops the entry of one run. An entry written by a newer run of the
// same channel is left alone.
func (pt *FilePIDTracker) Remove(channelID string, runID string) error {
	return pt.update(func(t *PIDTracking) error {
		t.Processes = removeTracked(t.Processes, func(p TrackedProcess) bool {
			return p.ChannelID == channelID && p.RunID == runID
		})
		return nil
	})
}

func removeTracked(procs []TrackedProcess, match func(TrackedProcess) bool) []TrackedProcess {
	out := procs[:0]
	for _, p := range procs {
		if !match(p) {
			out = append(out, p)
		}
	}
	return out
}

// SetDaemonPID sets the current daemon PID in the tracking file.
func (pt *FilePIDTracker) SetDaemonPID(pid int) error {
	return pt.update(func(t *PIDTracking) error {
		t.DaemonPID = pid
		return nil
	})
}

// Clear removes the tracking file completely.
func (pt *FilePIDTracker) Clear() error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	err := os.Remove(pt.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (pt *FilePIDTracker) saveLocked(tracking PIDTracking) error {
	tracking.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(tracking, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tracking data: %w", err)
	}

	tmpPath := pt.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write tracking file: %w", err)
	}
	if err := os.Rename(tmpPath, pt.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename tracking file: %w", err)
	}
	return nil
}

// CleanupOrphans kills processes left behind by a previous daemon and takes
// ownership of the tracking file. It is called on daemon startup.
//
// A tracked PID is only killed while it is alive and was created no later
// than its entry, so a PID reused by an unrelated process survives.
func (pt *FilePIDTracker) CleanupOrphans(currentDaemonPID int) (killedCount int, err error) {
	err = pt.update(func(t *PIDTracking) error {
		if t.DaemonPID == currentDaemonPID {
			return nil
		}

		for _, proc := range t.Processes {
			if !isProcessAlive(proc.PID) || !startedBefore(proc.PID, proc.StartedAt) {
				continue
			}
			killOrphanProcess(proc.PID, proc.PGID)
			killedCount++
			time.Sleep(10 * time.Millisecond)
		}

		t.Processes = nil
		t.DaemonPID = currentDaemonPID
		return nil
	})
	return killedCount, err
}

// ListTracked returns all currently tracked processes.
func (pt *FilePIDTracker) ListTracked() []TrackedProcess {
	return pt.Load().Processes
}
