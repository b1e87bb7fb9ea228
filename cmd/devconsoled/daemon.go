package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/scomans/dev-console-sub000/config"
	"github.com/scomans/dev-console-sub000/coordinator"
	"github.com/scomans/dev-console-sub000/host"
	"github.com/scomans/dev-console-sub000/logging"
	"github.com/scomans/dev-console-sub000/output"
	"github.com/scomans/dev-console-sub000/process"
	"github.com/scomans/dev-console-sub000/project"
	"github.com/scomans/dev-console-sub000/web"
)

const shutdownTimeout = 15 * time.Second

func run(ctx context.Context, cfg config.Config) error {
	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	supCfg := cfg.SupervisorConfig()
	supCfg.Logger = logger
	if cfg.Host.TrackPIDs {
		tracker := process.NewFilePIDTracker(process.FilePIDTrackerConfig{AppName: config.AppName})
		if n, err := tracker.CleanupOrphans(os.Getpid()); err != nil {
			logger.Warn("orphan cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("killed orphaned processes", "count", n)
		}
		supCfg.PIDTracker = tracker
	}

	outCfg := cfg.CollectorConfig()
	outCfg.Logger = logger
	out := output.NewCollector(outCfg)
	defer out.Close()

	sup := process.NewSupervisor(supCfg, out)

	var proj *project.Project
	if cfg.Host.Project != "" {
		proj, err = project.Load(cfg.Host.Project)
		if err != nil {
			return fmt.Errorf("load project: %w", err)
		}
	}

	coordCfg := cfg.CoordinatorConfig()
	coordCfg.Logger = logger
	coord := coordinator.New(sup, proj, coordCfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watch := newProjectWatch(ctx, coord, logger)
	defer watch.Close()
	if proj != nil && cfg.Host.WatchProject {
		watch.Follow(proj.Path)
	}

	hostCfg := host.DefaultConfig()
	hostCfg.SocketPath = cfg.Host.SocketPath
	hostCfg.Version = version
	hostCfg.Logger = logger
	if cfg.Host.WatchProject {
		hostCfg.OnProject = func(p *project.Project) { watch.Follow(p.Path) }
	}

	var webSrv *web.Server
	if cfg.Web.Enabled {
		webCfg := web.DefaultConfig()
		webCfg.Addr = cfg.Web.Addr
		webCfg.Logger = logger
		webSrv = web.New(webCfg, coord)
		if err := webSrv.Start(); err != nil {
			return fmt.Errorf("start web server: %w", err)
		}
		hostCfg.WebAddr = webSrv.Addr()
	}

	h := host.New(hostCfg, coord)
	if err := h.Start(); err != nil {
		if webSrv != nil {
			_ = webSrv.Shutdown(context.Background())
		}
		return fmt.Errorf("start daemon: %w", err)
	}
	logger.Info("daemon started", "version", version, "commit", commit, "socket", h.SocketPath(), "pid", os.Getpid())

	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	case <-h.ShutdownRequested():
		logger.Info("shutdown requested by client")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if webSrv != nil {
		if err := webSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("web: %w", err))
		}
	}
	if err := h.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("host: %w", err))
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("supervisor: %w", err))
	}
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("shutdown error", "error", err)
		}
		return errs[0]
	}
	logger.Info("daemon stopped")
	return nil
}

// projectWatch keeps one file watcher on the project the coordinator
// currently runs and swaps it when another project file is opened.
type projectWatch struct {
	ctx    context.Context
	coord  *coordinator.Coordinator
	logger *slog.Logger

	mu      sync.Mutex
	path    string
	watcher *project.Watcher
}

func newProjectWatch(ctx context.Context, coord *coordinator.Coordinator, logger *slog.Logger) *projectWatch {
	return &projectWatch{ctx: ctx, coord: coord, logger: logger}
}

// Follow watches path, replacing the previous watcher if path differs.
func (w *projectWatch) Follow(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if path == w.path && w.watcher != nil {
		return
	}
	if w.watcher != nil {
		w.watcher.Stop()
		w.watcher = nil
	}
	w.path = path

	watcher, err := project.NewWatcher(path, w.reload, w.logger)
	if err != nil {
		w.logger.Warn("project watch disabled", "path", path, "error", err)
		return
	}
	watcher.Start(w.ctx)
	w.watcher = watcher
}

// reload applies a changed project file. The watcher already logged the
// outcome; a file that fails to load keeps the running project.
func (w *projectWatch) reload(p *project.Project, err error) {
	if err == nil {
		w.coord.SetProject(p)
	}
}

// Close stops the current watcher.
func (w *projectWatch) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		w.watcher.Stop()
		w.watcher = nil
	}
}
