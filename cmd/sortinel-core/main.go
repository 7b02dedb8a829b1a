package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/burst"
	"github.com/sortinel/sortinel/internal/config"
	"github.com/sortinel/sortinel/internal/events"
	"github.com/sortinel/sortinel/internal/extract"
	"github.com/sortinel/sortinel/internal/feed"
	"github.com/sortinel/sortinel/internal/fusion"
	"github.com/sortinel/sortinel/internal/ipc"
	"github.com/sortinel/sortinel/internal/logging"
	"github.com/sortinel/sortinel/internal/pidfile"
	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
	"github.com/sortinel/sortinel/internal/store"
	"github.com/sortinel/sortinel/internal/watcher"
	"github.com/sortinel/sortinel/internal/windowtrack"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

// feedbackThreshold is the overall confidence above which a classification
// is recorded as a pattern observation.
const feedbackThreshold = 0.7

// daemon holds the wired components and the mutable runtime state shared
// between the watcher callback and the main loop.
type daemon struct {
	cfg      *config.Config
	logger   *zap.Logger
	tracker  *windowtrack.Tracker
	sessions *session.Manager
	bursts   *burst.Detector
	engine   *fusion.Engine

	mu        sync.Mutex
	mode      ipc.OperatingMode
	lastError string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logPath := cfg.ResolvedLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(logPath, cfg.Debug)
	defer logger.Sync()

	logger.Info("starting sortinel-core",
		zap.String("version", Version),
		zap.Int("pid", os.Getpid()))

	pidFilePath := pidfile.GetPIDFilePath("sortinel-core")
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		logger.Error("another instance may already be running",
			zap.String("pidfile", pidFilePath), zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			logger.Warn("failed to remove pid file", zap.Error(err))
		}
	}()

	dbPath := cfg.ResolvedDatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		logger.Error("failed to create data directory", zap.Error(err))
		os.Exit(1)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", zap.String("path", dbPath), zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	bus := events.NewBus()
	defer bus.Close()

	extractor := extract.New(cfg.SourceAppName)
	desktop := providers.NewDesktop(cfg.SourceProcessNames)

	tracker := windowtrack.New(cfg.TrackerConfig(), desktop, extractor, bus, logger)
	sessions, err := session.NewManager(cfg.SessionConfig(), db, bus, logger)
	if err != nil {
		logger.Error("failed to create session manager", zap.Error(err))
		os.Exit(1)
	}
	bursts := burst.New(cfg.BurstConfig(), bus, logger)
	engine, err := fusion.New(cfg.FusionConfig(), desktop, tracker, sessions, db, extractor, bus, logger)
	if err != nil {
		logger.Error("failed to create fusion engine", zap.Error(err))
		os.Exit(1)
	}

	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		tracker:  tracker,
		sessions: sessions,
		bursts:   bursts,
		engine:   engine,
		mode:     ipc.ModeAuto,
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	downloadsDir := cfg.ResolvedDownloadsDir()
	w, err := watcher.New(downloadsDir, watcher.Config{}, d.handleFile, logger)
	if err != nil {
		logger.Error("failed to watch downloads directory",
			zap.String("dir", downloadsDir), zap.Error(err))
		os.Exit(1)
	}
	go w.Run(ctx)

	if cfg.FeedListenAddr != "" {
		feedSrv, err := feed.New(cfg.FeedListenAddr, bus, logger)
		if err != nil {
			logger.Warn("event feed disabled",
				zap.String("addr", cfg.FeedListenAddr), zap.Error(err))
		} else {
			go feedSrv.Run(ctx)
		}
	}

	// Prime the window cache and the status file before the first tick.
	if err := tracker.Scan(); err != nil {
		logger.Debug("initial window scan failed", zap.Error(err))
	}
	d.writeStatus()

	scanTicker := time.NewTicker(time.Duration(cfg.ScanIntervalSeconds) * time.Second)
	defer scanTicker.Stop()
	sweepTicker := time.NewTicker(time.Duration(cfg.SweepIntervalSeconds) * time.Second)
	defer sweepTicker.Stop()
	statusTicker := time.NewTicker(2 * time.Second)
	defer statusTicker.Stop()
	cmdTicker := time.NewTicker(1 * time.Second)
	defer cmdTicker.Stop()

	logger.Info("sortinel-core running",
		zap.String("downloads", downloadsDir),
		zap.String("source_app", cfg.SourceAppName))

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return

		case <-scanTicker.C:
			if d.currentMode() == ipc.ModeAuto {
				if err := d.tracker.Scan(); err != nil {
					d.setLastError(err)
				}
			}

		case <-sweepTicker.C:
			if ended := d.sessions.SweepTimedOut(); ended > 0 {
				logger.Debug("sessions swept", zap.Int("ended", ended))
			}
			maxAge := time.Duration(cfg.MaxSignalAgeSeconds) * time.Second
			if removed := d.tracker.EvictExpired(maxAge); removed > 0 {
				logger.Debug("stale windows evicted", zap.Int("removed", removed))
			}

		case <-statusTicker.C:
			d.writeStatus()

		case <-cmdTicker.C:
			cmd, err := ipc.ReadCommand()
			if err != nil {
				logger.Debug("command read failed", zap.Error(err))
				continue
			}
			if cmd == "" {
				continue
			}
			if quit := d.handleCommand(cmd); quit {
				d.shutdown()
				return
			}
		}
	}
}

// handleFile classifies one newly observed download. Invoked from the
// watcher goroutine.
func (d *daemon) handleFile(ev watcher.FileEvent) {
	if d.currentMode() != ipc.ModeAuto {
		d.logger.Debug("classification paused, skipping file", zap.String("file", ev.Name))
		return
	}

	d.bursts.Record(ev.Name, ev.At)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := d.engine.DetectWithDetails(ctx, ev.Name, ev.At)
	d.logger.Info("file classified",
		zap.String("file", ev.Name),
		zap.String("context", result.DetectedContext),
		zap.Float64("confidence", result.OverallConfidence),
		zap.Bool("boosted", result.BoostApplied))

	if result.DetectedContext == signal.Unsorted {
		return
	}

	d.sessions.AddFile(ev.Name, result.DetectedContext, ev.Path, ev.Size)

	// Confident classifications feed the pattern store so future files of
	// the same extension inherit the association.
	if result.OverallConfidence >= feedbackThreshold {
		d.engine.RecordFeedback(ctx, ev.Name, result.DetectedContext, "", true)
	}
	d.writeStatus()
}

// handleCommand processes one control command. Returns true on quit.
func (d *daemon) handleCommand(cmd ipc.Command) bool {
	d.logger.Info("received command", zap.String("command", string(cmd)))

	switch cmd {
	case ipc.CmdRescan:
		if err := d.tracker.Scan(); err != nil {
			d.setLastError(err)
		}
		d.writeStatus()

	case ipc.CmdEndSession:
		d.sessions.EndCurrent()
		d.writeStatus()

	case ipc.CmdAuto:
		d.setMode(ipc.ModeAuto)
		d.writeStatus()

	case ipc.CmdPause:
		d.setMode(ipc.ModePaused)
		d.writeStatus()

	case ipc.CmdQuit:
		return true
	}
	return false
}

func (d *daemon) shutdown() {
	d.logger.Info("shutting down")
	d.sessions.EndCurrent()
	d.bursts.Reset()
	d.writeStatus()
}

// writeStatus publishes the daemon state to the status file for the control
// tool. Write failures are logged only.
func (d *daemon) writeStatus() {
	status := &ipc.StatusSnapshot{
		Mode:           d.currentMode(),
		LastResult:     d.engine.LastResult(),
		Burst:          d.bursts.Status(),
		Stats:          d.engine.Stats(),
		TrackedWindows: len(d.tracker.All()),
		LastError:      d.currentError(),
		Timestamp:      time.Now(),
	}
	if active, ok := d.sessions.Active(); ok {
		status.ActiveSession = &active
	}
	if err := ipc.WriteStatus(status); err != nil {
		d.logger.Debug("status write failed", zap.Error(err))
	}
}

func (d *daemon) currentMode() ipc.OperatingMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *daemon) setMode(mode ipc.OperatingMode) {
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
	d.logger.Info("mode changed", zap.String("mode", string(mode)))
}

func (d *daemon) setLastError(err error) {
	d.mu.Lock()
	d.lastError = err.Error()
	d.mu.Unlock()
}

func (d *daemon) currentError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}
