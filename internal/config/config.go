// Package config loads and validates the daemon configuration from a JSON
// file, falling back to the shipped defaults when the user has none.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sortinel/sortinel/internal/burst"
	"github.com/sortinel/sortinel/internal/fusion"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
	"github.com/sortinel/sortinel/internal/windowtrack"
)

// Config holds all daemon settings.
type Config struct {
	SourceAppName      string   `json:"source_app_name"`      // Display name appearing in window titles
	SourceProcessNames []string `json:"source_process_names"` // Process name substrings identifying the source app
	DownloadsDir       string   `json:"downloads_dir"`        // Directory to watch; empty means ~/Downloads
	DatabasePath       string   `json:"database_path"`        // SQLite path; empty means ~/.local/share/sortinel/sortinel.db

	ScanIntervalSeconds     int `json:"scan_interval_seconds"`      // Window scan cadence
	SweepIntervalSeconds    int `json:"sweep_interval_seconds"`     // Session/window expiry sweep cadence
	SessionTimeoutSeconds   int `json:"session_timeout_seconds"`    // Inactivity before a session ends
	BurstThresholdSeconds   int `json:"burst_threshold_seconds"`    // Max inter-file gap inside a burst
	MinimumFilesForBurst    int `json:"minimum_files_for_burst"`    // Files needed to activate a burst
	MaxBurstDurationSeconds int `json:"max_burst_duration_seconds"` // Hard cap on burst span
	MaxTrackedWindows       int `json:"max_tracked_windows"`        // Window cache bound
	MaxSignalAgeSeconds     int `json:"max_signal_age_seconds"`     // Background confidence decay horizon
	RecentWindowSeconds     int `json:"recent_window_seconds"`      // How far back the background signal looks

	MinimumConfidence float64            `json:"minimum_confidence"` // Signals below this never vote
	Weights           map[string]float64 `json:"weights,omitempty"`  // Per-source vote weight overrides

	FeedListenAddr string `json:"feed_listen_addr,omitempty"` // Event feed address; empty disables the feed
	LogPath        string `json:"log_path,omitempty"`         // Empty means ~/.cache/sortinel/sortinel.log
	Debug          bool   `json:"debug,omitempty"`            // Console debug logging
}

// Default returns the shipped configuration.
func Default() *Config {
	return &Config{
		SourceAppName:           "Telegram",
		SourceProcessNames:      []string{"telegram"},
		ScanIntervalSeconds:     2,
		SweepIntervalSeconds:    5,
		SessionTimeoutSeconds:   120,
		BurstThresholdSeconds:   5,
		MinimumFilesForBurst:    3,
		MaxBurstDurationSeconds: 300,
		MaxTrackedWindows:       10,
		MaxSignalAgeSeconds:     300,
		RecentWindowSeconds:     60,
		MinimumConfidence:       0.3,
		FeedListenAddr:          "127.0.0.1:8491",
	}
}

// Load reads configuration from ~/.config/sortinel/config.json, falling back
// to configs/default-config.json when the user has none.
func Load() (*Config, error) {
	configDir := filepath.Join(os.Getenv("HOME"), ".config", "sortinel")
	userConfigPath := filepath.Join(configDir, "config.json")

	data, err := os.ReadFile(userConfigPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath := "configs/default-config.json"
			data, err = os.ReadFile(defaultPath)
			if err != nil {
				// No config anywhere; run on the built-in defaults.
				cfg := Default()
				if verr := cfg.Validate(); verr != nil {
					return nil, verr
				}
				return cfg, nil
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		} else {
			return nil, err
		}
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to ~/.config/sortinel/config.json.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".config", "sortinel")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(configDir, "config.json"), data, 0644)
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if c.SourceAppName == "" {
		return fmt.Errorf("source_app_name must not be empty")
	}
	if len(c.SourceProcessNames) == 0 {
		return fmt.Errorf("at least one source process name is required")
	}
	if c.ScanIntervalSeconds < 1 || c.ScanIntervalSeconds > 60 {
		return fmt.Errorf("scan_interval_seconds must be between 1 and 60, got %d", c.ScanIntervalSeconds)
	}
	if c.SweepIntervalSeconds < 1 || c.SweepIntervalSeconds > 60 {
		return fmt.Errorf("sweep_interval_seconds must be between 1 and 60, got %d", c.SweepIntervalSeconds)
	}
	if c.SessionTimeoutSeconds < 1 {
		return fmt.Errorf("session_timeout_seconds must be at least 1, got %d", c.SessionTimeoutSeconds)
	}
	if c.BurstThresholdSeconds < 1 || c.BurstThresholdSeconds > 60 {
		return fmt.Errorf("burst_threshold_seconds must be between 1 and 60, got %d", c.BurstThresholdSeconds)
	}
	if c.MinimumFilesForBurst < 1 {
		return fmt.Errorf("minimum_files_for_burst must be at least 1, got %d", c.MinimumFilesForBurst)
	}
	if c.MaxBurstDurationSeconds < c.BurstThresholdSeconds {
		return fmt.Errorf("max_burst_duration_seconds (%d) must be >= burst_threshold_seconds (%d)",
			c.MaxBurstDurationSeconds, c.BurstThresholdSeconds)
	}
	if c.MaxTrackedWindows < 1 {
		return fmt.Errorf("max_tracked_windows must be at least 1, got %d", c.MaxTrackedWindows)
	}
	if c.MaxSignalAgeSeconds < 1 {
		return fmt.Errorf("max_signal_age_seconds must be at least 1, got %d", c.MaxSignalAgeSeconds)
	}
	if c.RecentWindowSeconds < 1 {
		return fmt.Errorf("recent_window_seconds must be at least 1, got %d", c.RecentWindowSeconds)
	}
	if c.MinimumConfidence <= 0 || c.MinimumConfidence > 1 {
		return fmt.Errorf("minimum_confidence must be in (0, 1], got %f", c.MinimumConfidence)
	}
	for src, w := range c.Weights {
		if w <= 0 || w > 10 {
			return fmt.Errorf("weight for source %q must be in (0, 10], got %f", src, w)
		}
	}
	return nil
}

// ResolvedDownloadsDir returns the watch directory, defaulting to ~/Downloads.
func (c *Config) ResolvedDownloadsDir() string {
	if c.DownloadsDir != "" {
		return c.DownloadsDir
	}
	return filepath.Join(os.Getenv("HOME"), "Downloads")
}

// ResolvedDatabasePath returns the SQLite path, defaulting under
// ~/.local/share/sortinel.
func (c *Config) ResolvedDatabasePath() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "sortinel", "sortinel.db")
}

// ResolvedLogPath returns the log file path, defaulting under ~/.cache/sortinel.
func (c *Config) ResolvedLogPath() string {
	if c.LogPath != "" {
		return c.LogPath
	}
	return filepath.Join(os.Getenv("HOME"), ".cache", "sortinel", "sortinel.log")
}

// BurstConfig converts to the burst detector's settings.
func (c *Config) BurstConfig() burst.Config {
	return burst.Config{
		Threshold:    time.Duration(c.BurstThresholdSeconds) * time.Second,
		MinimumFiles: c.MinimumFilesForBurst,
		MaxDuration:  time.Duration(c.MaxBurstDurationSeconds) * time.Second,
	}
}

// SessionConfig converts to the session manager's settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Timeout: time.Duration(c.SessionTimeoutSeconds) * time.Second,
	}
}

// TrackerConfig converts to the window tracker's settings.
func (c *Config) TrackerConfig() windowtrack.Config {
	return windowtrack.Config{
		MaxTracked:   c.MaxTrackedWindows,
		MaxSignalAge: time.Duration(c.MaxSignalAgeSeconds) * time.Second,
	}
}

// FusionConfig converts to the fusion engine's settings.
func (c *Config) FusionConfig() fusion.Config {
	var weights map[signal.Source]float64
	if len(c.Weights) > 0 {
		weights = fusion.DefaultWeights()
		for src, w := range c.Weights {
			weights[signal.Source(src)] = w
		}
	}
	return fusion.Config{
		Weights:            weights,
		MinimumConfidence:  c.MinimumConfidence,
		RecentWindowAge:    time.Duration(c.RecentWindowSeconds) * time.Second,
		SourceProcessNames: c.SourceProcessNames,
	}
}
