package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sortinel/sortinel/internal/burst"
	"github.com/sortinel/sortinel/internal/fusion"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
)

// OperatingMode represents user control over classification behavior
type OperatingMode string

const (
	ModeAuto   OperatingMode = "auto"   // Classify files as they appear
	ModePaused OperatingMode = "paused" // All classification suspended
)

// StatusSnapshot represents the complete daemon state at a point in time
type StatusSnapshot struct {
	Mode           OperatingMode    `json:"mode"`                     // Current operating mode
	LastResult     *signal.Result   `json:"last_result,omitempty"`    // Most recent classification
	ActiveSession  *session.Session `json:"active_session,omitempty"` // Currently open session
	Burst          burst.Snapshot   `json:"burst"`                    // Burst detector state
	Stats          fusion.Stats     `json:"stats"`                    // Engine running counters
	TrackedWindows int              `json:"tracked_windows"`          // Window cache population
	LastError      string           `json:"last_error,omitempty"`     // Last error message
	Timestamp      time.Time        `json:"timestamp"`                // Snapshot time
}

// WriteStatus persists StatusSnapshot to ~/.cache/sortinel/status.json using
// atomic write
func WriteStatus(status *StatusSnapshot) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "sortinel")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(cacheDir, "status.json"), status)
}

// ReadStatus loads StatusSnapshot from ~/.cache/sortinel/status.json
func ReadStatus() (*StatusSnapshot, error) {
	statusPath := filepath.Join(os.Getenv("HOME"), ".cache", "sortinel", "status.json")

	data, err := os.ReadFile(statusPath)
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	// Sync to disk before rename
	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	return os.Rename(tmpPath, path)
}
