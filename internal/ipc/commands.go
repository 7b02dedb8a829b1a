package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command represents user commands from the control tool to the daemon
type Command string

const (
	CmdRescan     Command = "rescan"      // Force an immediate window scan
	CmdEndSession Command = "end-session" // End the active session now
	CmdAuto       Command = "auto"        // Switch to auto mode
	CmdPause      Command = "pause"       // Suspend classification
	CmdQuit       Command = "quit"        // Shutdown daemon
)

// WriteCommand writes a command to ~/.cache/sortinel/cmd.txt
func WriteCommand(cmd Command) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "sortinel")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cacheDir, "cmd.txt"), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears ~/.cache/sortinel/cmd.txt
// Returns empty string if no command or file doesn't exist
func ReadCommand() (Command, error) {
	cmdPath := filepath.Join(os.Getenv("HOME"), ".cache", "sortinel", "cmd.txt")

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // No command pending
		}
		return "", err
	}

	// Clear the file immediately to prevent re-execution
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return "", err
	}

	cmd := Command(strings.TrimSpace(string(data)))
	switch cmd {
	case CmdRescan, CmdEndSession, CmdAuto, CmdPause, CmdQuit:
		return cmd, nil
	default:
		// Empty or unknown - ignore it
		return "", nil
	}
}
