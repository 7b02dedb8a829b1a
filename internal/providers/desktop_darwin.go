//go:build darwin

package providers

import (
	"fmt"
	"strings"

	"github.com/progrium/darwinkit/macos/appkit"
)

// Desktop implements Foreground and WindowEnumerator on macOS via the
// shared NSWorkspace. Window enumeration is approximated with the running
// applications list filtered to the source application's process names;
// true per-window titles would require the accessibility APIs.
type Desktop struct {
	workspace    appkit.Workspace
	processNames []string
}

// NewDesktop creates the macOS provider bound to the source application's
// process name patterns.
func NewDesktop(processNames []string) *Desktop {
	return &Desktop{
		workspace:    appkit.Workspace_SharedWorkspace(),
		processNames: processNames,
	}
}

// ActiveTitle returns the frontmost application's localized name.
func (d *Desktop) ActiveTitle() (string, error) {
	frontApp := d.workspace.FrontmostApplication()
	if frontApp.Ptr() == nil {
		return "", nil
	}
	return frontApp.LocalizedName(), nil
}

// ActiveProcessName returns the frontmost application's bundle identifier,
// falling back to the localized name.
func (d *Desktop) ActiveProcessName() (string, error) {
	frontApp := d.workspace.FrontmostApplication()
	if frontApp.Ptr() == nil {
		return "", nil
	}
	if id := frontApp.BundleIdentifier(); id != "" {
		return id, nil
	}
	return frontApp.LocalizedName(), nil
}

// ListWindows returns one candidate per running source-application process.
func (d *Desktop) ListWindows() ([]WindowInfo, error) {
	apps := d.workspace.RunningApplications()

	var out []WindowInfo
	for _, app := range apps {
		if app.Ptr() == nil {
			continue
		}

		bundleID := app.BundleIdentifier()
		localizedName := app.LocalizedName()
		if !d.matches(bundleID) && !d.matches(localizedName) {
			continue
		}

		out = append(out, WindowInfo{
			ID:            fmt.Sprintf("%s:%d", bundleID, app.ProcessIdentifier()),
			Title:         localizedName,
			ProcessName:   bundleID,
			IsActiveFocus: app.IsActive(),
		})
	}
	return out, nil
}

func (d *Desktop) matches(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, pattern := range d.processNames {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
