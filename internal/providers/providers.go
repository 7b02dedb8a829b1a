// Package providers defines the narrow seams the fusion core consumes:
// the foreground window, visible source-application windows, and the
// historical pattern store. The core never implements these itself.
package providers

import (
	"context"
	"time"
)

// Foreground supplies the currently focused window.
type Foreground interface {
	// ActiveTitle returns the focused window's title, empty when the focus
	// cannot be determined.
	ActiveTitle() (string, error)
	// ActiveProcessName returns the focused window's owning process name.
	ActiveProcessName() (string, error)
}

// WindowInfo describes one visible top-level window of the source
// application, as returned by enumeration.
type WindowInfo struct {
	ID            string
	Title         string
	ProcessName   string
	IsActiveFocus bool
}

// WindowEnumerator lists the source application's visible top-level windows.
type WindowEnumerator interface {
	ListWindows() ([]WindowInfo, error)
}

// Pattern is one learned association between file characteristics and a
// group name, with its observation history.
type Pattern struct {
	Extension       string
	NamePattern     string
	HourOfDay       int // -1 when unset
	DayOfWeek       int // -1 when unset
	GroupName       string
	ConfidenceScore float64
	TimesSeen       int
	TimesCorrect    int
}

// Accuracy is the observed hit rate; ConfidenceScore when nothing has been
// observed yet.
func (p *Pattern) Accuracy() float64 {
	if p.TimesSeen <= 0 {
		return p.ConfidenceScore
	}
	return float64(p.TimesCorrect) / float64(p.TimesSeen)
}

// PatternStore persists learned patterns. Lookups are the only suspension
// points in a detection; callers bound them with a context deadline.
type PatternStore interface {
	BestPattern(ctx context.Context, fileName, extension string, at time.Time) (*Pattern, error)
	SavePattern(ctx context.Context, p *Pattern) error
}
