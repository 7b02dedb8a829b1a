// Package extract derives candidate source names from raw window titles.
// The source application decorates chat titles with unread counters, message
// counters, and an application suffix; stripping those in a fixed order is
// shared by the foreground and background signal paths.
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/sortinel/sortinel/internal/signal"
)

var (
	// Leading unread-count marker, e.g. "(10) Chat Name"
	leadingUnread = regexp.MustCompile(`^\(\d+\)\s*`)
	// Trailing message-count marker, e.g. "Chat Name – (3043)"
	trailingCount = regexp.MustCompile(`(?:\s*[-–—])?\s*\(\d+\)\s*$`)
	// Collapses runs of whitespace left behind by stripping
	multiSpace = regexp.MustCompile(`\s+`)
)

// Extractor maps a raw window title to a candidate source name or the
// Unsorted sentinel.
type Extractor struct {
	appName     string
	trailingApp *regexp.Regexp
}

// New creates an extractor bound to the source application's display name
// (the "– AppName" suffix it appends to window titles).
func New(appName string) *Extractor {
	if appName == "" {
		appName = "Telegram"
	}
	return &Extractor{
		appName:     appName,
		trailingApp: regexp.MustCompile(`\s*[-–—]\s*` + regexp.QuoteMeta(appName) + `\s*$`),
	}
}

// AppName returns the bound source application display name.
func (e *Extractor) AppName() string {
	return e.appName
}

// GroupName strips title decoration in order: leading unread marker,
// trailing message counter, trailing application suffix, non-letter/digit
// decoration, whitespace runs. Returns the Unsorted sentinel when nothing
// usable remains or the title is just the bare application name.
func (e *Extractor) GroupName(title string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		return signal.Unsorted
	}

	name = leadingUnread.ReplaceAllString(name, "")
	name = trailingCount.ReplaceAllString(name, "")
	name = e.trailingApp.ReplaceAllString(name, "")

	// Drop decoration (emoji, punctuation) but keep letters and digits from
	// any script; replaced with spaces so word boundaries survive.
	name = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, name)

	name = strings.TrimSpace(multiSpace.ReplaceAllString(name, " "))

	if name == "" || strings.EqualFold(name, e.appName) {
		return signal.Unsorted
	}
	return name
}
