package fusion

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sortinel/sortinel/internal/extract"
	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
	"github.com/sortinel/sortinel/internal/windowtrack"
)

// foregroundDirectConfidence is assigned when the focused window is a
// genuine source-application hit with an extractable group name.
const foregroundDirectConfidence = 0.95

// Collector gathers one source's proposed classification for a file
// observation. A (nil, nil) return means the signal is absent, which is
// not an error.
type Collector interface {
	Name() signal.Source
	Collect(ctx context.Context, fileName string, now time.Time) (*signal.Signal, error)
}

// ── Foreground ───────────────────────────────────────────────────────────

// foregroundCollector reads the focused window. The signal only exists when
// the focused process is the source application itself; an unrelated
// foreground app yields no signal at all.
type foregroundCollector struct {
	provider     providers.Foreground
	extractor    *extract.Extractor
	processNames []string
}

func (c *foregroundCollector) Name() signal.Source { return signal.SourceForeground }

func (c *foregroundCollector) Collect(ctx context.Context, fileName string, now time.Time) (*signal.Signal, error) {
	procName, err := c.provider.ActiveProcessName()
	if err != nil {
		return nil, err
	}
	if !c.isSourceProcess(procName) {
		return nil, nil
	}

	title, err := c.provider.ActiveTitle()
	if err != nil {
		return nil, err
	}
	name := c.extractor.GroupName(title)
	if name == signal.Unsorted {
		return nil, nil
	}

	return &signal.Signal{
		Source:          signal.SourceForeground,
		DetectedContext: name,
		Confidence:      foregroundDirectConfidence,
		Timestamp:       now,
	}, nil
}

func (c *foregroundCollector) isSourceProcess(procName string) bool {
	if procName == "" {
		return false
	}
	lower := strings.ToLower(procName)
	for _, pattern := range c.processNames {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// ── Background ───────────────────────────────────────────────────────────

// backgroundCollector consults the window tracker's cache of recently seen
// source windows. Confidence arrives pre-decayed by the tracker.
type backgroundCollector struct {
	tracker      *windowtrack.Tracker
	recentWindow time.Duration
}

func (c *backgroundCollector) Name() signal.Source { return signal.SourceBackground }

func (c *backgroundCollector) Collect(ctx context.Context, fileName string, now time.Time) (*signal.Signal, error) {
	name, confidence, ok := c.tracker.BestRecentGroupName(c.recentWindow)
	if !ok || confidence <= 0 {
		return nil, nil
	}
	return &signal.Signal{
		Source:          signal.SourceBackground,
		DetectedContext: name,
		Confidence:      confidence,
		Timestamp:       now,
	}, nil
}

// ── Session ──────────────────────────────────────────────────────────────

// sessionCollector proposes the active session's group, with the stored
// score discounted by session age: max(0, 1 - age/(2*timeout)).
type sessionCollector struct {
	manager *session.Manager
}

func (c *sessionCollector) Name() signal.Source { return signal.SourceSession }

func (c *sessionCollector) Collect(ctx context.Context, fileName string, now time.Time) (*signal.Signal, error) {
	active, ok := c.manager.Active()
	if !ok {
		return nil, nil
	}

	penalty := 1.0
	if active.Timeout > 0 {
		age := now.Sub(active.LastActivity)
		penalty = 1 - age.Seconds()/(2*active.Timeout.Seconds())
		if penalty < 0 {
			penalty = 0
		}
	}
	confidence := active.ConfidenceScore * penalty
	if confidence <= 0 {
		return nil, nil
	}

	return &signal.Signal{
		Source:          signal.SourceSession,
		DetectedContext: active.GroupName,
		Confidence:      confidence,
		Timestamp:       now,
	}, nil
}

// ── Pattern ──────────────────────────────────────────────────────────────

// patternCollector consults the historical pattern store with a bounded
// timeout; lookups per extension are memoized briefly so a burst of files
// doesn't hammer the store.
type patternCollector struct {
	store   providers.PatternStore
	cache   *gocache.Cache
	timeout time.Duration
}

func newPatternCollector(store providers.PatternStore, cacheTTL, timeout time.Duration) *patternCollector {
	return &patternCollector{
		store:   store,
		cache:   gocache.New(cacheTTL, 2*cacheTTL),
		timeout: timeout,
	}
}

func (c *patternCollector) Name() signal.Source { return signal.SourcePattern }

func (c *patternCollector) Collect(ctx context.Context, fileName string, now time.Time) (*signal.Signal, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return nil, nil
	}

	var pattern *providers.Pattern
	if cached, found := c.cache.Get(ext); found {
		pattern = cached.(*providers.Pattern)
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		pattern, err = c.store.BestPattern(lookupCtx, fileName, ext, now)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ext, pattern, gocache.DefaultExpiration)
	}

	if pattern == nil || pattern.GroupName == "" {
		return nil, nil
	}

	// Accuracy plus a small bonus for well-observed patterns, capped at 1.
	confidence := pattern.Accuracy() + minFloat(0.1, float64(pattern.TimesSeen)/100)
	if confidence > 1 {
		confidence = 1
	}
	if confidence <= 0 {
		return nil, nil
	}

	return &signal.Signal{
		Source:          signal.SourcePattern,
		DetectedContext: pattern.GroupName,
		Confidence:      confidence,
		Timestamp:       now,
	}, nil
}

// invalidate drops the memoized lookup for an extension, used after
// feedback writes a new observation.
func (c *patternCollector) invalidate(ext string) {
	c.cache.Delete(strings.ToLower(ext))
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
