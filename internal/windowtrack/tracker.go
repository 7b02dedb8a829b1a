// Package windowtrack maintains a bounded, time-decayed cache of recently
// observed source-application windows. It is the memory behind the
// background signal: when the user has tabbed away, the last chat window we
// saw is still a usable (if decaying) hint.
package windowtrack

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/events"
	"github.com/sortinel/sortinel/internal/extract"
	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/signal"
)

// Candidate confidence assigned at scan time; the focused window is a
// stronger hint than one merely visible.
const (
	focusedConfidence    = 0.9
	backgroundConfidence = 0.7
)

// Config bounds the cache.
type Config struct {
	// MaxTracked caps the cache size; overflow evicts oldest-by-LastSeen.
	MaxTracked int
	// MaxSignalAge is the horizon over which candidate confidence decays
	// linearly to zero.
	MaxSignalAge time.Duration
}

// Candidate is one cached source-application window.
type Candidate struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	ProcessName        string    `json:"process_name"`
	IsActive           bool      `json:"is_active"`
	FirstSeen          time.Time `json:"first_seen"`
	LastSeen           time.Time `json:"last_seen"`
	ConfidenceScore    float64   `json:"confidence_score"`
	ExtractedGroupName string    `json:"extracted_group_name"`
}

// Tracker is the cache. Safe for concurrent use; query methods return
// copies.
type Tracker struct {
	mu         sync.Mutex
	cfg        Config
	candidates map[string]*Candidate

	enum      providers.WindowEnumerator
	extractor *extract.Extractor
	bus       *events.Bus
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a tracker over the enumeration provider. bus may be nil.
func New(cfg Config, enum providers.WindowEnumerator, extractor *extract.Extractor, bus *events.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:        cfg,
		candidates: make(map[string]*Candidate),
		enum:       enum,
		extractor:  extractor,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// Scan pulls the current window list from the provider and merges it into
// the cache. Provider failures leave the cache untouched.
func (t *Tracker) Scan() error {
	windows, err := t.enum.ListWindows()
	if err != nil {
		t.logger.Debug("window enumeration failed", zap.Error(err))
		return err
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range windows {
		if existing, ok := t.candidates[w.ID]; ok {
			wasActive := existing.IsActive
			existing.LastSeen = now
			existing.Title = w.Title
			existing.IsActive = w.IsActiveFocus
			existing.ExtractedGroupName = t.extractor.GroupName(w.Title)
			existing.ConfidenceScore = scanConfidence(w.IsActiveFocus)
			if !wasActive && w.IsActiveFocus {
				t.bus.Publish(events.TopicWindow, events.KindWindowActivated, *existing)
			}
			continue
		}

		c := &Candidate{
			ID:                 w.ID,
			Title:              w.Title,
			ProcessName:        w.ProcessName,
			IsActive:           w.IsActiveFocus,
			FirstSeen:          now,
			LastSeen:           now,
			ConfidenceScore:    scanConfidence(w.IsActiveFocus),
			ExtractedGroupName: t.extractor.GroupName(w.Title),
		}
		t.candidates[w.ID] = c

		for len(t.candidates) > t.cfg.MaxTracked {
			t.evictOldestLocked()
		}
	}
	return nil
}

// All returns every cached candidate, most recently seen first.
func (t *Tracker) All() []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// MostRecent returns the most recently seen candidate, or ok=false on an
// empty cache.
func (t *Tracker) MostRecent() (Candidate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := t.sortedLocked()
	if len(all) == 0 {
		return Candidate{}, false
	}
	return all[0], true
}

// Recent returns candidates seen within the given window, most recent
// first.
func (t *Tracker) Recent(within time.Duration) []Candidate {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Candidate
	for _, c := range t.sortedLocked() {
		if now.Sub(c.LastSeen) <= within {
			out = append(out, c)
		}
	}
	return out
}

// ByID looks a candidate up by window id.
func (t *Tracker) ByID(id string) (Candidate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.candidates[id]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// BestRecentGroupName returns the strongest candidate group name among
// windows seen within the given window, with its age-decayed confidence.
// Highest assigned confidence wins; ties go to the most recent. When no
// recent window carries an extracted name, the single most recent window's
// title is re-extracted as a fallback.
func (t *Tracker) BestRecentGroupName(within time.Duration) (string, float64, bool) {
	now := t.now()
	recent := t.Recent(within)
	if len(recent) == 0 {
		return "", 0, false
	}

	var best *Candidate
	for i := range recent {
		c := &recent[i]
		if c.ExtractedGroupName == "" || c.ExtractedGroupName == signal.Unsorted {
			continue
		}
		if best == nil || c.ConfidenceScore > best.ConfidenceScore {
			best = c
		}
		// recent is most-recent-first, so on equal confidence the earlier
		// entry (more recent) is kept.
	}

	if best == nil {
		// Fall back to extracting from the most recent window's raw title.
		c := recent[0]
		name := t.extractor.GroupName(c.Title)
		if name == signal.Unsorted {
			return "", 0, false
		}
		return name, t.decayed(c.ConfidenceScore, now.Sub(c.LastSeen)), true
	}
	return best.ExtractedGroupName, t.decayed(best.ConfidenceScore, now.Sub(best.LastSeen)), true
}

// EvictExpired removes candidates not seen within timeout and returns how
// many were dropped.
func (t *Tracker) EvictExpired(timeout time.Duration) int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, c := range t.candidates {
		if now.Sub(c.LastSeen) > timeout {
			t.bus.Publish(events.TopicWindow, events.KindWindowRemoved, *c)
			delete(t.candidates, id)
			removed++
		}
	}
	return removed
}

// decayed applies the linear age decay against MaxSignalAge, floored at 0.
func (t *Tracker) decayed(base float64, age time.Duration) float64 {
	if t.cfg.MaxSignalAge <= 0 {
		return base
	}
	factor := 1 - age.Seconds()/t.cfg.MaxSignalAge.Seconds()
	if factor < 0 {
		factor = 0
	}
	return base * factor
}

func (t *Tracker) evictOldestLocked() {
	var oldest *Candidate
	for _, c := range t.candidates {
		if oldest == nil || c.LastSeen.Before(oldest.LastSeen) {
			oldest = c
		}
	}
	if oldest == nil {
		return
	}
	t.bus.Publish(events.TopicWindow, events.KindWindowRemoved, *oldest)
	delete(t.candidates, oldest.ID)
}

func (t *Tracker) sortedLocked() []Candidate {
	out := make([]Candidate, 0, len(t.candidates))
	for _, c := range t.candidates {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}

func scanConfidence(focused bool) float64 {
	if focused {
		return focusedConfidence
	}
	return backgroundConfidence
}
