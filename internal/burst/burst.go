// Package burst recognizes rapid successive file observations as one batch.
// A rolling, time-bounded event window drives started/continued/ended
// transitions; status queries are non-mutating snapshots.
package burst

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/events"
)

// confidenceSaturationCount is the file count at which the count half of the
// burst confidence maxes out.
const confidenceSaturationCount = 10

// Config bounds the rolling window.
type Config struct {
	// Threshold is the maximum gap between events in one burst.
	Threshold time.Duration
	// MinimumFiles is how many events inside the window activate a burst.
	MinimumFiles int
	// MaxDuration force-terminates a burst regardless of event gaps.
	MaxDuration time.Duration
}

// Event is one recorded file observation.
type Event struct {
	FileName string    `json:"file_name"`
	Time     time.Time `json:"time"`
}

// Snapshot is a copy of the detector state at one instant.
type Snapshot struct {
	IsActive   bool      `json:"is_active"`
	StartTime  time.Time `json:"start_time,omitempty"`
	FileCount  int       `json:"file_count"`
	Events     []Event   `json:"events,omitempty"`
	Confidence float64   `json:"confidence"`
}

// Detector maintains the rolling event window. Safe for concurrent use.
type Detector struct {
	mu     sync.Mutex
	cfg    Config
	events []Event
	active bool
	start  time.Time

	bus    *events.Bus
	logger *zap.Logger
}

// New creates a burst detector. bus may be nil when nobody subscribes.
func New(cfg Config, bus *events.Bus, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{cfg: cfg, bus: bus, logger: logger}
}

// Record adds a file observation at t, evicting stale events and updating
// the burst state machine.
func (d *Detector) Record(fileName string, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictLocked(t)

	// A burst that has dragged on past the duration cap ends even when the
	// inter-event gaps stayed tight.
	if d.active && t.Sub(d.start) > d.cfg.MaxDuration {
		d.logger.Debug("burst force-terminated",
			zap.Duration("span", t.Sub(d.start)),
			zap.Int("file_count", len(d.events)))
		d.endLocked()
		d.events = nil
	}

	d.events = append(d.events, Event{FileName: fileName, Time: t})

	if len(d.events) >= d.cfg.MinimumFiles {
		if !d.active {
			d.active = true
			d.start = d.events[0].Time
			d.logger.Debug("burst started", zap.Int("file_count", len(d.events)))
			d.bus.Publish(events.TopicBurst, events.KindBurstStarted, d.snapshotLocked())
		} else {
			d.bus.Publish(events.TopicBurst, events.KindBurstContinued, d.snapshotLocked())
		}
	} else if d.active {
		// Eviction drained the window below the minimum.
		d.endLocked()
	}
}

// IsBurst answers whether adding fileName at t would complete or continue a
// burst, without recording it: the most recent event must be within the
// threshold of t and at least MinimumFiles-1 prior events must be retained.
func (d *Detector) IsBurst(fileName string, t time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) == 0 {
		return false
	}
	last := d.events[len(d.events)-1]
	if t.Sub(last.Time) > d.cfg.Threshold {
		return false
	}
	prior := 0
	for i := range d.events {
		if t.Sub(d.events[i].Time) <= d.cfg.Threshold {
			prior++
		}
	}
	return prior >= d.cfg.MinimumFiles-1
}

// Status returns a copy of the current state. Repeated calls without an
// intervening Record return identical snapshots.
func (d *Detector) Status() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Remaining reports the seconds left before the current burst lapses absent
// new events; ok is false when no burst is active.
func (d *Detector) Remaining(now time.Time) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active || len(d.events) == 0 {
		return 0, false
	}
	left := d.cfg.Threshold - now.Sub(d.events[len(d.events)-1].Time)
	if left < 0 {
		left = 0
	}
	return left.Seconds(), true
}

// Reset clears all events and ends any active burst.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		d.endLocked()
	}
	d.events = nil
}

// endLocked marks the burst inactive and publishes the terminal snapshot.
// Retained events are left alone; callers decide whether to clear them.
func (d *Detector) endLocked() {
	snap := d.snapshotLocked()
	d.active = false
	d.start = time.Time{}
	d.bus.Publish(events.TopicBurst, events.KindBurstEnded, snap)
}

func (d *Detector) evictLocked(now time.Time) {
	cutoff := now.Add(-d.cfg.Threshold)
	i := 0
	for ; i < len(d.events); i++ {
		if !d.events[i].Time.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		d.events = append([]Event(nil), d.events[i:]...)
	}
}

func (d *Detector) snapshotLocked() Snapshot {
	snap := Snapshot{
		IsActive:   d.active,
		StartTime:  d.start,
		FileCount:  len(d.events),
		Confidence: d.confidenceLocked(),
	}
	snap.Events = append(snap.Events, d.events...)
	return snap
}

// confidenceLocked blends how many files the burst holds (saturating at
// confidenceSaturationCount) with how tight the average inter-file interval
// is, 50/50.
func (d *Detector) confidenceLocked() float64 {
	n := len(d.events)
	if !d.active || n == 0 {
		return 0
	}

	countFactor := float64(n) / confidenceSaturationCount
	if countFactor > 1 {
		countFactor = 1
	}

	intervalFactor := 0.0
	if n >= 2 {
		total := d.events[n-1].Time.Sub(d.events[0].Time)
		avg := total / time.Duration(n-1)
		intervalFactor = 1 - avg.Seconds()/d.cfg.Threshold.Seconds()
		if intervalFactor < 0 {
			intervalFactor = 0
		}
	}

	return 0.5*countFactor + 0.5*intervalFactor
}
