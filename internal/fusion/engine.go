// Package fusion is the top-level classification orchestrator: it collects
// one signal per available source, applies the session priority boost, and
// resolves the winner by weighted voting.
package fusion

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sortinel/sortinel/internal/events"
	"github.com/sortinel/sortinel/internal/extract"
	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
	"github.com/sortinel/sortinel/internal/windowtrack"
)

// Config holds the tunable detection parameters. Zero values fall back to
// the defaults below.
type Config struct {
	// Weights is the per-source vote weight.
	Weights map[signal.Source]float64
	// MinimumConfidence filters signals before voting.
	MinimumConfidence float64
	// WeakForegroundPower is the voting power under which the foreground
	// signal no longer blocks the session boost.
	WeakForegroundPower float64
	// BoostMultiplier scales the session signal's weight when boosted.
	BoostMultiplier float64
	// DampeningFactor scales every other signal's weight when boosted.
	DampeningFactor float64
	// RecentWindowAge is how far back the background source looks.
	RecentWindowAge time.Duration
	// SourceProcessNames identify a genuine source-application foreground.
	SourceProcessNames []string
	// PatternTimeout bounds each pattern-store lookup.
	PatternTimeout time.Duration
	// PatternCacheTTL memoizes pattern lookups per extension.
	PatternCacheTTL time.Duration
}

// DefaultWeights reflect how much each source is trusted before confidence
// is factored in. The foreground outweighs an unboosted session so that a
// deliberate switch to a different chat wins naturally (boost Case B); the
// boost multiplier is what lets a session dominate mid-batch.
func DefaultWeights() map[signal.Source]float64 {
	return map[signal.Source]float64{
		signal.SourceForeground: 1.0,
		signal.SourceBackground: 0.7,
		signal.SourceSession:    0.8,
		signal.SourcePattern:    0.5,
	}
}

func (c *Config) applyDefaults() {
	if c.Weights == nil {
		c.Weights = DefaultWeights()
	}
	if c.MinimumConfidence <= 0 {
		c.MinimumConfidence = 0.3
	}
	if c.WeakForegroundPower <= 0 {
		c.WeakForegroundPower = 0.5
	}
	if c.BoostMultiplier <= 0 {
		c.BoostMultiplier = 2.0
	}
	if c.DampeningFactor <= 0 {
		c.DampeningFactor = 0.5
	}
	if c.RecentWindowAge <= 0 {
		c.RecentWindowAge = 60 * time.Second
	}
	if c.PatternTimeout <= 0 {
		c.PatternTimeout = 500 * time.Millisecond
	}
	if c.PatternCacheTTL <= 0 {
		c.PatternCacheTTL = 30 * time.Second
	}
}

// Stats are the engine's running counters.
type Stats struct {
	TotalDetections        int64   `json:"total_detections"`
	ConsensusDetections    int64   `json:"consensus_detections"`
	AverageDetectionTimeMs float64 `json:"average_detection_time_ms"`
	SessionBoostCount      int64   `json:"session_boost_count"`
}

// Engine fuses the four signal sources into one classification per file
// observation. Safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	weights    map[signal.Source]float64
	lastResult *signal.Result
	stats      Stats

	collectors []Collector
	patterns   *patternCollector
	store      providers.PatternStore

	bus    *events.Bus
	logger *zap.Logger
}

// New creates the engine. All five collaborators are required; a missing
// one is the only fatal condition in this package.
func New(cfg Config, fg providers.Foreground, tracker *windowtrack.Tracker, sessions *session.Manager, patterns providers.PatternStore, extractor *extract.Extractor, bus *events.Bus, logger *zap.Logger) (*Engine, error) {
	switch {
	case fg == nil:
		return nil, fmt.Errorf("fusion: foreground provider is required")
	case tracker == nil:
		return nil, fmt.Errorf("fusion: window tracker is required")
	case sessions == nil:
		return nil, fmt.Errorf("fusion: session manager is required")
	case patterns == nil:
		return nil, fmt.Errorf("fusion: pattern store is required")
	case extractor == nil:
		return nil, fmt.Errorf("fusion: extractor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	pc := newPatternCollector(patterns, cfg.PatternCacheTTL, cfg.PatternTimeout)
	e := &Engine{
		cfg:      cfg,
		weights:  cfg.Weights,
		patterns: pc,
		store:    patterns,
		bus:      bus,
		logger:   logger,
	}
	e.collectors = []Collector{
		&foregroundCollector{provider: fg, extractor: extractor, processNames: cfg.SourceProcessNames},
		&backgroundCollector{tracker: tracker, recentWindow: cfg.RecentWindowAge},
		&sessionCollector{manager: sessions},
		pc,
	}
	return e, nil
}

// Detect classifies one file observation and returns only the winning
// context.
func (e *Engine) Detect(ctx context.Context, fileName string, now time.Time) string {
	return e.DetectWithDetails(ctx, fileName, now).DetectedContext
}

// DetectWithDetails runs the full pipeline: collect, filter, boost, vote.
// It always returns a result; with no usable signals the context is the
// Unsorted sentinel at zero confidence.
func (e *Engine) DetectWithDetails(ctx context.Context, fileName string, now time.Time) *signal.Result {
	start := time.Now()

	collected := e.CollectAllSignals(ctx, fileName, now)

	minConfidence := e.minimumConfidence()
	valid := collected[:0:0]
	for _, s := range collected {
		if s.Valid() && s.Confidence >= minConfidence {
			valid = append(valid, s)
		}
	}

	if len(valid) == 0 {
		result := signal.UnsortedResult(msSince(start))
		e.finish(fileName, result)
		return result
	}

	boosted, reason := e.applyBoost(valid)

	winner, winningScore, breakdown := vote(valid)

	agree := 0
	confidenceSum := 0.0
	disagree := 0
	for i := range valid {
		if valid[i].DetectedContext == winner {
			agree++
			confidenceSum += valid[i].Confidence
		} else {
			disagree++
		}
	}
	overall := confidenceSum / float64(agree)
	if agree > 1 {
		overall += 0.1
	}
	overall -= 0.05 * float64(disagree)
	overall = clamp01(overall)

	result := &signal.Result{
		DetectedContext:     winner,
		OverallConfidence:   overall,
		Signals:             valid,
		SignalBreakdown:     breakdown,
		WinningScore:        winningScore,
		DetectionDurationMs: msSince(start),
		BoostApplied:        boosted,
		BoostReason:         reason,
	}
	e.finish(fileName, result)
	return result
}

// CollectAllSignals gathers one weighted signal per source that has one.
// Failing sources are logged and omitted, never propagated.
func (e *Engine) CollectAllSignals(ctx context.Context, fileName string, now time.Time) []signal.Signal {
	var out []signal.Signal
	for _, c := range e.collectors {
		s, err := c.Collect(ctx, fileName, now)
		if err != nil {
			e.logger.Debug("signal source unavailable",
				zap.String("source", string(c.Name())),
				zap.String("file", fileName),
				zap.Error(err))
			continue
		}
		if s == nil {
			continue
		}
		w := e.sourceWeight(c.Name())
		s.Weight = w
		s.OriginalWeight = w
		out = append(out, *s)
	}
	return out
}

// applyBoost implements the session priority policy in place. Returns
// whether the boost engaged and the human-readable reason.
func (e *Engine) applyBoost(signals []signal.Signal) (bool, string) {
	var sessionSig, fgSig *signal.Signal
	for i := range signals {
		switch signals[i].Source {
		case signal.SourceSession:
			sessionSig = &signals[i]
		case signal.SourceForeground:
			fgSig = &signals[i]
		}
	}
	if sessionSig == nil {
		return false, ""
	}

	e.mu.Lock()
	weak := e.cfg.WeakForegroundPower
	multiplier := e.cfg.BoostMultiplier
	dampening := e.cfg.DampeningFactor
	e.mu.Unlock()

	var reason string
	switch {
	case fgSig == nil:
		reason = "foreground signal missing; session preserves batch consistency"
	case fgSig.VotingPower() < weak:
		reason = fmt.Sprintf("foreground signal weak (power %.2f < %.2f); session preserves batch consistency",
			fgSig.VotingPower(), weak)
	case fgSig.DetectedContext != sessionSig.DetectedContext:
		// The user is deliberately viewing a different source inside the
		// source application: let the foreground win so a session
		// transition can follow.
		return false, ""
	default:
		return false, ""
	}

	for i := range signals {
		if signals[i].Source == signal.SourceSession {
			signals[i].Weight *= multiplier
			signals[i].WasBoosted = true
		} else {
			signals[i].Weight *= dampening
		}
	}
	return true, reason
}

// vote groups signals by context, sums voting power, and picks the maximum.
// Equal totals break deterministically to the lexicographically smallest
// context name.
func vote(signals []signal.Signal) (winner string, winningScore float64, breakdown map[signal.Source]float64) {
	totals := make(map[string]float64, len(signals))
	breakdown = make(map[signal.Source]float64, len(signals))
	for i := range signals {
		power := signals[i].VotingPower()
		totals[signals[i].DetectedContext] += power
		breakdown[signals[i].Source] += power
	}

	contexts := make([]string, 0, len(totals))
	for c := range totals {
		contexts = append(contexts, c)
	}
	sort.Strings(contexts)

	for _, c := range contexts {
		if winner == "" || totals[c] > winningScore {
			winner = c
			winningScore = totals[c]
		}
	}
	return winner, winningScore, breakdown
}

// RecordFeedback persists a learning observation to the pattern store,
// closing the loop for the pattern signal. Failures are logged only.
func (e *Engine) RecordFeedback(ctx context.Context, fileName, detectedContext, actualContext string, wasCorrect bool) {
	group := actualContext
	if group == "" {
		group = detectedContext
	}
	if group == "" || group == signal.Unsorted {
		return
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return
	}

	confidence := 0.6
	correct := 1
	if !wasCorrect {
		confidence = 0.4
		correct = 0
	}
	p := &providers.Pattern{
		Extension:       ext,
		HourOfDay:       -1,
		DayOfWeek:       -1,
		GroupName:       group,
		ConfidenceScore: confidence,
		TimesSeen:       1,
		TimesCorrect:    correct,
	}

	saveCtx, cancel := context.WithTimeout(ctx, e.cfg.PatternTimeout*4)
	defer cancel()
	if err := e.store.SavePattern(saveCtx, p); err != nil {
		e.logger.Debug("feedback persistence failed",
			zap.String("file", fileName),
			zap.Error(err))
		return
	}
	e.patterns.invalidate(ext)
	e.logger.Debug("feedback recorded",
		zap.String("file", fileName),
		zap.String("group", group),
		zap.Bool("correct", wasCorrect))
}

// SetSourceWeight adjusts a source's vote weight at runtime. Out-of-range
// values keep the prior weight and log a warning.
func (e *Engine) SetSourceWeight(src signal.Source, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if weight <= 0 || weight > 10 {
		e.logger.Warn("rejected out-of-range source weight",
			zap.String("source", string(src)),
			zap.Float64("weight", weight),
			zap.Float64("retained", e.weights[src]))
		return
	}
	e.weights[src] = weight
}

// SourceWeight returns the current vote weight for a source.
func (e *Engine) SourceWeight(src signal.Source) float64 {
	return e.sourceWeight(src)
}

// Stats returns a copy of the running counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LastResult returns the most recent detection result for diagnostics, or
// nil before the first detection.
func (e *Engine) LastResult() *signal.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

func (e *Engine) finish(fileName string, result *signal.Result) {
	e.mu.Lock()
	e.lastResult = result
	e.stats.TotalDetections++
	if result.HasConsensus() {
		e.stats.ConsensusDetections++
	}
	if result.BoostApplied {
		e.stats.SessionBoostCount++
	}
	n := float64(e.stats.TotalDetections)
	e.stats.AverageDetectionTimeMs += (result.DetectionDurationMs - e.stats.AverageDetectionTimeMs) / n
	e.mu.Unlock()

	e.logger.Debug("detection completed",
		zap.String("file", fileName),
		zap.String("context", result.DetectedContext),
		zap.Float64("confidence", result.OverallConfidence),
		zap.Bool("boosted", result.BoostApplied))
	e.bus.Publish(events.TopicDetection, events.KindDetectionDone, result)
}

func (e *Engine) sourceWeight(src signal.Source) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weights[src]
}

func (e *Engine) minimumConfidence() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.MinimumConfidence
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
