package fusion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sortinel/sortinel/internal/extract"
	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
	"github.com/sortinel/sortinel/internal/signal"
	"github.com/sortinel/sortinel/internal/windowtrack"
)

// ── fakes ────────────────────────────────────────────────────────────────

type fakeForeground struct {
	title string
	proc  string
	err   error
}

func (f *fakeForeground) ActiveTitle() (string, error)       { return f.title, f.err }
func (f *fakeForeground) ActiveProcessName() (string, error) { return f.proc, f.err }

type fakeEnum struct {
	windows []providers.WindowInfo
}

func (f *fakeEnum) ListWindows() ([]providers.WindowInfo, error) { return f.windows, nil }

type fakePatternStore struct {
	mu      sync.Mutex
	pattern *providers.Pattern
	saved   []*providers.Pattern
	err     error
}

func (f *fakePatternStore) BestPattern(ctx context.Context, fileName, ext string, at time.Time) (*providers.Pattern, error) {
	return f.pattern, f.err
}

func (f *fakePatternStore) SavePattern(ctx context.Context, p *providers.Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, p)
	return f.err
}

type memSessionStore struct{}

func (memSessionStore) SaveSession(ctx context.Context, s *session.Session) error { return nil }
func (memSessionStore) RecentSessions(ctx context.Context, limit int) ([]session.Session, error) {
	return nil, nil
}
func (memSessionStore) SessionStats(ctx context.Context) (session.Stats, error) {
	return session.Stats{}, nil
}

type harness struct {
	engine   *Engine
	fg       *fakeForeground
	enum     *fakeEnum
	tracker  *windowtrack.Tracker
	sessions *session.Manager
	patterns *fakePatternStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fg := &fakeForeground{}
	enum := &fakeEnum{}
	extractor := extract.New("Telegram")
	tracker := windowtrack.New(
		windowtrack.Config{MaxTracked: 10, MaxSignalAge: 5 * time.Minute},
		enum, extractor, nil, nil)
	sessions, err := session.NewManager(session.Config{Timeout: 2 * time.Minute}, memSessionStore{}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	patterns := &fakePatternStore{}

	cfg := Config{SourceProcessNames: []string{"telegram"}}
	engine, err := New(cfg, fg, tracker, sessions, patterns, extractor, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{engine: engine, fg: fg, enum: enum, tracker: tracker, sessions: sessions, patterns: patterns}
}

// ── constructor ──────────────────────────────────────────────────────────

func TestNewRequiresAllCollaborators(t *testing.T) {
	extractor := extract.New("Telegram")
	enum := &fakeEnum{}
	tracker := windowtrack.New(windowtrack.Config{MaxTracked: 5, MaxSignalAge: time.Minute}, enum, extractor, nil, nil)
	sessions, _ := session.NewManager(session.Config{Timeout: time.Minute}, memSessionStore{}, nil, nil)
	patterns := &fakePatternStore{}
	fg := &fakeForeground{}

	cases := []struct {
		name string
		fn   func() (*Engine, error)
	}{
		{"nil foreground", func() (*Engine, error) {
			return New(Config{}, nil, tracker, sessions, patterns, extractor, nil, nil)
		}},
		{"nil tracker", func() (*Engine, error) {
			return New(Config{}, fg, nil, sessions, patterns, extractor, nil, nil)
		}},
		{"nil sessions", func() (*Engine, error) {
			return New(Config{}, fg, tracker, nil, patterns, extractor, nil, nil)
		}},
		{"nil patterns", func() (*Engine, error) {
			return New(Config{}, fg, tracker, sessions, nil, extractor, nil, nil)
		}},
		{"nil extractor", func() (*Engine, error) {
			return New(Config{}, fg, tracker, sessions, patterns, nil, nil, nil)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.fn(); err == nil {
				t.Error("constructor accepted a missing collaborator")
			}
		})
	}
}

// ── detection ────────────────────────────────────────────────────────────

func TestDetectNoSignalsIsUnsorted(t *testing.T) {
	h := newHarness(t)

	result := h.engine.DetectWithDetails(context.Background(), "file.bin", time.Now())
	if result.DetectedContext != signal.Unsorted {
		t.Errorf("context = %q, want Unsorted", result.DetectedContext)
	}
	if result.OverallConfidence != 0 {
		t.Errorf("confidence = %f, want 0", result.OverallConfidence)
	}
	if result.BoostApplied {
		t.Error("boost applied with no signals")
	}
}

func TestDetectForegroundOnly(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "org.telegram.desktop"
	h.fg.title = "Tech News – Telegram"

	result := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())
	if result.DetectedContext != "Tech News" {
		t.Errorf("context = %q, want Tech News", result.DetectedContext)
	}
	if result.HasConsensus() {
		t.Error("single signal reported consensus")
	}
	if got := result.SignalBreakdown[signal.SourceForeground]; got <= 0 {
		t.Errorf("foreground breakdown = %f, want > 0", got)
	}
}

func TestForegroundOutsideSourceAppIsAbsent(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "com.apple.TextEdit"
	h.fg.title = "notes.txt"

	signals := h.engine.CollectAllSignals(context.Background(), "file.pdf", time.Now())
	for _, s := range signals {
		if s.Source == signal.SourceForeground {
			t.Errorf("foreground signal present for non-source app: %+v", s)
		}
	}
}

func TestWinnerHasMaxVotingPower(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "org.telegram.desktop"
	h.fg.title = "Tech News – Telegram"
	h.enum.windows = []providers.WindowInfo{
		{ID: "w1", Title: "CS50 Study Group – Telegram", ProcessName: "telegram"},
	}
	if err := h.tracker.Scan(); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	result := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())

	winnerTotal := 0.0
	others := map[string]float64{}
	for _, s := range result.Signals {
		if s.DetectedContext == result.DetectedContext {
			winnerTotal += s.VotingPower()
		} else {
			others[s.DetectedContext] += s.VotingPower()
		}
	}
	if winnerTotal != result.WinningScore {
		t.Errorf("winning score %.3f != summed power %.3f", result.WinningScore, winnerTotal)
	}
	for ctx, total := range others {
		if total > winnerTotal {
			t.Errorf("context %q has power %.3f above winner's %.3f", ctx, total, winnerTotal)
		}
	}
}

// ── session priority boost ───────────────────────────────────────────────

func TestBoostCaseAForegroundUnrelated(t *testing.T) {
	h := newHarness(t)
	// User drifted to an unrelated editor mid-batch.
	h.fg.proc = "com.apple.TextEdit"
	h.fg.title = "draft.txt"
	h.sessions.Start("A", "", 1.0)

	result := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())
	if !result.BoostApplied {
		t.Error("boost not applied with session and missing foreground")
	}
	if result.BoostReason == "" {
		t.Error("boost applied without a reason")
	}
	if result.DetectedContext != "A" {
		t.Errorf("context = %q, want session group A", result.DetectedContext)
	}
	for _, s := range result.Signals {
		if s.Source == signal.SourceSession {
			if !s.WasBoosted {
				t.Error("session signal not flagged as boosted")
			}
			if s.Weight <= s.OriginalWeight {
				t.Error("session weight not multiplied")
			}
		}
	}
}

func TestBoostCaseBForegroundDifferentGroup(t *testing.T) {
	h := newHarness(t)
	// User is still in the source app but deliberately opened group B.
	h.fg.proc = "org.telegram.desktop"
	h.fg.title = "B – Telegram"
	h.sessions.Start("A", "", 1.0)

	result := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())
	if result.BoostApplied {
		t.Error("boost applied despite strong different-context foreground")
	}
	if result.DetectedContext != "B" {
		t.Errorf("context = %q, want foreground group B", result.DetectedContext)
	}
	// One agreeing signal at 0.95 minus the 0.05 disagreement penalty.
	if result.OverallConfidence < 0.89 || result.OverallConfidence > 0.91 {
		t.Errorf("confidence = %.3f, want 0.90", result.OverallConfidence)
	}
}

func TestNoBoostSameContextStrongForeground(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "org.telegram.desktop"
	h.fg.title = "A – Telegram"
	h.sessions.Start("A", "", 1.0)

	result := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())
	if result.BoostApplied {
		t.Error("boost applied when foreground already agrees with session")
	}
	if result.DetectedContext != "A" {
		t.Errorf("context = %q, want A", result.DetectedContext)
	}
	if !result.HasConsensus() {
		t.Error("agreeing session and foreground did not count as consensus")
	}
}

// ── confidence ───────────────────────────────────────────────────────────

func TestConsensusBonus(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "org.telegram.desktop"
	h.fg.title = "A – Telegram"
	h.sessions.Start("A", "", 1.0)

	agree := h.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())

	h2 := newHarness(t)
	h2.fg.proc = "org.telegram.desktop"
	h2.fg.title = "A – Telegram"

	alone := h2.engine.DetectWithDetails(context.Background(), "file.pdf", time.Now())

	if agree.OverallConfidence <= alone.OverallConfidence {
		t.Errorf("consensus confidence %.3f not above single-signal %.3f",
			agree.OverallConfidence, alone.OverallConfidence)
	}
}

func TestVoteTieBreaksLexicographically(t *testing.T) {
	signals := []signal.Signal{
		{Source: signal.SourceForeground, DetectedContext: "Zulu", Weight: 1, OriginalWeight: 1, Confidence: 0.5},
		{Source: signal.SourceBackground, DetectedContext: "Alpha", Weight: 1, OriginalWeight: 1, Confidence: 0.5},
	}
	winner, score, _ := vote(signals)
	if winner != "Alpha" {
		t.Errorf("tie winner = %q, want Alpha", winner)
	}
	if score != 0.5 {
		t.Errorf("winning score = %f, want 0.5", score)
	}
}

// ── pattern signal ───────────────────────────────────────────────────────

func TestPatternSignalFromStore(t *testing.T) {
	h := newHarness(t)
	h.patterns.pattern = &providers.Pattern{
		Extension: ".pdf", GroupName: "Tech News",
		ConfidenceScore: 0.6, TimesSeen: 10, TimesCorrect: 8,
	}

	result := h.engine.DetectWithDetails(context.Background(), "paper.pdf", time.Now())
	if result.DetectedContext != "Tech News" {
		t.Errorf("context = %q, want Tech News", result.DetectedContext)
	}
	// accuracy 0.8 + observation bonus 0.1
	sig := result.Signals[0]
	if sig.Confidence < 0.89 || sig.Confidence > 0.91 {
		t.Errorf("pattern confidence = %.3f, want 0.9", sig.Confidence)
	}
}

func TestPatternStoreFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.patterns.err = context.DeadlineExceeded

	result := h.engine.DetectWithDetails(context.Background(), "paper.pdf", time.Now())
	if result.DetectedContext != signal.Unsorted {
		t.Errorf("context = %q, want Unsorted when the only source fails", result.DetectedContext)
	}
}

// ── feedback ─────────────────────────────────────────────────────────────

func TestRecordFeedback(t *testing.T) {
	h := newHarness(t)

	h.engine.RecordFeedback(context.Background(), "paper.pdf", "Tech News", "", true)
	h.engine.RecordFeedback(context.Background(), "pic.jpg", "Tech News", "Vacation Pics", false)

	h.patterns.mu.Lock()
	defer h.patterns.mu.Unlock()
	if len(h.patterns.saved) != 2 {
		t.Fatalf("saved patterns = %d, want 2", len(h.patterns.saved))
	}
	first := h.patterns.saved[0]
	if first.Extension != ".pdf" || first.GroupName != "Tech News" || first.ConfidenceScore != 0.6 {
		t.Errorf("correct feedback pattern = %+v", first)
	}
	second := h.patterns.saved[1]
	if second.GroupName != "Vacation Pics" || second.ConfidenceScore != 0.4 || second.TimesCorrect != 0 {
		t.Errorf("incorrect feedback pattern = %+v", second)
	}
}

// ── configuration & stats ────────────────────────────────────────────────

func TestSetSourceWeightRejectsOutOfRange(t *testing.T) {
	h := newHarness(t)

	prior := h.engine.SourceWeight(signal.SourceForeground)
	h.engine.SetSourceWeight(signal.SourceForeground, -1)
	if got := h.engine.SourceWeight(signal.SourceForeground); got != prior {
		t.Errorf("weight after rejected set = %f, want prior %f", got, prior)
	}

	h.engine.SetSourceWeight(signal.SourceForeground, 2.5)
	if got := h.engine.SourceWeight(signal.SourceForeground); got != 2.5 {
		t.Errorf("weight after valid set = %f, want 2.5", got)
	}
}

func TestStatsAccumulate(t *testing.T) {
	h := newHarness(t)
	h.fg.proc = "com.apple.TextEdit"
	h.sessions.Start("A", "", 1.0)

	ctx := context.Background()
	now := time.Now()
	h.engine.Detect(ctx, "a.pdf", now)
	h.engine.Detect(ctx, "b.pdf", now)

	stats := h.engine.Stats()
	if stats.TotalDetections != 2 {
		t.Errorf("total detections = %d, want 2", stats.TotalDetections)
	}
	if stats.SessionBoostCount != 2 {
		t.Errorf("boost count = %d, want 2", stats.SessionBoostCount)
	}
	if h.engine.LastResult() == nil {
		t.Error("last result missing after detections")
	}
}
