package store

import (
	"context"
	"testing"
	"time"

	"github.com/sortinel/sortinel/internal/providers"
	"github.com/sortinel/sortinel/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBestPatternEmpty(t *testing.T) {
	s := openTestStore(t)
	p, err := s.BestPattern(context.Background(), "a.pdf", ".pdf", time.Now())
	if err != nil {
		t.Fatalf("BestPattern: %v", err)
	}
	if p != nil {
		t.Errorf("expected no pattern, got %+v", p)
	}
}

func TestSaveAndBestPattern(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []*providers.Pattern{
		{Extension: ".pdf", GroupName: "Tech News", HourOfDay: -1, DayOfWeek: -1,
			ConfidenceScore: 0.6, TimesSeen: 1, TimesCorrect: 1},
		{Extension: ".pdf", GroupName: "CS50 Study Group", HourOfDay: -1, DayOfWeek: -1,
			ConfidenceScore: 0.4, TimesSeen: 1, TimesCorrect: 0},
		{Extension: ".jpg", GroupName: "Vacation Pics", HourOfDay: -1, DayOfWeek: -1,
			ConfidenceScore: 0.6, TimesSeen: 1, TimesCorrect: 1},
	}
	for _, p := range seed {
		if err := s.SavePattern(ctx, p); err != nil {
			t.Fatalf("SavePattern: %v", err)
		}
	}

	best, err := s.BestPattern(ctx, "report.pdf", ".pdf", time.Now())
	if err != nil {
		t.Fatalf("BestPattern: %v", err)
	}
	if best == nil || best.GroupName != "Tech News" {
		t.Errorf("best .pdf pattern = %+v, want Tech News", best)
	}
}

func TestSavePatternAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &providers.Pattern{Extension: ".zip", GroupName: "Tech News",
		HourOfDay: -1, DayOfWeek: -1, ConfidenceScore: 0.6, TimesSeen: 1, TimesCorrect: 1}
	for i := 0; i < 3; i++ {
		if err := s.SavePattern(ctx, p); err != nil {
			t.Fatalf("SavePattern: %v", err)
		}
	}
	miss := &providers.Pattern{Extension: ".zip", GroupName: "Tech News",
		HourOfDay: -1, DayOfWeek: -1, ConfidenceScore: 0.4, TimesSeen: 1, TimesCorrect: 0}
	if err := s.SavePattern(ctx, miss); err != nil {
		t.Fatalf("SavePattern: %v", err)
	}

	best, err := s.BestPattern(ctx, "a.zip", ".zip", time.Now())
	if err != nil {
		t.Fatalf("BestPattern: %v", err)
	}
	if best.TimesSeen != 4 || best.TimesCorrect != 3 {
		t.Errorf("counters = %d/%d, want 3 correct of 4", best.TimesCorrect, best.TimesSeen)
	}
	if acc := best.Accuracy(); acc < 0.74 || acc > 0.76 {
		t.Errorf("accuracy = %.3f, want 0.75", acc)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := &session.Session{
		ID:              "s1",
		GroupName:       "Tech News",
		StartTime:       time.Now().Add(-time.Minute),
		LastActivity:    time.Now(),
		Timeout:         2 * time.Minute,
		ConfidenceScore: 0.9,
		FileCount:       3,
		IsActive:        true,
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// Update in place.
	sess.FileCount = 5
	sess.IsActive = false
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession update: %v", err)
	}

	got, err := s.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("sessions = %d, want 1", len(got))
	}
	if got[0].FileCount != 5 || got[0].IsActive {
		t.Errorf("session = %+v, want updated inactive with 5 files", got[0])
	}
	if got[0].Timeout != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", got[0].Timeout)
	}
}

func TestSessionStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, fc := range []int{2, 4} {
		sess := &session.Session{
			ID:           string(rune('a' + i)),
			GroupName:    "G",
			StartTime:    time.Now(),
			LastActivity: time.Now(),
			Timeout:      time.Minute,
			FileCount:    fc,
		}
		if err := s.SaveSession(ctx, sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	stats, err := s.SessionStats(ctx)
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.TotalSessions != 2 || stats.TotalFiles != 6 || stats.AvgFileCount != 3 {
		t.Errorf("stats = %+v", stats)
	}
}
