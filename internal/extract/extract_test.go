package extract

import (
	"testing"

	"github.com/sortinel/sortinel/internal/signal"
)

func TestGroupName(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "unread marker and message counter stripped",
			title: "(10) CS50 Study Group – (3043)",
			want:  "CS50 Study Group",
		},
		{
			name:  "application suffix stripped",
			title: "Tech News – Telegram",
			want:  "Tech News",
		},
		{
			name:  "empty title",
			title: "",
			want:  signal.Unsorted,
		},
		{
			name:  "whitespace only",
			title: "   ",
			want:  signal.Unsorted,
		},
		{
			name:  "bare application name",
			title: "Telegram",
			want:  signal.Unsorted,
		},
		{
			name:  "bare application name with counter",
			title: "(3) Telegram",
			want:  signal.Unsorted,
		},
		{
			name:  "emoji decoration removed",
			title: "🚀 Project Launch 🚀",
			want:  "Project Launch",
		},
		{
			name:  "hyphen suffix with ascii dash",
			title: "Design Reviews - Telegram",
			want:  "Design Reviews",
		},
		{
			name:  "non-latin script preserved",
			title: "Новости дня – (12)",
			want:  "Новости дня",
		},
		{
			name:  "plain name untouched",
			title: "Tech News",
			want:  "Tech News",
		},
	}

	e := New("Telegram")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.GroupName(tt.title); got != tt.want {
				t.Errorf("GroupName(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestGroupNameDefaultApp(t *testing.T) {
	e := New("")
	if e.AppName() != "Telegram" {
		t.Errorf("default app name = %q, want Telegram", e.AppName())
	}
}
