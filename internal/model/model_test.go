package model

import (
	"testing"
	"time"
)

func TestWindowOpen(t *testing.T) {
	cases := []struct {
		name  string
		start DayTime
		end   DayTime
		at    time.Time
		want  bool
	}{
		{"inside same-day window", DayTime{Hour: 9}, DayTime{Hour: 17},
			time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), true},
		{"before same-day window", DayTime{Hour: 9}, DayTime{Hour: 17},
			time.Date(2026, 8, 23, 8, 59, 59, 0, time.UTC), false},
		{"at window start", DayTime{Hour: 9}, DayTime{Hour: 17},
			time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC), true},
		{"at window end", DayTime{Hour: 9}, DayTime{Hour: 17},
			time.Date(2026, 8, 23, 17, 0, 0, 0, time.UTC), false},
		{"wrapping window, before midnight", DayTime{Hour: 22}, DayTime{Hour: 2},
			time.Date(2026, 8, 23, 23, 0, 0, 0, time.UTC), true},
		{"wrapping window, after midnight", DayTime{Hour: 22}, DayTime{Hour: 2},
			time.Date(2026, 8, 23, 1, 0, 0, 0, time.UTC), true},
		{"wrapping window, midday", DayTime{Hour: 22}, DayTime{Hour: 2},
			time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			org := &Organization{WindowStart: tc.start, WindowEnd: tc.end}
			if got := org.WindowOpen(tc.at); got != tc.want {
				t.Errorf("WindowOpen(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestParseDayTime(t *testing.T) {
	d, err := ParseDayTime("09:30:15")
	if err != nil {
		t.Fatalf("ParseDayTime() error: %v", err)
	}
	if d.Hour != 9 || d.Minute != 30 || d.Second != 15 {
		t.Errorf("got %+v", d)
	}
	if d.String() != "09:30:15" {
		t.Errorf("String() = %q", d.String())
	}

	if _, err := ParseDayTime("25:00:00"); err == nil {
		t.Error("expected error for out-of-range hour")
	}
	if _, err := ParseDayTime("garbage"); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestScopeChannel(t *testing.T) {
	if got := ServiceScope.Channel(); got != "service" {
		t.Errorf("service channel = %q", got)
	}
	if got := Scope("org-1").Channel(); got != "org-1" {
		t.Errorf("org channel = %q", got)
	}

	orgID := "org-1"
	if ScopeOf(&orgID) != Scope("org-1") {
		t.Error("ScopeOf(org) should be the org scope")
	}
	if ScopeOf(nil) != ServiceScope {
		t.Error("ScopeOf(nil) should be the service scope")
	}
}

func TestChatPeer(t *testing.T) {
	chat := &Chat{Participant1: "alice", Participant2: "bob"}

	if !chat.IsParticipant("alice") || !chat.IsParticipant("bob") {
		t.Error("both participants should be recognized")
	}
	if chat.IsParticipant("carol") {
		t.Error("carol is not a participant")
	}
	if chat.Peer("alice") != "bob" || chat.Peer("bob") != "alice" {
		t.Error("Peer should return the other participant")
	}
	if chat.Peer("carol") != "" {
		t.Error("Peer of a non-participant should be empty")
	}
}
