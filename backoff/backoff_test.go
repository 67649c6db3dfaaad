package backoff_test

import (
	"testing"
	"time"

	"github.com/ngandimoun/voicejobs/backoff"
)

func TestSchedule_FollowsSteps(t *testing.T) {
	s := backoff.NewSchedule(1*time.Second, 5*time.Second, 15*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 5 * time.Second},
		{3, 15 * time.Second},
	}
	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSchedule_ClampsPastLastEntry(t *testing.T) {
	s := backoff.NewSchedule(1*time.Second, 5*time.Second)

	if got := s.Delay(3); got != 5*time.Second {
		t.Errorf("Delay(3) = %v, want %v (clamped)", got, 5*time.Second)
	}
	if got := s.Delay(10); got != 5*time.Second {
		t.Errorf("Delay(10) = %v, want %v (clamped)", got, 5*time.Second)
	}
}

func TestSchedule_EmptyAndInvalidAttempts(t *testing.T) {
	if got := backoff.NewSchedule().Delay(1); got != 0 {
		t.Errorf("empty schedule Delay(1) = %v, want 0", got)
	}
	s := backoff.NewSchedule(time.Second)
	if got := s.Delay(0); got != 0 {
		t.Errorf("Delay(0) = %v, want 0", got)
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestDefault_MatchesDocumentedSchedule(t *testing.T) {
	d := backoff.Default()
	want := []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second}
	for i, w := range want {
		if got := d.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
