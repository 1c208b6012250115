package grading

import (
	"strings"
	"testing"
)

func TestParseScoreFeedback(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantErr      bool
		wantScore    float64
		wantMax      float64
		wantFeedback string
	}{
		{
			name:         "canonical format",
			raw:          "SCORE: 8/10\nFEEDBACK: Solid grasp of the argument.",
			wantScore:    8,
			wantMax:      10,
			wantFeedback: "Solid grasp of the argument.",
		},
		{
			name:         "wrapped in prose",
			raw:          "Sure! Here is my evaluation.\n\nSCORE: 7.5/10\nFEEDBACK: Good, but the objection is never addressed.\nHope that helps.",
			wantScore:    7.5,
			wantMax:      10,
			wantFeedback: "Good, but the objection is never addressed.\nHope that helps.",
		},
		{
			name:         "lowercase tokens",
			raw:          "score: 3/5\nfeedback: Partially correct.",
			wantScore:    3,
			wantMax:      5,
			wantFeedback: "Partially correct.",
		},
		{
			name:         "spaces around slash",
			raw:          "SCORE: 4 / 10\nFEEDBACK: Needs more detail.",
			wantScore:    4,
			wantMax:      10,
			wantFeedback: "Needs more detail.",
		},
		{
			name:      "score above max is clamped",
			raw:       "SCORE: 12/10\nFEEDBACK: Excellent.",
			wantScore: 10,
			wantMax:   10,
		},
		{
			name:      "missing feedback is tolerated",
			raw:       "SCORE: 6/10",
			wantScore: 6,
			wantMax:   10,
		},
		{
			name:    "no score token",
			raw:     "The essay is quite good, maybe an 8 out of 10.",
			wantErr: true,
		},
		{
			name:    "zero max",
			raw:     "SCORE: 0/0\nFEEDBACK: n/a",
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScoreFeedback(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseScoreFeedback(%q) expected error, got %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScoreFeedback(%q) unexpected error: %v", tt.raw, err)
			}
			if got.Score != tt.wantScore {
				t.Errorf("score = %v, want %v", got.Score, tt.wantScore)
			}
			if got.Max != tt.wantMax {
				t.Errorf("max = %v, want %v", got.Max, tt.wantMax)
			}
			if tt.wantFeedback != "" && got.Feedback != tt.wantFeedback {
				t.Errorf("feedback = %q, want %q", got.Feedback, tt.wantFeedback)
			}
		})
	}
}

func TestParseScoreFeedbackNegativeClamped(t *testing.T) {
	got, err := ParseScoreFeedback("SCORE: 0/10\nFEEDBACK: " + strings.Repeat("x", 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Score != 0 {
		t.Errorf("score = %v, want 0", got.Score)
	}
}
