package grading

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The grader LLM answers in a fixed textual protocol:
//
//	SCORE: <points>/<max>
//	FEEDBACK: <free text>
//
// Models wrap the expected tokens in prose often enough that the parser
// scans anywhere in the response rather than anchoring to line starts.
var (
	scoreRegex    = regexp.MustCompile(`(?i)\bSCORE:\s*([0-9]+(?:\.[0-9]+)?)\s*/\s*([0-9]+(?:\.[0-9]+)?)`)
	feedbackRegex = regexp.MustCompile(`(?is)\bFEEDBACK:\s*(.+)`)
)

// ParsedGrade is a successfully parsed SCORE/FEEDBACK response.
type ParsedGrade struct {
	Score    float64
	Max      float64
	Feedback string
}

// ParseScoreFeedback extracts a grade from a raw LLM response. The score
// is clamped into [0, max]. Missing FEEDBACK is not an error; a missing
// or malformed SCORE token is.
func ParseScoreFeedback(raw string) (ParsedGrade, error) {
	m := scoreRegex.FindStringSubmatch(raw)
	if m == nil {
		return ParsedGrade{}, fmt.Errorf("no SCORE token in response")
	}

	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return ParsedGrade{}, fmt.Errorf("parse score %q: %w", m[1], err)
	}
	max, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return ParsedGrade{}, fmt.Errorf("parse max %q: %w", m[2], err)
	}
	if max <= 0 {
		return ParsedGrade{}, fmt.Errorf("non-positive max points %v", max)
	}

	if score < 0 {
		score = 0
	}
	if score > max {
		score = max
	}

	var feedback string
	if fm := feedbackRegex.FindStringSubmatch(raw); fm != nil {
		feedback = strings.TrimSpace(fm[1])
	}

	return ParsedGrade{Score: score, Max: max, Feedback: feedback}, nil
}
