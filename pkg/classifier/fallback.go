package classifier

import (
	"context"
	"fmt"
	"strings"
)

// fallbackPatterns are the signals the keyword fallback counts. The
// fallback is deliberately under-confident so the contextual stage runs
// on nearly everything it sees.
var fallbackPatterns = []string{
	"verify account", "suspended", "click here", "urgent action",
	"confirm identity", "expires soon", "limited time",
}

// FallbackClassifier is a keyword scorer used when no model backend is
// available. A benign result is pinned to exactly the escalation
// threshold so it never short-circuits the pipeline.
type FallbackClassifier struct{}

// NewFallbackClassifier returns the keyword fallback backend.
func NewFallbackClassifier() *FallbackClassifier {
	return &FallbackClassifier{}
}

func (f *FallbackClassifier) Classify(_ context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)

	score := 0
	var detected []string
	for _, pattern := range fallbackPatterns {
		if strings.Contains(lower, pattern) {
			score++
			detected = append(detected, pattern)
		}
	}

	var label string
	var confidence float64
	if score > 2 {
		label = LabelMalicious
		confidence = 0.4 + float64(score)*0.05
		if confidence > 0.7 {
			confidence = 0.7
		}
	} else {
		label = LabelBenign
		confidence = 0.5
	}

	indicators := []string{fmt.Sprintf("Rule-based fallback detection: %d suspicious patterns", score)}
	if len(detected) > 0 {
		indicators = append(indicators, "Detected patterns: "+strings.Join(detected, ", "))
	}

	probabilities := map[string]float64{LabelBenign: confidence, LabelMalicious: 1 - confidence}
	if label == LabelMalicious {
		probabilities = map[string]float64{LabelBenign: 1 - confidence, LabelMalicious: confidence}
	}

	return &Result{
		Label:         label,
		Confidence:    confidence,
		Probabilities: probabilities,
		ModelVersion:  "fallback_rules",
		Fallback:      true,
		Indicators:    indicators,
	}, nil
}

func (f *FallbackClassifier) IsReady() bool { return true }

func (f *FallbackClassifier) Close() error { return nil }
