// Package classifier implements the second analysis stage: a binary
// phishing classifier over the email text, plus the adapter that turns
// raw model output into a pipeline decision.
package classifier

import (
	"context"
	"fmt"
)

// Canonical labels. Backends map their model-specific vocabulary onto
// these before returning.
const (
	LabelBenign    = "benign"
	LabelMalicious = "malicious"
)

// Result is a single classification.
type Result struct {
	Label         string             `json:"label"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	ModelVersion  string             `json:"model_version"`
	Fallback      bool               `json:"fallback_mode,omitempty"`
	Indicators    []string           `json:"indicators,omitempty"`
}

// Classifier scores prepared email text. Implementations are safe for
// concurrent use.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
	IsReady() bool
	Close() error
}

// maxTextLength approximates the transformer's 512-token input window.
const maxTextLength = 2000

// PrepareText renders an email into the classifier input format, the
// same layout the model saw during training.
func PrepareText(sender, subject, body string) string {
	text := fmt.Sprintf("Subject: %s\nFrom: %s\n\n%s", subject, sender, body)
	if len(text) > maxTextLength {
		text = text[:maxTextLength] + "..."
	}
	return text
}
