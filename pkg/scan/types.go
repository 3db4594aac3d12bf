// Package scan defines the verdict taxonomy and result records shared by
// every analysis stage of the Warden pipeline.
package scan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Verdict is the pipeline's categorical output for an email.
type Verdict string

const (
	VerdictClean      Verdict = "clean"
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictThreat     Verdict = "threat"
	VerdictError      Verdict = "error"
)

// ThreatLevel grades the severity attached to a verdict.
type ThreatLevel string

const (
	ThreatLow     ThreatLevel = "low"
	ThreatMedium  ThreatLevel = "medium"
	ThreatHigh    ThreatLevel = "high"
	ThreatUnknown ThreatLevel = "unknown"
)

// Status is the per-stage outcome. Stage 1 reports clean/threat, Stage 2
// benign/suspicious, Stage 3 the final verdict vocabulary.
type Status string

const (
	StatusClean      Status = "clean"
	StatusThreat     Status = "threat"
	StatusSuspicious Status = "suspicious"
	StatusBenign     Status = "benign"
	StatusSafe       Status = "safe"
	StatusError      Status = "error"
)

// StageResult is the output of one pipeline stage.
type StageResult struct {
	Stage          int           `json:"layer"`
	Status         Status        `json:"status"`
	Confidence     float64       `json:"confidence"`
	Indicators     []string      `json:"threat_indicators,omitempty"`
	ProcessingTime time.Duration `json:"-"`
	Cached         bool          `json:"cached,omitempty"`
	Error          string        `json:"error,omitempty"`

	// ProcessingSeconds mirrors ProcessingTime for the JSON surface.
	ProcessingSeconds float64 `json:"processing_time"`
}

// Finish stamps the duration fields from a stage start time.
func (r *StageResult) Finish(start time.Time) {
	r.ProcessingTime = time.Since(start)
	r.ProcessingSeconds = r.ProcessingTime.Seconds()
}

// Stage2Result carries the classifier adapter's extra decision context.
type Stage2Result struct {
	StageResult
	Label          string  `json:"predicted_label"`
	RawConfidence  float64 `json:"raw_confidence"`
	ManualOverride bool    `json:"manual_override"`
	OverrideReason string  `json:"override_reason,omitempty"`
	ModelVersion   string  `json:"model_version,omitempty"`
	FallbackMode   bool    `json:"fallback_mode,omitempty"`
}

// Stage3Result carries the contextual detective's full assessment.
type Stage3Result struct {
	StageResult
	Verdict           Verdict     `json:"verdict"`
	ThreatLevel       ThreatLevel `json:"threat_level"`
	SocialScore       int         `json:"social_engineering_score"`
	Tactics           []string    `json:"tactics_identified,omitempty"`
	ImpersonationRisk string      `json:"impersonation_risk"`
	PersonalRelevance string      `json:"personal_context"`
	TotalScore        int         `json:"total_score"`
	DetailedAnalysis  string      `json:"detailed_analysis,omitempty"`
	RecommendedAction string      `json:"recommended_action,omitempty"`
}

// Record is the immutable result of one scan request. The orchestrator
// creates it, fills it stage by stage, finalizes it once, and persists it
// exactly once.
type Record struct {
	ScanID      string                  `json:"scan_id"`
	Timestamp   time.Time               `json:"timestamp"`
	UserID      string                  `json:"user_id"`
	Sender      string                  `json:"email_sender"`
	Subject     string                  `json:"email_subject"`
	Stages      map[string]*StageResult `json:"layers"`
	Stage2      *Stage2Result           `json:"-"`
	Stage3      *Stage3Result           `json:"-"`
	Verdict     Verdict                 `json:"final_verdict"`
	ThreatLevel ThreatLevel             `json:"threat_level"`
	Confidence  float64                 `json:"confidence_score"`
	Elapsed     float64                 `json:"processing_time"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// NewScanID builds a scan identifier from the timestamp and user id. A short
// uuid suffix keeps ids unique when concurrent scans land in the same second.
func NewScanID(ts time.Time, userID string) string {
	return fmt.Sprintf("scan_%s_%s_%s", ts.UTC().Format("20060102_150405"), userID, uuid.NewString()[:8])
}
