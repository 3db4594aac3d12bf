package classifier

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/scan"
)

const (
	// defaultEscalation: malicious below it is treated as benign,
	// benign below the short-circuit threshold escalates.
	defaultEscalation         = 0.5
	defaultBenignShortCircuit = 0.8
	overrideConfidence        = 0.95
	maxOverrideReasonTerms    = 3
)

// Thresholds are the Stage 2 decision points. Operators tune them
// through WARDEN_BENIGN_THRESHOLD and WARDEN_ESCALATION_THRESHOLD.
type Thresholds struct {
	BenignShortCircuit float64 // benign above this confidence stops the pipeline
	Escalation         float64 // below this confidence Stage 2 always escalates
}

// DefaultThresholds returns the stock decision points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BenignShortCircuit: defaultBenignShortCircuit,
		Escalation:         defaultEscalation,
	}
}

type overridePattern struct {
	regex       *regexp.Regexp
	description string
}

func mustOverride(pattern, description string) overridePattern {
	return overridePattern{regexp.MustCompile(`(?i)` + pattern), description}
}

// overridePatterns always force a malicious classification regardless of
// what the model says. These cover requests no legitimate sender makes
// by email.
var overridePatterns = []overridePattern{
	mustOverride(`\bssn\b|\bsocial security number\b|\bsocial security\b`, "Requests SSN/Social Security Number"),
	mustOverride(`\btax id\b|\btaxpayer id\b|\btax identification\b`, "Requests Tax ID"),
	mustOverride(`\bbank account number\b|\baccount number\b|\brouting number\b`, "Requests banking information"),
	mustOverride(`\bcredit card number\b|\bdebit card\b|\bcard number\b`, "Requests credit card information"),
	mustOverride(`\bpin number\b|\bpin code\b|\baccess code\b`, "Requests PIN/access codes"),
	mustOverride(`\bpassword\b.*\bconfirm\b|\bverify.*password\b`, "Requests password verification"),
	mustOverride(`\burgent.*medical\b|\bmedical.*urgent\b|\bhealth emergency\b`, "Urgent medical/health claims"),
	mustOverride(`\bincome verification\b|\bverify.*income\b|\bw-2.*required\b`, "Income verification requests"),
	mustOverride(`\btax.*verification\b|\birs.*verification\b|\btax.*compliance\b`, "Tax verification requests"),
	mustOverride(`\bbenefit.*suspension\b|\bsuspend.*benefit\b|\bbenefits.*terminated\b`, "Benefit suspension threats"),
	mustOverride(`\binternal revenue service\b|\birs\.gov\b|\birs\s+agent\b`, "IRS impersonation"),
	mustOverride(`\bsocial security administration\b|\bssa\.gov\b|\bssa\s+office\b`, "SSA impersonation"),
	mustOverride(`\bmedicare\.gov\b|\bmedicare\s+office\b|\bmedicare\s+admin\b`, "Medicare impersonation"),
	mustOverride(`\bbank of america\b|\bchase bank\b|\bwells fargo\b.*\bofficial\b`, "Bank impersonation"),
	mustOverride(`\b24 hours?\b.*\bpersonal\b|\bimmediate.*verification\b`, "Urgent personal info requests"),
	mustOverride(`\baccount.*suspended\b.*\bverify\b|\bsuspended.*account\b.*\bconfirm\b`, "Account suspension + verification"),
	mustOverride(`\bidentity.*verification\b|\bverify.*identity\b.*\burgent\b`, "Identity verification under pressure"),
}

var (
	clickVerifyRegex    = regexp.MustCompile(`(?i)\bclick here\b.*\bverify\b`)
	accountThreatRegex  = regexp.MustCompile(`(?i)\bsuspended\b|\blocked\b|\bexpir`)
	govTopicRegex       = regexp.MustCompile(`(?i)irs|social security|medicare`)
	officialGovDomains  = []string{"irs.gov", "ssa.gov", "medicare.gov"}
)

// Adapter wraps a Classifier and applies the pipeline's decision rules:
// manual overrides, status thresholds, and rule-evidence reconciliation.
type Adapter struct {
	classifier Classifier
	thresholds Thresholds
	logger     *zap.Logger
}

// NewAdapter creates the Stage 2 adapter over the given backend.
func NewAdapter(classifier Classifier, thresholds Thresholds, logger *zap.Logger) *Adapter {
	return &Adapter{classifier: classifier, thresholds: thresholds, logger: logger}
}

// ShortCircuits reports whether a Stage 2 result ends the pipeline with
// a safe verdict.
func (a *Adapter) ShortCircuits(r *scan.Stage2Result) bool {
	return r.Status == scan.StatusBenign && r.Confidence > a.thresholds.BenignShortCircuit
}

// Escalates reports whether a Stage 2 result requires contextual
// analysis.
func (a *Adapter) Escalates(r *scan.Stage2Result) bool {
	return r.Status == scan.StatusSuspicious || r.Confidence < a.thresholds.Escalation
}

// Analyze classifies the email and reconciles the result with the
// Stage 1 indicator evidence.
func (a *Adapter) Analyze(ctx context.Context, msg *email.Message, ruleIndicators []string) *scan.Stage2Result {
	start := time.Now()

	text := PrepareText(msg.Sender, msg.Subject, msg.Body)
	override, overrideIndicators := a.checkOverrides(msg)

	res, err := a.classifier.Classify(ctx, text)
	if err != nil {
		a.logger.Error("classification failed", zap.Error(err))
		result := &scan.Stage2Result{
			StageResult: scan.StageResult{
				Stage:  2,
				Status: scan.StatusError,
				Error:  err.Error(),
			},
		}
		result.Finish(start)
		return result
	}

	label := res.Label
	confidence := res.Confidence
	overrideReason := ""
	manualOverride := false

	if override != "" {
		a.logger.Warn("manual phishing override triggered", zap.String("reason", override))
		label = LabelMalicious
		confidence = overrideConfidence
		overrideReason = override
		manualOverride = true
	}

	status := a.determineStatus(label, confidence)
	indicators := append([]string(nil), res.Indicators...)
	indicators = append(indicators, overrideIndicators...)

	// Rule evidence is never silently discarded: a benign model result
	// that contradicts fired rules is downgraded for the orchestrator's
	// threshold check.
	if !manualOverride && len(ruleIndicators) > 0 &&
		label == LabelBenign && confidence <= a.thresholds.BenignShortCircuit {
		status = scan.StatusSuspicious
		manualOverride = true
		overrideReason = "rule indicators present despite benign classification"
	}

	result := &scan.Stage2Result{
		StageResult: scan.StageResult{
			Stage:      2,
			Status:     status,
			Confidence: confidence,
			Indicators: indicators,
		},
		Label:          label,
		RawConfidence:  res.Confidence,
		ManualOverride: manualOverride,
		OverrideReason: overrideReason,
		ModelVersion:   res.ModelVersion,
		FallbackMode:   res.Fallback,
	}
	result.Finish(start)

	a.logger.Info("classification completed",
		zap.String("status", string(status)),
		zap.Float64("confidence", confidence),
		zap.Bool("manual_override", manualOverride))
	return result
}

// determineStatus maps a label/confidence pair onto the stage status.
// Low-confidence malicious is treated as benign; low-confidence benign
// escalates.
func (a *Adapter) determineStatus(label string, confidence float64) scan.Status {
	if label == LabelMalicious {
		if confidence >= a.thresholds.Escalation {
			return scan.StatusSuspicious
		}
		return scan.StatusBenign
	}
	if confidence >= a.thresholds.BenignShortCircuit {
		return scan.StatusBenign
	}
	return scan.StatusSuspicious
}

// checkOverrides scans for patterns that always force a malicious
// classification. Returns the override reason and fired indicators.
func (a *Adapter) checkOverrides(msg *email.Message) (string, []string) {
	combined := strings.ToLower(msg.Subject + " " + msg.Body)
	sender := strings.ToLower(msg.Sender)

	var indicators []string
	for _, p := range overridePatterns {
		if p.regex.MatchString(combined) {
			indicators = append(indicators, p.description)
		}
	}

	if clickVerifyRegex.MatchString(combined) && accountThreatRegex.MatchString(combined) {
		indicators = append(indicators, "Verification link with account threat")
	}

	if govTopicRegex.MatchString(combined) {
		official := false
		for _, domain := range officialGovDomains {
			if strings.Contains(sender, domain) {
				official = true
				break
			}
		}
		if !official {
			indicators = append(indicators, "Government impersonation from unofficial domain")
		}
	}

	if len(indicators) == 0 {
		return "", nil
	}
	reasons := indicators
	if len(reasons) > maxOverrideReasonTerms {
		reasons = reasons[:maxOverrideReasonTerms]
	}
	return "Manual override: " + strings.Join(reasons, ", "), indicators
}
