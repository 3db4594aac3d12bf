package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/scan"
)

// cleanConfidence is reported when no check fires. A clean pass is a
// strong statement, not the absence of one.
const cleanConfidence = 0.95

var freeMailDomains = map[string]struct{}{
	"gmail.com":   {},
	"yahoo.com":   {},
	"hotmail.com": {},
	"outlook.com": {},
	"aol.com":     {},
}

var officialClaimTerms = []string{
	"official", "government", "irs", "federal", "on behalf of your bank",
	"bank security", "treasury",
}

var healthServiceTerms = []string{
	"health benefits", "public health", "health services",
	"medicare", "medicaid", "government benefits",
}

var personalInfoTerms = []string{
	"personal information", "ssn", "social security", "date of birth",
	"password", "account number",
}

// Engine evaluates every registered and composite check against a
// normalized email and produces the Stage 1 result.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

// NewEngine creates a Stage 1 engine over the given registry.
func NewEngine(registry *Registry, logger *zap.Logger) *Engine {
	return &Engine{registry: registry, logger: logger}
}

// Check runs every rule check against the message. Any fired check makes
// the status threat; confidence is the maximum contribution across fired
// checks, never a sum or average.
func (e *Engine) Check(msg *email.Message) *scan.StageResult {
	start := time.Now()

	sender := strings.ToLower(msg.Sender)
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)
	combined := subject + " " + body

	var indicators []string
	maxConfidence := 0.0
	record := func(indicator string, confidence float64) {
		indicators = append(indicators, indicator)
		if confidence > maxConfidence {
			maxConfidence = confidence
		}
	}

	for _, check := range []struct {
		category Category
		text     string
	}{
		{CategoryFinancial, combined},
		{CategorySSN, combined},
		{CategoryPhrase, combined},
		{CategoryDomain, sender},
		{CategorySubject, subject},
		{CategoryBody, body},
	} {
		for _, hit := range e.registry.Match(check.category, check.text) {
			record(hit.Indicator(), hit.Rule.Confidence)
		}
	}

	// URL checks run against extracted links, not raw body text.
	for _, url := range msg.URLs {
		for _, hit := range e.registry.Match(CategoryShortener, strings.ToLower(url)) {
			record(hit.Indicator(), hit.Rule.Confidence)
		}
	}

	domain := senderDomain(sender)
	if sender != "" && !strings.Contains(sender, "@") {
		record("Invalid sender format", 0.9)
	}
	for _, hit := range e.registry.Match(CategoryTLD, domain) {
		record(hit.Indicator(), hit.Rule.Confidence)
	}

	urgencyHits := matchedTerms(combined, e.registry.UrgencyTerms())
	if len(urgencyHits) >= 2 {
		record(fmt.Sprintf("Multiple urgency indicators: %s", strings.Join(urgencyHits, ", ")), 0.8)
	}

	if _, free := freeMailDomains[domain]; free {
		if claims := matchedTerms(combined, officialClaimTerms); len(claims) > 0 {
			record(fmt.Sprintf("Free-mail sender claiming official affiliation: %s", claims[0]), 0.8)
		}
	}

	if hits := matchedTerms(combined, healthServiceTerms); len(hits) > 0 && !isOfficialDomain(domain) {
		record(fmt.Sprintf("Health services impersonation: %s from unofficial domain", hits[0]), 0.85)
	}

	// Deliberately overlaps the multiple-urgency check above. Both feed
	// the same maximum, so evaluating them independently is harmless and
	// keeps each contribution auditable.
	if len(urgencyHits) > 0 {
		if personal := matchedTerms(combined, personalInfoTerms); len(personal) > 0 {
			record(fmt.Sprintf("Urgent request for personal information: %s + %s", urgencyHits[0], personal[0]), 0.9)
		}
	}

	result := &scan.StageResult{
		Stage:      1,
		Status:     scan.StatusClean,
		Confidence: cleanConfidence,
	}
	if len(indicators) > 0 {
		result.Status = scan.StatusThreat
		result.Confidence = maxConfidence
		result.Indicators = indicators
	}
	result.Finish(start)

	if e.logger != nil {
		e.logger.Info("rules check completed",
			zap.String("status", string(result.Status)),
			zap.Float64("confidence", result.Confidence),
			zap.Int("indicators", len(indicators)))
	}
	return result
}

func senderDomain(sender string) string {
	if i := strings.LastIndex(sender, "@"); i >= 0 {
		return sender[i+1:]
	}
	return ""
}

func isOfficialDomain(domain string) bool {
	return strings.HasSuffix(domain, ".gov") || strings.HasSuffix(domain, ".mil")
}

// matchedTerms returns the vocabulary entries present in the text, in a
// stable order.
func matchedTerms(text string, terms []string) []string {
	var matched []string
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}
	sort.Strings(matched)
	return matched
}
