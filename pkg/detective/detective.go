// Package detective implements the contextual reasoning stage. It layers
// LLM-backed social engineering analysis on top of the user's stored
// context: known contacts, prior conversation history with the sender,
// and uploaded reference documents. When no reasoning provider is
// configured, or the call fails, a local keyword scorer stands in.
package detective

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/llm"
	"github.com/SafeInboxAI/warden/pkg/ragdocs"
	"github.com/SafeInboxAI/warden/pkg/scan"
	"github.com/SafeInboxAI/warden/pkg/sessions"
	"github.com/SafeInboxAI/warden/pkg/store"
)

const (
	defaultSocialScore = 50
	maxSocialScore     = 100
	tacticWeight       = 15

	impersonationHighBonus   = 30
	impersonationMediumBonus = 15
	conversationWeight       = 10

	// Total-score thresholds for the final verdict.
	threatScore        = 80
	suspiciousScore    = 60
	lowSuspiciousScore = 40

	historyLimit    = 20
	toneWindow      = 3
	maxDocSnippets  = 3
	maxPromptChars  = 8000
	relevanceHigh   = 60
	relevanceMedium = 30
)

// Risk levels reported by impersonation detection.
const (
	riskLow    = "low"
	riskMedium = "medium"
	riskHigh   = "high"
)

var numberRegex = regexp.MustCompile(`\d+`)

// authorityKeywords flag brand names appearing in a sender address whose
// domain does not actually belong to the brand.
var authorityKeywords = []string{"bank", "paypal", "amazon", "microsoft", "google", "apple"}

// socialTactics drives the keyword fallback. One hit per category.
var socialTactics = []struct {
	name     string
	keywords []string
}{
	{"urgency", []string{"urgent", "immediate", "expires", "deadline", "asap"}},
	{"authority", []string{"bank", "security", "admin", "manager", "government"}},
	{"fear", []string{"suspended", "locked", "blocked", "terminated", "fraud"}},
	{"reward", []string{"winner", "prize", "reward", "bonus", "gift"}},
	{"curiosity", []string{"confidential", "secret", "exclusive", "private"}},
}

// Detective runs the contextual analysis stage.
type Detective struct {
	llm      *llm.Client
	store    store.Store
	sessions sessions.Tracker
	docs     *ragdocs.Index
	logger   *zap.Logger
}

// New builds a Detective. client may be nil (keyword fallback only) and
// docs may be nil (no document retrieval).
func New(client *llm.Client, st store.Store, tracker sessions.Tracker, docs *ragdocs.Index, logger *zap.Logger) *Detective {
	return &Detective{
		llm:      client,
		store:    st,
		sessions: tracker,
		docs:     docs,
		logger:   logger,
	}
}

type socialAnalysis struct {
	Score    int
	Tactics  []string
	Analysis string
}

type impersonationAnalysis struct {
	Risk       string
	Indicators []string
}

type conversationAnalysis struct {
	Indicators []string
	History    int
}

// Analyze performs the full contextual assessment of an email already
// escalated past the classifier stage. It never returns nil; analysis
// failures degrade to the keyword fallback rather than aborting.
func (d *Detective) Analyze(ctx context.Context, msg *email.Message, stage2 *scan.Stage2Result) *scan.Stage3Result {
	start := time.Now()

	profile, err := d.store.GetUserProfile(ctx, msg.UserID)
	if err != nil {
		d.logger.Warn("user profile unavailable for contextual analysis",
			zap.String("user_id", msg.UserID), zap.Error(err))
		profile = nil
	}

	se := d.analyzeSocialEngineering(ctx, msg, profile, stage2)
	imp := d.detectImpersonation(msg, profile)
	conv := d.analyzeConversation(ctx, msg)

	result := assess(se, imp, conv)

	if result.Verdict == scan.VerdictThreat || result.Verdict == scan.VerdictSuspicious {
		d.flagSender(ctx, msg, result)
	}
	d.recordConversation(ctx, msg)

	result.Finish(start)
	d.logger.Info("contextual analysis complete",
		zap.String("user_id", msg.UserID),
		zap.String("verdict", string(result.Verdict)),
		zap.Int("se_score", result.SocialScore),
		zap.Int("total_score", result.TotalScore))
	return result
}

// assess combines the three analyses into the final weighted verdict.
func assess(se socialAnalysis, imp impersonationAnalysis, conv conversationAnalysis) *scan.Stage3Result {
	total := se.Score
	switch imp.Risk {
	case riskHigh:
		total += impersonationHighBonus
	case riskMedium:
		total += impersonationMediumBonus
	}
	total += len(conv.Indicators) * conversationWeight

	result := &scan.Stage3Result{
		StageResult:       scan.StageResult{Stage: 3},
		SocialScore:       se.Score,
		Tactics:           se.Tactics,
		ImpersonationRisk: imp.Risk,
		TotalScore:        total,
	}

	switch {
	case total >= threatScore:
		result.Verdict = scan.VerdictThreat
		result.ThreatLevel = scan.ThreatHigh
		result.Confidence = 0.9
	case total >= suspiciousScore:
		result.Verdict = scan.VerdictSuspicious
		result.ThreatLevel = scan.ThreatMedium
		result.Confidence = 0.75
	case total >= lowSuspiciousScore:
		result.Verdict = scan.VerdictSuspicious
		result.ThreatLevel = scan.ThreatLow
		result.Confidence = 0.6
	default:
		result.Verdict = scan.VerdictSafe
		result.ThreatLevel = scan.ThreatLow
		result.Confidence = 0.8
	}
	result.Status = scan.Status(result.Verdict)

	var parts []string
	if len(se.Tactics) > 0 {
		parts = append(parts, "Social engineering tactics detected: "+strings.Join(se.Tactics, ", "))
	}
	if len(imp.Indicators) > 0 {
		parts = append(parts, "Impersonation risks: "+strings.Join(imp.Indicators, ", "))
	}
	if len(conv.Indicators) > 0 {
		parts = append(parts, "Conversation anomalies: "+strings.Join(conv.Indicators, ", "))
	}
	if len(parts) > 0 {
		result.DetailedAnalysis = strings.Join(parts, ". ")
	} else {
		result.DetailedAnalysis = "No significant threats detected."
	}

	switch result.Verdict {
	case scan.VerdictThreat:
		result.RecommendedAction = "DO NOT INTERACT with this email. Delete immediately and report as phishing."
	case scan.VerdictSuspicious:
		result.RecommendedAction = "Exercise extreme caution. Verify sender through alternative communication channel before taking any action."
	default:
		result.RecommendedAction = "Email appears legitimate, but always verify requests for sensitive information."
	}

	switch {
	case total > relevanceHigh:
		result.PersonalRelevance = "high"
	case total > relevanceMedium:
		result.PersonalRelevance = "medium"
	default:
		result.PersonalRelevance = "low"
	}

	result.Indicators = append(append([]string{}, imp.Indicators...), conv.Indicators...)
	return result
}

// analyzeSocialEngineering asks the reasoning provider to score the
// email, falling back to keyword scoring when no provider is configured
// or the call fails.
func (d *Detective) analyzeSocialEngineering(ctx context.Context, msg *email.Message, profile *store.UserProfile, stage2 *scan.Stage2Result) socialAnalysis {
	if d.llm == nil {
		return fallbackSocial(msg)
	}
	prompt := d.buildPrompt(ctx, msg, profile, stage2)
	response, err := d.llm.Generate(ctx, prompt)
	if err != nil {
		d.logger.Warn("reasoning call failed, using keyword fallback", zap.Error(err))
		return fallbackSocial(msg)
	}
	return parseAnalysis(response)
}

// buildPrompt assembles the analysis prompt from the email, the user's
// stored context, prior stage output, and any relevant document snippets.
func (d *Detective) buildPrompt(ctx context.Context, msg *email.Message, profile *store.UserProfile, stage2 *scan.Stage2Result) string {
	userContext := "{}"
	if profile != nil {
		if data, err := json.MarshalIndent(profile, "", "  "); err == nil {
			userContext = string(data)
		}
	}
	stageContext := "{}"
	if stage2 != nil {
		if data, err := json.MarshalIndent(stage2, "", "  "); err == nil {
			stageContext = string(data)
		}
	}

	var docContext strings.Builder
	if d.docs != nil {
		snippets, err := d.docs.Retrieve(ctx, msg.UserID, msg.Subject+" "+msg.Body, maxDocSnippets)
		if err != nil {
			d.logger.Debug("document retrieval failed", zap.Error(err))
		}
		for _, s := range snippets {
			docContext.WriteString("- ")
			docContext.WriteString(s.Content)
			docContext.WriteString("\n")
		}
	}

	prompt := fmt.Sprintf(`You are an expert cybersecurity detective specializing in social engineering and phishing detection.

Analyze this email for social engineering tactics and potential threats:

EMAIL DATA:
Subject: %s
From: %s
Body: %s

USER CONTEXT:
%s

USER DOCUMENTS:
%s
PREVIOUS SCAN RESULTS:
Layer 1: Clean - no known spam signatures
Layer 2: %s

Please analyze this email and provide:

1. **Social Engineering Score** (0-100): Rate the likelihood this is a social engineering attack
2. **Tactics Identified**: List specific social engineering tactics used
3. **Personal Context Relevance**: How the attack relates to the user's profile
4. **Threat Assessment**: Detailed explanation of the threat
5. **Recommended Action**: What the user should do

Be thorough but concise. Focus on patterns that indicate deception, manipulation, or impersonation.`,
		msg.Subject, msg.Sender, msg.Body, userContext, docContext.String(), stageContext)

	if len(prompt) > maxPromptChars {
		prompt = prompt[:maxPromptChars]
	}
	return prompt
}

// parseAnalysis extracts a score and tactics list from free-form
// reasoning output. Unparseable responses score the neutral default.
func parseAnalysis(response string) socialAnalysis {
	out := socialAnalysis{Score: defaultSocialScore, Analysis: response}
	lines := strings.Split(response, "\n")

	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), "score") {
			continue
		}
		if match := numberRegex.FindString(line); match != "" {
			score := 0
			fmt.Sscanf(match, "%d", &score)
			if score > maxSocialScore {
				score = maxSocialScore
			}
			out.Score = score
			break
		}
	}

	inTactics := false
	for _, line := range lines {
		if strings.Contains(strings.ToLower(line), "tactics") {
			inTactics = true
			continue
		}
		if !inTactics || strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
			tactic := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
			if tactic != "" {
				out.Tactics = append(out.Tactics, tactic)
			}
		} else if !strings.HasPrefix(line, " ") {
			inTactics = false
		}
	}
	return out
}

// fallbackSocial scores the email by tactic-category keywords. Each
// category contributes at most once.
func fallbackSocial(msg *email.Message) socialAnalysis {
	subject := strings.ToLower(msg.Subject)
	body := strings.ToLower(msg.Body)

	var tactics []string
	score := 0
	for _, tactic := range socialTactics {
		for _, keyword := range tactic.keywords {
			if strings.Contains(subject, keyword) || strings.Contains(body, keyword) {
				tactics = append(tactics, tactic.name)
				score += tacticWeight
				break
			}
		}
	}
	if score > maxSocialScore {
		score = maxSocialScore
	}
	return socialAnalysis{
		Score:    score,
		Tactics:  tactics,
		Analysis: fmt.Sprintf("Rule-based analysis detected %d social engineering tactics", len(tactics)),
	}
}

// detectImpersonation checks the sender against the user's known
// contacts and common authority brands.
func (d *Detective) detectImpersonation(msg *email.Message, profile *store.UserProfile) impersonationAnalysis {
	sender := strings.ToLower(msg.Sender)
	body := strings.ToLower(msg.Body)
	out := impersonationAnalysis{Risk: riskLow}

	if profile != nil {
		for _, contact := range profile.Contacts {
			name := strings.ToLower(contact.Name)
			addr := strings.ToLower(contact.Email)
			if name == "" || addr == "" {
				continue
			}
			// Known name in the body from an address that is not the
			// contact's is the classic compromised-identity pattern.
			if strings.Contains(body, name) && !strings.Contains(sender, addr) {
				out.Indicators = append(out.Indicators,
					fmt.Sprintf("Name '%s' mentioned but email doesn't match known contact", name))
				out.Risk = riskHigh
			}
		}
	}

	domain := sender
	if at := strings.LastIndex(sender, "@"); at >= 0 {
		domain = sender[at+1:]
	}
	for _, keyword := range authorityKeywords {
		if strings.Contains(sender, keyword) && !strings.Contains(domain, keyword) {
			out.Indicators = append(out.Indicators,
				fmt.Sprintf("Potential %s impersonation - sender doesn't match official domain", keyword))
			if out.Risk == riskLow {
				out.Risk = riskMedium
			}
		}
	}
	return out
}

// analyzeConversation inspects reply markers and prior history with the
// sender, including a tone-shift check once enough history exists.
func (d *Detective) analyzeConversation(ctx context.Context, msg *email.Message) conversationAnalysis {
	var out conversationAnalysis

	if store.IsReply(msg.Subject) {
		out.Indicators = append(out.Indicators, "Reply or forward pattern detected")
	}

	history, err := d.store.ConversationHistory(ctx, msg.UserID, msg.Sender, historyLimit)
	if err != nil {
		d.logger.Warn("conversation history unavailable", zap.Error(err))
		history = nil
	}
	out.History = len(history)

	if len(history) > 0 {
		out.Indicators = append(out.Indicators,
			fmt.Sprintf("Found %d previous emails from sender", len(history)))
		if len(history) >= toneWindow {
			// History is newest first; compare this email's tone to the
			// mode of the most recent entries.
			if DetectTone(msg.Body) != historicalTone(history[:toneWindow]) {
				out.Indicators = append(out.Indicators, "Tone shift detected - possible account compromise")
			}
		}
	}
	return out
}

// flagSender records the suspect and opens a monitoring window. Failures
// are logged; the verdict already stands.
func (d *Detective) flagSender(ctx context.Context, msg *email.Message, result *scan.Stage3Result) {
	suspect := &store.Suspect{
		SenderEmail: strings.ToLower(msg.Sender),
		Tactics:     result.Tactics,
		ThreatLevel: result.ThreatLevel,
	}
	if _, err := d.store.UpsertSuspect(ctx, suspect); err != nil {
		d.logger.Warn("suspect upsert failed", zap.String("sender", suspect.SenderEmail), zap.Error(err))
	}
	if err := d.sessions.Start(ctx, msg.UserID, msg.Sender); err != nil {
		d.logger.Warn("conversation monitoring start failed", zap.Error(err))
	}
}

// recordConversation appends this email to the user/sender thread so
// future scans see it as history.
func (d *Detective) recordConversation(ctx context.Context, msg *email.Message) {
	entry := &store.ConversationEntry{
		UserID:      msg.UserID,
		Sender:      strings.ToLower(msg.Sender),
		Subject:     msg.Subject,
		BodySnippet: store.Snippet(msg.Body),
		ThreadID:    store.ThreadID(msg.UserID, msg.Sender, msg.Subject),
		IsReply:     store.IsReply(msg.Subject),
		Timestamp:   time.Now().UTC(),
	}
	if err := d.store.AppendConversation(ctx, entry); err != nil {
		d.logger.Warn("conversation append failed", zap.Error(err))
	}
}
