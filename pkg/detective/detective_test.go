package detective

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/scan"
	"github.com/SafeInboxAI/warden/pkg/sessions"
	"github.com/SafeInboxAI/warden/pkg/store"
)

func newTestDetective(st store.Store, tracker sessions.Tracker) *Detective {
	return New(nil, st, tracker, nil, zap.NewNop())
}

func TestAssessVerdictBoundaries(t *testing.T) {
	tests := []struct {
		score      int
		verdict    scan.Verdict
		level      scan.ThreatLevel
		confidence float64
	}{
		{80, scan.VerdictThreat, scan.ThreatHigh, 0.90},
		{79, scan.VerdictSuspicious, scan.ThreatMedium, 0.75},
		{60, scan.VerdictSuspicious, scan.ThreatMedium, 0.75},
		{59, scan.VerdictSuspicious, scan.ThreatLow, 0.60},
		{40, scan.VerdictSuspicious, scan.ThreatLow, 0.60},
		{39, scan.VerdictSafe, scan.ThreatLow, 0.80},
	}

	for _, tt := range tests {
		result := assess(
			socialAnalysis{Score: tt.score},
			impersonationAnalysis{Risk: riskLow},
			conversationAnalysis{},
		)
		if result.TotalScore != tt.score {
			t.Errorf("score %d: total = %d", tt.score, result.TotalScore)
		}
		if result.Verdict != tt.verdict {
			t.Errorf("score %d: verdict = %q, want %q", tt.score, result.Verdict, tt.verdict)
		}
		if result.ThreatLevel != tt.level {
			t.Errorf("score %d: threat level = %q, want %q", tt.score, result.ThreatLevel, tt.level)
		}
		if result.Confidence != tt.confidence {
			t.Errorf("score %d: confidence = %v, want %v", tt.score, result.Confidence, tt.confidence)
		}
	}
}

func TestAssessWeighting(t *testing.T) {
	result := assess(
		socialAnalysis{Score: 30, Tactics: []string{"urgency", "fear"}},
		impersonationAnalysis{Risk: riskHigh, Indicators: []string{"spoofed contact"}},
		conversationAnalysis{Indicators: []string{"Reply or forward pattern detected", "Found 2 previous emails from sender"}},
	)

	// 30 + 30 (high impersonation) + 2*10 = 80.
	if result.TotalScore != 80 {
		t.Fatalf("total = %d, want 80", result.TotalScore)
	}
	if result.Verdict != scan.VerdictThreat {
		t.Errorf("verdict = %q, want threat", result.Verdict)
	}
	if !strings.Contains(result.DetailedAnalysis, "Social engineering tactics detected: urgency, fear") {
		t.Errorf("analysis missing tactics: %q", result.DetailedAnalysis)
	}
	if !strings.Contains(result.DetailedAnalysis, "Impersonation risks: spoofed contact") {
		t.Errorf("analysis missing impersonation: %q", result.DetailedAnalysis)
	}
	if !strings.Contains(result.DetailedAnalysis, "Conversation anomalies: ") {
		t.Errorf("analysis missing conversation section: %q", result.DetailedAnalysis)
	}
	if result.RecommendedAction != "DO NOT INTERACT with this email. Delete immediately and report as phishing." {
		t.Errorf("unexpected recommendation: %q", result.RecommendedAction)
	}
	if result.PersonalRelevance != "high" {
		t.Errorf("personal relevance = %q, want high", result.PersonalRelevance)
	}

	medium := assess(socialAnalysis{Score: 30}, impersonationAnalysis{Risk: riskMedium}, conversationAnalysis{})
	if medium.TotalScore != 45 {
		t.Errorf("medium impersonation total = %d, want 45", medium.TotalScore)
	}
}

func TestAssessQuietEmail(t *testing.T) {
	result := assess(socialAnalysis{Score: 0}, impersonationAnalysis{Risk: riskLow}, conversationAnalysis{})

	if result.Verdict != scan.VerdictSafe {
		t.Fatalf("verdict = %q, want safe", result.Verdict)
	}
	if result.DetailedAnalysis != "No significant threats detected." {
		t.Errorf("analysis = %q", result.DetailedAnalysis)
	}
	if result.RecommendedAction != "Email appears legitimate, but always verify requests for sensitive information." {
		t.Errorf("recommendation = %q", result.RecommendedAction)
	}
	if result.PersonalRelevance != "low" {
		t.Errorf("personal relevance = %q, want low", result.PersonalRelevance)
	}
}

func TestFallbackSocial(t *testing.T) {
	msg := &email.Message{
		Subject: "Urgent notice from your bank",
		Body:    "Your account has been suspended. This is urgent, act on the deadline.",
	}
	got := fallbackSocial(msg)

	// urgency, authority, and fear each fire once regardless of how many
	// of their keywords appear.
	if got.Score != 45 {
		t.Fatalf("score = %d, want 45", got.Score)
	}
	want := []string{"urgency", "authority", "fear"}
	if len(got.Tactics) != len(want) {
		t.Fatalf("tactics = %v, want %v", got.Tactics, want)
	}
	for i, tactic := range want {
		if got.Tactics[i] != tactic {
			t.Errorf("tactics[%d] = %q, want %q", i, got.Tactics[i], tactic)
		}
	}
	if got.Analysis != "Rule-based analysis detected 3 social engineering tactics" {
		t.Errorf("analysis = %q", got.Analysis)
	}
}

func TestFallbackSocialAllCategories(t *testing.T) {
	msg := &email.Message{
		Subject: "Confidential prize",
		Body:    "Urgent: the bank suspended your bonus, winner. Secret deadline fraud.",
	}
	got := fallbackSocial(msg)
	if got.Score != 75 {
		t.Fatalf("score = %d, want 75", got.Score)
	}
	if len(got.Tactics) != 5 {
		t.Fatalf("tactics = %v, want all five categories", got.Tactics)
	}
}

func TestParseAnalysis(t *testing.T) {
	t.Run("score and tactics", func(t *testing.T) {
		response := `**Social Engineering Score**: 85

**Tactics Identified**:
- Urgency pressure
* Authority impersonation

**Threat Assessment**: bad news.`
		got := parseAnalysis(response)
		if got.Score != 85 {
			t.Errorf("score = %d, want 85", got.Score)
		}
		want := []string{"Urgency pressure", "Authority impersonation"}
		if len(got.Tactics) != len(want) || got.Tactics[0] != want[0] || got.Tactics[1] != want[1] {
			t.Errorf("tactics = %v, want %v", got.Tactics, want)
		}
	})

	t.Run("score clamped to 100", func(t *testing.T) {
		got := parseAnalysis("score: 250")
		if got.Score != 100 {
			t.Errorf("score = %d, want 100", got.Score)
		}
	})

	t.Run("missing score defaults", func(t *testing.T) {
		got := parseAnalysis("no structured output here")
		if got.Score != defaultSocialScore {
			t.Errorf("score = %d, want %d", got.Score, defaultSocialScore)
		}
		if len(got.Tactics) != 0 {
			t.Errorf("tactics = %v, want none", got.Tactics)
		}
	})

	t.Run("tactics section ends at unindented prose", func(t *testing.T) {
		response := "Tactics used:\n- Fear induction\nConclusion: avoid.\n- not a tactic"
		got := parseAnalysis(response)
		if len(got.Tactics) != 1 || got.Tactics[0] != "Fear induction" {
			t.Errorf("tactics = %v, want [Fear induction]", got.Tactics)
		}
	})
}

func TestDetectImpersonation(t *testing.T) {
	d := newTestDetective(store.NewMemoryStore(), sessions.NewMemoryTracker(time.Hour))

	profile := store.NewUserProfile("u1")
	profile.AddContact(store.Contact{Name: "Alice Smith", Email: "alice@example.com"})

	t.Run("contact name from wrong address", func(t *testing.T) {
		msg := &email.Message{
			Sender: "attacker@evil.com",
			Body:   "Hi, this is Alice Smith, please wire the funds.",
		}
		got := d.detectImpersonation(msg, profile)
		if got.Risk != riskHigh {
			t.Fatalf("risk = %q, want high", got.Risk)
		}
		if len(got.Indicators) != 1 || !strings.Contains(got.Indicators[0], "alice smith") {
			t.Errorf("indicators = %v", got.Indicators)
		}
	})

	t.Run("contact mail from real address", func(t *testing.T) {
		msg := &email.Message{
			Sender: "alice@example.com",
			Body:   "Hi, alice smith here.",
		}
		got := d.detectImpersonation(msg, profile)
		if got.Risk != riskLow || len(got.Indicators) != 0 {
			t.Errorf("risk = %q indicators = %v, want clean", got.Risk, got.Indicators)
		}
	})

	t.Run("authority brand outside its domain", func(t *testing.T) {
		msg := &email.Message{Sender: "paypal-billing@scam-mail.com"}
		got := d.detectImpersonation(msg, nil)
		if got.Risk != riskMedium {
			t.Fatalf("risk = %q, want medium", got.Risk)
		}
		if got.Indicators[0] != "Potential paypal impersonation - sender doesn't match official domain" {
			t.Errorf("indicator = %q", got.Indicators[0])
		}
	})

	t.Run("authority brand on its own domain", func(t *testing.T) {
		msg := &email.Message{Sender: "support@paypal.com"}
		got := d.detectImpersonation(msg, nil)
		if got.Risk != riskLow || len(got.Indicators) != 0 {
			t.Errorf("risk = %q indicators = %v, want clean", got.Risk, got.Indicators)
		}
	})
}

func TestAnalyzeConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("reply marker only", func(t *testing.T) {
		d := newTestDetective(store.NewMemoryStore(), sessions.NewMemoryTracker(time.Hour))
		msg := &email.Message{UserID: "u1", Sender: "bob@example.com", Subject: "Re: lunch"}
		got := d.analyzeConversation(ctx, msg)
		if len(got.Indicators) != 1 || got.Indicators[0] != "Reply or forward pattern detected" {
			t.Errorf("indicators = %v", got.Indicators)
		}
	})

	t.Run("history without tone shift", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := newTestDetective(st, sessions.NewMemoryTracker(time.Hour))
		appendHistory(t, st, "u1", "bob@example.com", "please find attached, thank you")

		msg := &email.Message{UserID: "u1", Sender: "bob@example.com", Subject: "status", Body: "please review"}
		got := d.analyzeConversation(ctx, msg)
		if len(got.Indicators) != 1 || got.Indicators[0] != "Found 1 previous emails from sender" {
			t.Errorf("indicators = %v", got.Indicators)
		}
	})

	t.Run("tone shift after three polite emails", func(t *testing.T) {
		st := store.NewMemoryStore()
		d := newTestDetective(st, sessions.NewMemoryTracker(time.Hour))
		for i := 0; i < 3; i++ {
			appendHistory(t, st, "u1", "bob@example.com", "please find attached, thank you")
		}

		msg := &email.Message{
			UserID:  "u1",
			Sender:  "bob@example.com",
			Subject: "wire transfer",
			Body:    "This is urgent, the deadline is today.",
		}
		got := d.analyzeConversation(ctx, msg)
		found := false
		for _, ind := range got.Indicators {
			if ind == "Tone shift detected - possible account compromise" {
				found = true
			}
		}
		if !found {
			t.Errorf("tone shift not flagged: %v", got.Indicators)
		}
	})
}

func appendHistory(t *testing.T, st store.Store, userID, sender, body string) {
	t.Helper()
	err := st.AppendConversation(context.Background(), &store.ConversationEntry{
		UserID:      userID,
		Sender:      sender,
		BodySnippet: body,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append conversation: %v", err)
	}
}

func TestAnalyzeSideEffects(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tracker := sessions.NewMemoryTracker(10 * time.Hour)
	d := newTestDetective(st, tracker)

	if _, err := st.AddContact(ctx, "u1", store.Contact{Name: "Alice Smith", Email: "alice@example.com"}); err != nil {
		t.Fatalf("add contact: %v", err)
	}

	msg := &email.Message{
		UserID:  "u1",
		Sender:  "Attacker@evil.com",
		Subject: "Urgent bank notice",
		Body:    "This is Alice Smith. Urgent: your bank account is suspended, claim your prize. Confidential.",
	}
	result := d.Analyze(ctx, msg, nil)

	if result.Verdict != scan.VerdictThreat {
		t.Fatalf("verdict = %q, want threat (total=%d)", result.Verdict, result.TotalScore)
	}

	suspect, err := st.GetSuspect(ctx, "attacker@evil.com")
	if err != nil {
		t.Fatalf("suspect not recorded: %v", err)
	}
	if suspect.FrequencyCount != 1 {
		t.Errorf("frequency = %d, want 1", suspect.FrequencyCount)
	}

	session, err := tracker.Active(ctx, "u1", "attacker@evil.com")
	if err != nil || session == nil {
		t.Fatalf("monitoring session not opened: session=%v err=%v", session, err)
	}

	history, err := st.ConversationHistory(ctx, "u1", "attacker@evil.com", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("conversation not recorded: history=%d err=%v", len(history), err)
	}
	if history[0].ThreadID == "" || len(history[0].BodySnippet) == 0 {
		t.Errorf("conversation entry incomplete: %+v", history[0])
	}
}

func TestAnalyzeSafeEmailLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tracker := sessions.NewMemoryTracker(10 * time.Hour)
	d := newTestDetective(st, tracker)

	msg := &email.Message{
		UserID:  "u1",
		Sender:  "friend@example.com",
		Subject: "weekend plans",
		Body:    "Want to grab coffee on Saturday?",
	}
	result := d.Analyze(ctx, msg, nil)

	if result.Verdict != scan.VerdictSafe {
		t.Fatalf("verdict = %q, want safe", result.Verdict)
	}
	if _, err := st.GetSuspect(ctx, "friend@example.com"); err != store.ErrNotFound {
		t.Errorf("suspect recorded for safe sender: %v", err)
	}
	session, err := tracker.Active(ctx, "u1", "friend@example.com")
	if err != nil || session != nil {
		t.Errorf("monitoring opened for safe sender: %v", session)
	}
	// The email still lands in conversation history for future context.
	history, err := st.ConversationHistory(ctx, "u1", "friend@example.com", 10)
	if err != nil || len(history) != 1 {
		t.Errorf("history = %d entries, err = %v", len(history), err)
	}
}
