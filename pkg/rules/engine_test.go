package rules

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/email"
	"github.com/SafeInboxAI/warden/pkg/scan"
)

func newTestEngine() *Engine {
	return NewEngine(NewRegistry(), zap.NewNop())
}

func TestCheckCleanEmail(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "notifications@github.com",
		Subject: "Your build passed",
		Body:    "Your pull request #123 has been successfully merged into the main branch. Thanks for your contribution!",
	})

	if result.Status != scan.StatusClean {
		t.Errorf("status = %s, want clean; indicators: %v", result.Status, result.Indicators)
	}
	if result.Confidence != cleanConfidence {
		t.Errorf("clean confidence = %v, want %v", result.Confidence, cleanConfidence)
	}
	if len(result.Indicators) != 0 {
		t.Errorf("clean email produced indicators: %v", result.Indicators)
	}
}

func TestCheckFinancialTermConfidence(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"credit card", "We need your credit card to continue."},
		{"routing number", "Reply with your routing number please."},
		{"bank account", "Confirm your bank account today."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := newTestEngine().Check(&email.Message{
				Sender:  "someone@example.com",
				Subject: "Account notice",
				Body:    tc.body,
			})
			if result.Status != scan.StatusThreat {
				t.Fatalf("status = %s, want threat", result.Status)
			}
			if result.Confidence < 0.95 {
				t.Errorf("confidence = %v, want >= 0.95", result.Confidence)
			}
		})
	}
}

func TestCheckHealthBenefitsScenario(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "benefits@healthservice-verification.com",
		Subject: "URGENT: SSN Required for Benefits Verification",
		Body: "Your health benefits require immediate verification to avoid suspension. " +
			"We need your Social Security Number (SSN) and income verification within 24 hours to maintain your coverage.",
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence < 0.95 {
		t.Errorf("confidence = %v, want >= 0.95", result.Confidence)
	}
	if len(result.Indicators) == 0 {
		t.Error("expected threat indicators")
	}
}

func TestCheckMaxCombining(t *testing.T) {
	// Fires the body-pattern check (0.7) and the shortener check (0.8).
	// Combined confidence is the max, not the sum.
	result := newTestEngine().Check(&email.Message{
		Sender:  "someone@example.com",
		Subject: "hello",
		Body:    "click this link to verify: https://bit.ly/3xyz",
		URLs:    []string{"https://bit.ly/3xyz"},
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence != 0.8 {
		t.Errorf("confidence = %v, want exactly 0.8", result.Confidence)
	}
	if len(result.Indicators) < 2 {
		t.Errorf("expected both checks to report, got %v", result.Indicators)
	}
}

func TestCheckMalformedSender(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "not-an-address",
		Subject: "hello",
		Body:    "hello there",
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}
}

func TestCheckSuspiciousTLD(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "winner@lottery-claims.tk",
		Subject: "hello",
		Body:    "hello there",
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", result.Confidence)
	}
}

func TestCheckMultipleUrgency(t *testing.T) {
	single := newTestEngine().Check(&email.Message{
		Sender:  "team@example.com",
		Subject: "Reminder",
		Body:    "This is urgent but otherwise fine.",
	})
	if single.Status != scan.StatusClean {
		t.Errorf("one urgency term alone should stay clean, got %s (%v)", single.Status, single.Indicators)
	}

	double := newTestEngine().Check(&email.Message{
		Sender:  "team@example.com",
		Subject: "Reminder",
		Body:    "This is urgent, respond immediately.",
	})
	if double.Status != scan.StatusThreat {
		t.Fatalf("two urgency terms should fire, got %s", double.Status)
	}
	if double.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", double.Confidence)
	}
}

func TestCheckUrgencyPlusPersonalInfo(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "team@example.com",
		Subject: "Reminder",
		Body:    "Please send your date of birth urgent.",
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}

	found := false
	for _, ind := range result.Indicators {
		if strings.Contains(ind, "personal information") || strings.Contains(ind, "Urgent request") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected combined urgency+personal indicator, got %v", result.Indicators)
	}
}

func TestCheckFreeMailOfficialClaim(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "support.team123@gmail.com",
		Subject: "Account review",
		Body:    "This is an official notice from the federal government regarding your file.",
	})

	if result.Status != scan.StatusThreat {
		t.Fatalf("status = %s, want threat", result.Status)
	}
	if result.Confidence < 0.8 {
		t.Errorf("confidence = %v, want >= 0.8", result.Confidence)
	}
}

func TestCheckOfficialDomainNotImpersonation(t *testing.T) {
	result := newTestEngine().Check(&email.Message{
		Sender:  "noreply@benefits.state.gov",
		Subject: "Open enrollment",
		Body:    "Medicare open enrollment begins next month. No action needed.",
	})

	for _, ind := range result.Indicators {
		if strings.Contains(ind, "impersonation") {
			t.Errorf("gov sender flagged for health impersonation: %v", result.Indicators)
		}
	}
}

func BenchmarkEngineCheck(b *testing.B) {
	engine := newTestEngine()
	msg := &email.Message{
		Sender:  "alerts@example.com",
		Subject: "Quarterly report available",
		Body:    strings.Repeat("The quarterly report is now available in the portal. ", 30),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.Check(msg)
	}
}
