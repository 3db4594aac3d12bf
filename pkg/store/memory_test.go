package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

func TestGetUserProfileLazyDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p, err := s.GetUserProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserProfile failed: %v", err)
	}
	if p.UserID != "alice" {
		t.Errorf("UserID = %q", p.UserID)
	}
	if p.RiskProfile["tech_savviness"] != "medium" ||
		p.RiskProfile["overall_risk"] != "medium" ||
		p.RiskProfile["security_level"] != "medium" {
		t.Errorf("default risk profile wrong: %v", p.RiskProfile)
	}
	if len(p.Contacts) != 0 || len(p.Organizations) != 0 {
		t.Error("new profile should have empty contact lists")
	}
}

func TestAddContactIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.AddContact(ctx, "alice", Contact{Name: "Bob", Email: "bob@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Contacts) != 1 {
		t.Fatalf("contacts = %d, want 1", len(first.Contacts))
	}

	// Same email, different case: no new entry.
	second, err := s.AddContact(ctx, "alice", Contact{Name: "Bobby", Email: "BOB@Example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Contacts) != 1 {
		t.Errorf("duplicate contact added: %v", second.Contacts)
	}

	third, err := s.AddContact(ctx, "alice", Contact{Name: "Carol", Email: "carol@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(third.Contacts) != 2 {
		t.Errorf("contacts = %d, want 2", len(third.Contacts))
	}
	// Insertion order preserved.
	if third.Contacts[0].Email != "bob@example.com" {
		t.Errorf("contact order changed: %v", third.Contacts)
	}
}

func TestAddOrganizationIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.AddOrganization(ctx, "alice", Organization{Name: "Acme Bank", Domain: "acmebank.com"}); err != nil {
		t.Fatal(err)
	}
	p, err := s.AddOrganization(ctx, "alice", Organization{Name: "ACME", Domain: "AcmeBank.COM"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Organizations) != 1 {
		t.Errorf("duplicate organization added: %v", p.Organizations)
	}
}

func TestUpdateUserProfileMerges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.UpdateUserProfile(ctx, "alice",
		map[string]string{"name": "Alice"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	p, err := s.UpdateUserProfile(ctx, "alice",
		map[string]string{"city": "Oslo"},
		map[string]string{"overall_risk": "high"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if p.PersonalInfo["name"] != "Alice" || p.PersonalInfo["city"] != "Oslo" {
		t.Errorf("personal info not merged: %v", p.PersonalInfo)
	}
	if p.RiskProfile["overall_risk"] != "high" {
		t.Errorf("risk profile not updated: %v", p.RiskProfile)
	}
	if p.RiskProfile["tech_savviness"] != "medium" {
		t.Error("untouched risk fields should keep defaults")
	}
}

func TestUpsertSuspectFrequency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.UpsertSuspect(ctx, &Suspect{
		SenderEmail: "Scammer@Evil.com",
		ThreatLevel: scan.ThreatHigh,
		Tactics:     []string{"urgency"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.FrequencyCount != 1 {
		t.Errorf("first sighting frequency = %d, want 1", first.FrequencyCount)
	}

	time.Sleep(5 * time.Millisecond)
	second, err := s.UpsertSuspect(ctx, &Suspect{
		SenderEmail: "scammer@evil.com",
		Tactics:     []string{"fear"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.FrequencyCount != 2 {
		t.Errorf("repeat sighting frequency = %d, want 2", second.FrequencyCount)
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Error("last_seen not advanced on repeat sighting")
	}
	if second.ThreatLevel != scan.ThreatHigh {
		t.Errorf("threat level lost on upsert: %s", second.ThreatLevel)
	}
	if len(second.Tactics) != 2 {
		t.Errorf("tactics not merged: %v", second.Tactics)
	}
}

func TestUpsertSuspectConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const sightings = 50
	var wg sync.WaitGroup
	for i := 0; i < sightings; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UpsertSuspect(ctx, &Suspect{SenderEmail: "scammer@evil.com"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetSuspect(ctx, "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.FrequencyCount != sightings {
		t.Errorf("frequency = %d, want %d (lost increments)", got.FrequencyCount, sightings)
	}
}

func TestConversationHistoryOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := s.AppendConversation(ctx, &ConversationEntry{
			UserID:      "alice",
			Sender:      "bob@example.com",
			Subject:     fmt.Sprintf("msg %d", i),
			BodySnippet: "hi",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.ConversationHistory(ctx, "alice", "bob@example.com", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Subject != "msg 4" {
		t.Errorf("newest entry first expected, got %q", history[0].Subject)
	}

	other, err := s.ConversationHistory(ctx, "alice", "carol@example.com", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated sender returned %d entries", len(other))
	}
}

func TestScanHistoryPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		err := s.SaveScan(ctx, &scan.Record{
			ScanID:    fmt.Sprintf("scan_%d", i),
			UserID:    "alice",
			Verdict:   scan.VerdictSafe,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := s.ScanHistory(ctx, "alice", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 7 {
		t.Errorf("total = %d, want 7", total)
	}
	if len(page) != 3 || page[0].ScanID != "scan_6" {
		t.Errorf("first page wrong: %d entries, first %s", len(page), page[0].ScanID)
	}

	page2, _, err := s.ScanHistory(ctx, "alice", 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 3 || page2[0].ScanID != "scan_3" {
		t.Errorf("second page wrong")
	}

	empty, _, err := s.ScanHistory(ctx, "alice", 3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("offset past end should return empty page")
	}
}

func TestDashboardRiskBuckets(t *testing.T) {
	testCases := []struct {
		name    string
		threats int
		safe    int
		want    scan.ThreatLevel
	}{
		{"mostly threats", 3, 7, scan.ThreatHigh},     // 30%
		{"some threats", 1, 9, scan.ThreatMedium},     // 10%
		{"rare threats", 1, 24, scan.ThreatLow},       // 4%
		{"no scans at all", 0, 0, scan.ThreatLow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewMemoryStore()
			ctx := context.Background()
			for i := 0; i < tc.threats; i++ {
				_ = s.SaveScan(ctx, &scan.Record{
					ScanID: fmt.Sprintf("t%d", i), UserID: "u",
					Verdict: scan.VerdictThreat, CreatedAt: time.Now(),
				})
			}
			for i := 0; i < tc.safe; i++ {
				_ = s.SaveScan(ctx, &scan.Record{
					ScanID: fmt.Sprintf("s%d", i), UserID: "u",
					Verdict: scan.VerdictSafe, CreatedAt: time.Now(),
				})
			}

			stats, err := s.Dashboard(ctx, "u")
			if err != nil {
				t.Fatal(err)
			}
			if stats.RiskLevel != tc.want {
				t.Errorf("risk level = %s, want %s (%.1f%%)",
					stats.RiskLevel, tc.want, stats.ThreatPercentage)
			}
			if stats.TotalScans != tc.threats+tc.safe {
				t.Errorf("total = %d", stats.TotalScans)
			}
		})
	}
}

func TestTrainingReadiness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	addSamples := func(label string, n int) {
		for i := 0; i < n; i++ {
			if err := s.AddTrainingSample(ctx, &TrainingSample{
				EmailText: "text", ActualLabel: label,
			}); err != nil {
				t.Fatal(err)
			}
		}
	}

	stats, _ := s.TrainingStats(ctx)
	if stats.Ready {
		t.Error("empty store should not be ready for training")
	}

	// 100 samples but one class only.
	addSamples("malicious", 100)
	stats, _ = s.TrainingStats(ctx)
	if stats.Ready {
		t.Error("single-class data should not be ready")
	}

	// Second class but below the per-class floor.
	addSamples("benign", 10)
	stats, _ = s.TrainingStats(ctx)
	if stats.Ready {
		t.Error("underrepresented class should block readiness")
	}

	addSamples("benign", 10)
	stats, _ = s.TrainingStats(ctx)
	if !stats.Ready {
		t.Errorf("expected ready: %+v", stats)
	}
}

func TestDocumentDedupAndSoftDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	content := "Wire instructions for vendor payments."
	doc := &Document{
		UserID:      "alice",
		Filename:    "wire.txt",
		Content:     content,
		ContentHash: HashContent(content),
		Summary:     Summarize(content),
	}
	created, err := s.SaveDocument(ctx, doc)
	if err != nil {
		t.Fatal(err)
	}
	if !created || doc.ID == "" {
		t.Fatal("first save should create and assign an id")
	}

	got, err := s.GetDocument(ctx, "alice", doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != content || got.Filename != "wire.txt" {
		t.Errorf("fetched document mismatch: %+v", got)
	}

	dup, err := s.SaveDocument(ctx, &Document{
		UserID: "alice", Content: content, ContentHash: HashContent(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("identical content should dedup")
	}

	if err := s.DeleteDocument(ctx, "alice", doc.ID); err != nil {
		t.Fatal(err)
	}
	docs, err := s.ListDocuments(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("soft-deleted document still listed: %v", docs)
	}
	if _, err := s.GetDocument(ctx, "alice", doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("fetching soft-deleted doc: got %v, want ErrNotFound", err)
	}

	// Same content can be re-uploaded after deletion.
	again, err := s.SaveDocument(ctx, &Document{
		UserID: "alice", Content: content, ContentHash: HashContent(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !again {
		t.Error("deleted content should be storable again")
	}

	if err := s.DeleteDocument(ctx, "alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting unknown doc: got %v, want ErrNotFound", err)
	}
}

func TestThreadHelpers(t *testing.T) {
	if !IsReply("Re: invoice") || !IsReply("FWD: hello") || !IsReply("fw: hi") {
		t.Error("reply markers not detected")
	}
	if IsReply("Regarding your invoice") {
		t.Error("'Regarding' is not a reply marker")
	}

	a := ThreadID("alice", "bob@example.com", "Invoice 42")
	b := ThreadID("alice", "Bob@Example.com", "Re: Invoice 42")
	if a != b {
		t.Error("reply should land in the same thread as the original")
	}
	c := ThreadID("alice", "bob@example.com", "Other topic")
	if a == c {
		t.Error("different subjects should produce different threads")
	}

	long := strings.Repeat("x", 300)
	if got := Snippet(long); len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet length = %d", len(got))
	}
	if got := Snippet("short"); got != "short" {
		t.Errorf("short body altered: %q", got)
	}

	multi := "a" + strings.Repeat("é", 150)
	if got := Snippet(multi); !utf8.ValidString(got) {
		t.Errorf("snippet split a multi-byte rune: %q", got)
	}
	if got := Summarize("a" + strings.Repeat("é", summaryLength)); !utf8.ValidString(got) {
		t.Errorf("summary split a multi-byte rune: %q", got)
	}
}
