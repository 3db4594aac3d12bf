package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

// MemoryStore keeps all context in process. Used for single-node
// deployments without Postgres and throughout the test suite. All
// mutations run under one mutex, which closes the read-modify-write
// races a shared map would otherwise allow.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]*UserProfile
	suspects      map[string]*Suspect
	conversations []*ConversationEntry
	scans         []*scan.Record
	samples       []*TrainingSample
	documents     map[string][]*Document
	nextSampleID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[string]*UserProfile),
		suspects:  make(map[string]*Suspect),
		documents: make(map[string][]*Document),
	}
}

func (m *MemoryStore) GetUserProfile(_ context.Context, userID string) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profileLocked(userID).clone(), nil
}

// profileLocked returns the live profile, creating it with defaults on
// first access. Caller holds the write lock.
func (m *MemoryStore) profileLocked(userID string) *UserProfile {
	if p, ok := m.profiles[userID]; ok {
		return p
	}
	p := NewUserProfile(userID)
	m.profiles[userID] = p
	return p
}

func (m *MemoryStore) UpdateUserProfile(_ context.Context, userID string, personalInfo, riskProfile, preferences map[string]string) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileLocked(userID)
	for k, v := range personalInfo {
		p.PersonalInfo[k] = v
	}
	for k, v := range riskProfile {
		p.RiskProfile[k] = v
	}
	for k, v := range preferences {
		p.Preferences[k] = v
	}
	p.UpdatedAt = time.Now().UTC()
	return p.clone(), nil
}

func (m *MemoryStore) AddContact(_ context.Context, userID string, contact Contact) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileLocked(userID)
	if p.AddContact(contact) {
		p.UpdatedAt = time.Now().UTC()
	}
	return p.clone(), nil
}

func (m *MemoryStore) AddOrganization(_ context.Context, userID string, org Organization) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.profileLocked(userID)
	if p.AddOrganization(org) {
		p.UpdatedAt = time.Now().UTC()
	}
	return p.clone(), nil
}

func (m *MemoryStore) UpsertSuspect(_ context.Context, suspect *Suspect) (*Suspect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(suspect.SenderEmail)
	now := time.Now().UTC()

	existing, ok := m.suspects[key]
	if !ok {
		created := *suspect
		created.SenderEmail = key
		created.FrequencyCount = 1
		created.FirstSeen = now
		created.LastSeen = now
		m.suspects[key] = &created
		out := created
		return &out, nil
	}

	existing.FrequencyCount++
	existing.LastSeen = now
	if suspect.SenderName != "" {
		existing.SenderName = suspect.SenderName
	}
	if suspect.ThreatLevel != "" {
		existing.ThreatLevel = suspect.ThreatLevel
	}
	for _, tactic := range suspect.Tactics {
		if !containsString(existing.Tactics, tactic) {
			existing.Tactics = append(existing.Tactics, tactic)
		}
	}
	out := *existing
	return &out, nil
}

func (m *MemoryStore) GetSuspect(_ context.Context, senderEmail string) (*Suspect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.suspects[strings.ToLower(senderEmail)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) AppendConversation(_ context.Context, entry *ConversationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *entry
	if copied.Timestamp.IsZero() {
		copied.Timestamp = time.Now().UTC()
	}
	m.conversations = append(m.conversations, &copied)
	return nil
}

func (m *MemoryStore) ConversationHistory(_ context.Context, userID, sender string, limit int) ([]*ConversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	senderKey := strings.ToLower(sender)
	var matched []*ConversationEntry
	for _, e := range m.conversations {
		if e.UserID == userID && strings.ToLower(e.Sender) == senderKey {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*ConversationEntry, len(matched))
	for i, e := range matched {
		copied := *e
		out[i] = &copied
	}
	return out, nil
}

func (m *MemoryStore) SaveScan(_ context.Context, record *scan.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans = append(m.scans, record)
	return nil
}

func (m *MemoryStore) ScanHistory(_ context.Context, userID string, limit, offset int) ([]*scan.Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.userScansLocked(userID)
	total := len(matched)

	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

// userScansLocked returns the user's records newest first. Caller holds
// at least the read lock.
func (m *MemoryStore) userScansLocked(userID string) []*scan.Record {
	var matched []*scan.Record
	for _, r := range m.scans {
		if r.UserID == userID {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched
}

func (m *MemoryStore) Dashboard(_ context.Context, userID string) (*DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.userScansLocked(userID)
	stats := &DashboardStats{TotalScans: len(records)}

	for _, r := range records {
		switch r.Verdict {
		case scan.VerdictThreat:
			stats.Threats++
			if len(stats.RecentThreats) < 5 {
				stats.RecentThreats = append(stats.RecentThreats, r)
			}
		case scan.VerdictSuspicious:
			stats.Suspicious++
		default:
			stats.Safe++
		}
	}
	if len(records) > 10 {
		stats.RecentActivity = records[:10]
	} else {
		stats.RecentActivity = records
	}

	if stats.TotalScans > 0 {
		stats.ThreatPercentage = float64(stats.Threats) / float64(stats.TotalScans) * 100
	}
	stats.RiskLevel = RiskBucket(stats.ThreatPercentage)
	return stats, nil
}

func (m *MemoryStore) AddTrainingSample(_ context.Context, sample *TrainingSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sample
	m.nextSampleID++
	copied.ID = m.nextSampleID
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	m.samples = append(m.samples, &copied)
	return nil
}

func (m *MemoryStore) TrainingStats(_ context.Context) (*TrainingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &TrainingStats{
		TotalSamples: len(m.samples),
		ByLabel:      make(map[string]int),
	}
	for _, s := range m.samples {
		stats.ByLabel[s.ActualLabel]++
	}
	stats.evaluateReadiness()
	return stats, nil
}

func (m *MemoryStore) SaveDocument(_ context.Context, doc *Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.documents[doc.UserID] {
		if existing.Active && existing.ContentHash == doc.ContentHash {
			return false, nil
		}
	}

	copied := *doc
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	copied.Active = true
	if copied.UploadedAt.IsZero() {
		copied.UploadedAt = time.Now().UTC()
	}
	m.documents[doc.UserID] = append(m.documents[doc.UserID], &copied)
	doc.ID = copied.ID
	return true, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, userID, docID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.documents[userID] {
		if d.ID == docID && d.Active {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListDocuments(_ context.Context, userID string) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Document
	for _, d := range m.documents[userID] {
		if d.Active {
			copied := *d
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, userID, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.documents[userID] {
		if d.ID == docID && d.Active {
			d.Active = false
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) HealthCheck(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (p *UserProfile) clone() *UserProfile {
	out := *p
	out.PersonalInfo = copyMap(p.PersonalInfo)
	out.RiskProfile = copyMap(p.RiskProfile)
	out.Preferences = copyMap(p.Preferences)
	out.Contacts = append([]Contact(nil), p.Contacts...)
	out.Organizations = append([]Organization(nil), p.Organizations...)
	out.PreviousScams = append([]string(nil), p.PreviousScams...)
	return &out
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
