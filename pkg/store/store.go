// Package store persists the per-user context the contextual stage
// consumes and mutates: profiles, contacts, suspects, conversation
// history, scan records, training samples, and uploaded documents.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

const (
	snippetLength = 200
	summaryLength = 500

	// Training-readiness gates.
	minTrainingSamples = 100
	minTrainingClasses = 2
	minSamplesPerClass = 20
)

// Contact is a person the user knows.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Organization is an institution the user deals with.
type Organization struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// UserProfile is the per-user context bag. Contacts and organizations
// keep insertion order and are deduplicated by lowercase email/domain.
type UserProfile struct {
	UserID        string            `json:"user_id"`
	PersonalInfo  map[string]string `json:"personal_info"`
	Contacts      []Contact         `json:"contacts"`
	Organizations []Organization    `json:"organizations"`
	PreviousScams []string          `json:"previous_scams"`
	RiskProfile   map[string]string `json:"risk_profile"`
	Preferences   map[string]string `json:"preferences"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DefaultRiskProfile seeds a lazily created profile.
func DefaultRiskProfile() map[string]string {
	return map[string]string{
		"tech_savviness": "medium",
		"overall_risk":   "medium",
		"security_level": "medium",
	}
}

// NewUserProfile creates a profile with system defaults.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:        userID,
		PersonalInfo:  map[string]string{},
		Contacts:      []Contact{},
		Organizations: []Organization{},
		PreviousScams: []string{},
		RiskProfile:   DefaultRiskProfile(),
		Preferences:   map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// AddContact appends the contact unless its email is already present.
// Reports whether the profile changed.
func (p *UserProfile) AddContact(c Contact) bool {
	key := strings.ToLower(c.Email)
	for _, existing := range p.Contacts {
		if strings.ToLower(existing.Email) == key {
			return false
		}
	}
	p.Contacts = append(p.Contacts, c)
	return true
}

// AddOrganization appends the organization unless its domain is already
// present. Reports whether the profile changed.
func (p *UserProfile) AddOrganization(o Organization) bool {
	key := strings.ToLower(o.Domain)
	for _, existing := range p.Organizations {
		if strings.ToLower(existing.Domain) == key {
			return false
		}
	}
	p.Organizations = append(p.Organizations, o)
	return true
}

// Suspect is a sender previously flagged by the contextual stage.
type Suspect struct {
	SenderEmail    string           `json:"sender_email"`
	SenderName     string           `json:"sender_name,omitempty"`
	Tactics        []string         `json:"tactics,omitempty"`
	ThreatLevel    scan.ThreatLevel `json:"threat_level"`
	FrequencyCount int              `json:"frequency_count"`
	FirstSeen      time.Time        `json:"first_seen"`
	LastSeen       time.Time        `json:"last_seen"`
}

// ConversationEntry is one observed email in a user/sender thread.
// Entries are appended, never mutated.
type ConversationEntry struct {
	UserID      string    `json:"user_id"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	BodySnippet string    `json:"body_snippet"`
	ThreadID    string    `json:"thread_id"`
	IsReply     bool      `json:"is_reply"`
	Timestamp   time.Time `json:"timestamp"`
}

// TrainingSample is a labeled example collected for model improvement.
type TrainingSample struct {
	ID                  int64     `json:"id"`
	EmailText           string    `json:"email_text"`
	PredictedLabel      string    `json:"predicted_label"`
	PredictedConfidence float64   `json:"predicted_confidence"`
	ActualLabel         string    `json:"actual_label"`
	UserFeedback        string    `json:"user_feedback,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// Document is user-uploaded reference material. Deletion is soft so
// retrieval indexes can be rebuilt.
type Document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	Content     string    `json:"-"`
	ContentHash string    `json:"content_hash"`
	Summary     string    `json:"summary"`
	Active      bool      `json:"is_active"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// DashboardStats aggregates a user's scan history.
type DashboardStats struct {
	TotalScans       int              `json:"total_scans"`
	Threats          int              `json:"threats_detected"`
	Suspicious       int              `json:"suspicious_emails"`
	Safe             int              `json:"safe_emails"`
	ThreatPercentage float64          `json:"threat_percentage"`
	RiskLevel        scan.ThreatLevel `json:"risk_level"`
	RecentActivity   []*scan.Record   `json:"recent_activity"`
	RecentThreats    []*scan.Record   `json:"recent_threats"`
}

// TrainingStats summarizes collected samples and readiness for a
// fine-tuning run.
type TrainingStats struct {
	TotalSamples int            `json:"total_samples"`
	ByLabel      map[string]int `json:"by_label"`
	Ready        bool           `json:"ready_for_training"`
	Reason       string         `json:"reason,omitempty"`
}

// evaluateReadiness applies the training gates to label counts.
func (s *TrainingStats) evaluateReadiness() {
	if s.TotalSamples < minTrainingSamples {
		s.Reason = "not enough samples"
		return
	}
	if len(s.ByLabel) < minTrainingClasses {
		s.Reason = "need samples from at least two classes"
		return
	}
	for label, count := range s.ByLabel {
		if count < minSamplesPerClass {
			s.Reason = "class underrepresented: " + label
			return
		}
	}
	s.Ready = true
}

// Store is the persistence contract for all user-context entities.
type Store interface {
	// Profiles. GetUserProfile creates the profile with defaults on
	// first access.
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
	UpdateUserProfile(ctx context.Context, userID string, personalInfo, riskProfile, preferences map[string]string) (*UserProfile, error)
	AddContact(ctx context.Context, userID string, contact Contact) (*UserProfile, error)
	AddOrganization(ctx context.Context, userID string, org Organization) (*UserProfile, error)

	// Suspects. UpsertSuspect atomically increments the frequency
	// count on repeat sightings.
	UpsertSuspect(ctx context.Context, suspect *Suspect) (*Suspect, error)
	GetSuspect(ctx context.Context, senderEmail string) (*Suspect, error)

	// Conversation history, newest first.
	AppendConversation(ctx context.Context, entry *ConversationEntry) error
	ConversationHistory(ctx context.Context, userID, sender string, limit int) ([]*ConversationEntry, error)

	// Scan records.
	SaveScan(ctx context.Context, record *scan.Record) error
	ScanHistory(ctx context.Context, userID string, limit, offset int) ([]*scan.Record, int, error)
	Dashboard(ctx context.Context, userID string) (*DashboardStats, error)

	// Training samples.
	AddTrainingSample(ctx context.Context, sample *TrainingSample) error
	TrainingStats(ctx context.Context) (*TrainingStats, error)

	// Documents. SaveDocument reports false when an identical document
	// already exists for the user.
	SaveDocument(ctx context.Context, doc *Document) (bool, error)
	GetDocument(ctx context.Context, userID, docID string) (*Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*Document, error)
	DeleteDocument(ctx context.Context, userID, docID string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

var replyPrefixRegex = regexp.MustCompile(`(?i)^(re|fwd|fw):\s*`)

// IsReply reports whether the subject carries a reply/forward marker.
func IsReply(subject string) bool {
	return replyPrefixRegex.MatchString(strings.TrimSpace(subject))
}

// CleanSubject strips reply/forward markers and lowercases, so replies
// land in the same thread as the original message.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for replyPrefixRegex.MatchString(s) {
		s = replyPrefixRegex.ReplaceAllString(s, "")
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// ThreadID derives a stable conversation key from user, sender, and the
// cleaned subject.
func ThreadID(userID, sender, subject string) string {
	sum := sha256.Sum256([]byte(userID + "_" + strings.ToLower(sender) + "_" + CleanSubject(subject)))
	return hex.EncodeToString(sum[:16])
}

// Snippet truncates a body for conversation history.
func Snippet(body string) string {
	return truncate(body, snippetLength)
}

// Summarize truncates document content for listing.
func Summarize(content string) string {
	return truncate(content, summaryLength)
}

// truncate caps s at n bytes on a rune boundary, marking the cut with
// an ellipsis.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// HashContent fingerprints document content for dedup.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// RiskBucket maps a threat percentage onto a dashboard risk level.
func RiskBucket(threatPercentage float64) scan.ThreatLevel {
	switch {
	case threatPercentage > 20:
		return scan.ThreatHigh
	case threatPercentage > 5:
		return scan.ThreatMedium
	default:
		return scan.ThreatLow
	}
}
