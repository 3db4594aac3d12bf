package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id        TEXT PRIMARY KEY,
	personal_info  JSONB NOT NULL DEFAULT '{}',
	contacts       JSONB NOT NULL DEFAULT '[]',
	organizations  JSONB NOT NULL DEFAULT '[]',
	previous_scams JSONB NOT NULL DEFAULT '[]',
	risk_profile   JSONB NOT NULL DEFAULT '{}',
	preferences    JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS suspects (
	sender_email    TEXT PRIMARY KEY,
	sender_name     TEXT NOT NULL DEFAULT '',
	tactics         JSONB NOT NULL DEFAULT '[]',
	threat_level    TEXT NOT NULL DEFAULT 'low',
	frequency_count INT NOT NULL DEFAULT 1,
	first_seen      TIMESTAMPTZ NOT NULL,
	last_seen       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_history (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT NOT NULL,
	sender       TEXT NOT NULL,
	subject      TEXT NOT NULL,
	body_snippet TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	is_reply     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_user_sender
	ON conversation_history (user_id, sender, created_at DESC);

CREATE TABLE IF NOT EXISTS scan_history (
	scan_id      TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	verdict      TEXT NOT NULL,
	threat_level TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_history_user
	ON scan_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS training_samples (
	id                   BIGSERIAL PRIMARY KEY,
	email_text           TEXT NOT NULL,
	predicted_label      TEXT NOT NULL DEFAULT '',
	predicted_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	actual_label         TEXT NOT NULL,
	user_feedback        TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_documents (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	summary      TEXT NOT NULL,
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	uploaded_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_user_documents_user
	ON user_documents (user_id, content_hash);
`

// PostgresStore persists user context in Postgres via a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, verifies the connection, and applies the
// schema.
func NewPostgresStore(ctx context.Context, databaseURL string, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("postgres store ready")
	return s, nil
}

func (s *PostgresStore) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	profile, err := s.loadProfile(ctx, s.pool, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		profile = NewUserProfile(userID)
		if err := s.insertProfile(ctx, profile); err != nil {
			return nil, err
		}
		return profile, nil
	}
	return profile, err
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) loadProfile(ctx context.Context, q rowQuerier, userID string) (*UserProfile, error) {
	var p UserProfile
	var personal, contacts, orgs, scams, risk, prefs []byte
	err := q.QueryRow(ctx, `
		SELECT user_id, personal_info, contacts, organizations, previous_scams,
		       risk_profile, preferences, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &personal, &contacts, &orgs, &scams, &risk, &prefs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, unmarshal := range []struct {
		data []byte
		dst  any
	}{
		{personal, &p.PersonalInfo},
		{contacts, &p.Contacts},
		{orgs, &p.Organizations},
		{scams, &p.PreviousScams},
		{risk, &p.RiskProfile},
		{prefs, &p.Preferences},
	} {
		if err := json.Unmarshal(unmarshal.data, unmarshal.dst); err != nil {
			return nil, fmt.Errorf("failed to decode profile field: %w", err)
		}
	}
	return &p, nil
}

func (s *PostgresStore) insertProfile(ctx context.Context, p *UserProfile) error {
	personal, _ := json.Marshal(p.PersonalInfo)
	contacts, _ := json.Marshal(p.Contacts)
	orgs, _ := json.Marshal(p.Organizations)
	scams, _ := json.Marshal(p.PreviousScams)
	risk, _ := json.Marshal(p.RiskProfile)
	prefs, _ := json.Marshal(p.Preferences)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_profiles
			(user_id, personal_info, contacts, organizations, previous_scams,
			 risk_profile, preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, personal, contacts, orgs, scams, risk, prefs, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// mutateProfile applies fn to the profile inside a row-locked
// transaction, so concurrent contact additions cannot lose writes.
func (s *PostgresStore) mutateProfile(ctx context.Context, userID string, fn func(*UserProfile)) (*UserProfile, error) {
	// Make sure the row exists before locking it.
	if _, err := s.GetUserProfile(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lock int
	if err := tx.QueryRow(ctx,
		`SELECT 1 FROM user_profiles WHERE user_id = $1 FOR UPDATE`, userID).Scan(&lock); err != nil {
		return nil, fmt.Errorf("failed to lock profile: %w", err)
	}

	p, err := s.loadProfile(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	fn(p)
	p.UpdatedAt = time.Now().UTC()

	personal, _ := json.Marshal(p.PersonalInfo)
	contacts, _ := json.Marshal(p.Contacts)
	orgs, _ := json.Marshal(p.Organizations)
	scams, _ := json.Marshal(p.PreviousScams)
	risk, _ := json.Marshal(p.RiskProfile)
	prefs, _ := json.Marshal(p.Preferences)

	if _, err := tx.Exec(ctx, `
		UPDATE user_profiles SET
			personal_info = $2, contacts = $3, organizations = $4,
			previous_scams = $5, risk_profile = $6, preferences = $7,
			updated_at = $8
		WHERE user_id = $1`,
		userID, personal, contacts, orgs, scams, risk, prefs, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit profile update: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID string, personalInfo, riskProfile, preferences map[string]string) (*UserProfile, error) {
	return s.mutateProfile(ctx, userID, func(p *UserProfile) {
		for k, v := range personalInfo {
			p.PersonalInfo[k] = v
		}
		for k, v := range riskProfile {
			p.RiskProfile[k] = v
		}
		for k, v := range preferences {
			p.Preferences[k] = v
		}
	})
}

func (s *PostgresStore) AddContact(ctx context.Context, userID string, contact Contact) (*UserProfile, error) {
	return s.mutateProfile(ctx, userID, func(p *UserProfile) {
		p.AddContact(contact)
	})
}

func (s *PostgresStore) AddOrganization(ctx context.Context, userID string, org Organization) (*UserProfile, error) {
	return s.mutateProfile(ctx, userID, func(p *UserProfile) {
		p.AddOrganization(org)
	})
}

func (s *PostgresStore) UpsertSuspect(ctx context.Context, suspect *Suspect) (*Suspect, error) {
	now := time.Now().UTC()
	tactics, _ := json.Marshal(suspect.Tactics)

	out := &Suspect{SenderEmail: strings.ToLower(suspect.SenderEmail)}
	var tacticsRaw []byte
	err := s.pool.QueryRow(ctx, `
		INSERT INTO suspects
			(sender_email, sender_name, tactics, threat_level, frequency_count, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (sender_email) DO UPDATE SET
			frequency_count = suspects.frequency_count + 1,
			last_seen       = EXCLUDED.last_seen,
			sender_name     = CASE WHEN EXCLUDED.sender_name <> '' THEN EXCLUDED.sender_name ELSE suspects.sender_name END,
			threat_level    = CASE WHEN EXCLUDED.threat_level <> '' THEN EXCLUDED.threat_level ELSE suspects.threat_level END,
			tactics         = CASE WHEN EXCLUDED.tactics <> '[]'::jsonb THEN EXCLUDED.tactics ELSE suspects.tactics END
		RETURNING sender_name, tactics, threat_level, frequency_count, first_seen, last_seen`,
		out.SenderEmail, suspect.SenderName, tactics, string(suspect.ThreatLevel), now,
	).Scan(&out.SenderName, &tacticsRaw, &out.ThreatLevel, &out.FrequencyCount, &out.FirstSeen, &out.LastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert suspect: %w", err)
	}
	if err := json.Unmarshal(tacticsRaw, &out.Tactics); err != nil {
		return nil, fmt.Errorf("failed to decode suspect tactics: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSuspect(ctx context.Context, senderEmail string) (*Suspect, error) {
	out := &Suspect{}
	var tacticsRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT sender_email, sender_name, tactics, threat_level, frequency_count, first_seen, last_seen
		FROM suspects WHERE sender_email = $1`, strings.ToLower(senderEmail),
	).Scan(&out.SenderEmail, &out.SenderName, &tacticsRaw, &out.ThreatLevel,
		&out.FrequencyCount, &out.FirstSeen, &out.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load suspect: %w", err)
	}
	if err := json.Unmarshal(tacticsRaw, &out.Tactics); err != nil {
		return nil, fmt.Errorf("failed to decode suspect tactics: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendConversation(ctx context.Context, entry *ConversationEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_history
			(user_id, sender, subject, body_snippet, thread_id, is_reply, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.UserID, strings.ToLower(entry.Sender), entry.Subject,
		entry.BodySnippet, entry.ThreadID, entry.IsReply, ts)
	if err != nil {
		return fmt.Errorf("failed to append conversation entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConversationHistory(ctx context.Context, userID, sender string, limit int) ([]*ConversationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, sender, subject, body_snippet, thread_id, is_reply, created_at
		FROM conversation_history
		WHERE user_id = $1 AND sender = $2
		ORDER BY created_at DESC
		LIMIT $3`, userID, strings.ToLower(sender), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation history: %w", err)
	}
	defer rows.Close()

	var out []*ConversationEntry
	for rows.Next() {
		e := &ConversationEntry{}
		if err := rows.Scan(&e.UserID, &e.Sender, &e.Subject, &e.BodySnippet,
			&e.ThreadID, &e.IsReply, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan conversation entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveScan(ctx context.Context, record *scan.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode scan record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_history (scan_id, user_id, verdict, threat_level, confidence, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scan_id) DO NOTHING`,
		record.ScanID, record.UserID, string(record.Verdict), string(record.ThreatLevel),
		record.Confidence, payload, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save scan record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ScanHistory(ctx context.Context, userID string, limit, offset int) ([]*scan.Record, int, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count scan history: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT record FROM scan_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query scan history: %w", err)
	}
	defer rows.Close()

	var out []*scan.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history row: %w", err)
		}
		record := &scan.Record{}
		if err := json.Unmarshal(payload, record); err != nil {
			return nil, 0, fmt.Errorf("failed to decode scan record: %w", err)
		}
		out = append(out, record)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) Dashboard(ctx context.Context, userID string) (*DashboardStats, error) {
	stats := &DashboardStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE verdict = 'threat'),
		       COUNT(*) FILTER (WHERE verdict = 'suspicious')
		FROM scan_history WHERE user_id = $1`, userID,
	).Scan(&stats.TotalScans, &stats.Threats, &stats.Suspicious)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate dashboard: %w", err)
	}
	stats.Safe = stats.TotalScans - stats.Threats - stats.Suspicious

	recent, _, err := s.ScanHistory(ctx, userID, 10, 0)
	if err != nil {
		return nil, err
	}
	stats.RecentActivity = recent
	for _, r := range recent {
		if r.Verdict == scan.VerdictThreat && len(stats.RecentThreats) < 5 {
			stats.RecentThreats = append(stats.RecentThreats, r)
		}
	}

	if stats.TotalScans > 0 {
		stats.ThreatPercentage = float64(stats.Threats) / float64(stats.TotalScans) * 100
	}
	stats.RiskLevel = RiskBucket(stats.ThreatPercentage)
	return stats, nil
}

func (s *PostgresStore) AddTrainingSample(ctx context.Context, sample *TrainingSample) error {
	ts := sample.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO training_samples
			(email_text, predicted_label, predicted_confidence, actual_label, user_feedback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		sample.EmailText, sample.PredictedLabel, sample.PredictedConfidence,
		sample.ActualLabel, sample.UserFeedback, ts,
	).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("failed to insert training sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) TrainingStats(ctx context.Context) (*TrainingStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT actual_label, COUNT(*) FROM training_samples GROUP BY actual_label`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate training samples: %w", err)
	}
	defer rows.Close()

	stats := &TrainingStats{ByLabel: make(map[string]int)}
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan training stats: %w", err)
		}
		stats.ByLabel[label] = count
		stats.TotalSamples += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.evaluateReadiness()
	return stats, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *Document) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_documents
			WHERE user_id = $1 AND content_hash = $2 AND is_active
		)`, doc.UserID, doc.ContentHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check document dedup: %w", err)
	}
	if exists {
		return false, nil
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	ts := doc.UploadedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_documents
			(id, user_id, filename, content, content_hash, summary, is_active, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)`,
		doc.ID, doc.UserID, doc.Filename, doc.Content, doc.ContentHash, doc.Summary, ts); err != nil {
		return false, fmt.Errorf("failed to insert document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit document insert: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, userID, docID string) (*Document, error) {
	d := &Document{Active: true}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, filename, content, content_hash, summary, uploaded_at
		FROM user_documents
		WHERE id = $1 AND user_id = $2 AND is_active`, docID, userID).
		Scan(&d.ID, &d.UserID, &d.Filename, &d.Content, &d.ContentHash, &d.Summary, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]*Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, filename, content_hash, summary, uploaded_at
		FROM user_documents
		WHERE user_id = $1 AND is_active
		ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d := &Document{Active: true}
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.ContentHash, &d.Summary, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, userID, docID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_documents SET is_active = FALSE
		WHERE id = $1 AND user_id = $2 AND is_active`, docID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HealthCheck verifies connectivity and that the profile table exists.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_profiles`).Scan(&count); err != nil {
		return fmt.Errorf("user_profiles table check failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
