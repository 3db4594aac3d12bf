// Package cache stores completed scan verdicts keyed by an email
// fingerprint so repeat messages skip the pipeline entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

// ErrNotFound is returned when no fresh entry exists for a fingerprint.
var ErrNotFound = errors.New("cache: entry not found")

// Cache holds recent scan records. Implementations are safe for
// concurrent use. Lookups against an unavailable backend return an
// error and the caller proceeds with a full scan.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*scan.Record, error)
	Set(ctx context.Context, fingerprint string, record *scan.Record) error
	Close() error
}

// Fingerprint derives the cache key for an email from its sender and
// subject. Body content is deliberately excluded: tracking pixels and
// per-recipient tokens would defeat caching of otherwise identical mail.
func Fingerprint(sender, subject string) string {
	sum := sha256.Sum256([]byte(sender + "|" + subject))
	return hex.EncodeToString(sum[:16])
}
