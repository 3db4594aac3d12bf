package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

func sampleRecord() *scan.Record {
	return &scan.Record{
		ScanID:      "scan_20260115_101500_default_user_abcd1234",
		UserID:      "default_user",
		Sender:      "alert@suspicious-bank.com",
		Subject:     "Verify your account",
		Verdict:     scan.VerdictThreat,
		ThreatLevel: scan.ThreatHigh,
		Confidence:  0.95,
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("alert@suspicious-bank.com", "Verify your account")
	b := Fingerprint("alert@suspicious-bank.com", "Verify your account")
	if a != b {
		t.Errorf("same sender/subject produced different fingerprints: %s vs %s", a, b)
	}

	c := Fingerprint("alert@suspicious-bank.com", "Different subject")
	if a == c {
		t.Error("different subjects produced identical fingerprints")
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache(time.Hour, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	fp := Fingerprint("a@b.com", "hello")
	if _, err := c.Get(ctx, fp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty cache: expected ErrNotFound, got %v", err)
	}

	rec := sampleRecord()
	if err := c.Set(ctx, fp, rec); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Verdict != scan.VerdictThreat || got.ScanID != rec.ScanID {
		t.Errorf("Get returned wrong record: %+v", got)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(10*time.Millisecond, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	fp := Fingerprint("a@b.com", "hello")
	if err := c.Set(ctx, fp, sampleRecord()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(ctx, fp); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache(time.Hour, zap.NewNop())
	defer c.Close()
	ctx := context.Background()

	fp := Fingerprint("a@b.com", "hello")
	first := sampleRecord()
	second := sampleRecord()
	second.Verdict = scan.VerdictSafe
	second.Confidence = 0.5

	if err := c.Set(ctx, fp, first); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set(ctx, fp, second); err != nil {
		t.Fatalf("overwrite Set failed: %v", err)
	}

	got, err := c.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Verdict != scan.VerdictSafe {
		t.Errorf("last write should win, got verdict %s", got.Verdict)
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, srv.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer c.Close()

	fp := Fingerprint("a@b.com", "hello")
	if _, err := c.Get(ctx, fp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty cache: expected ErrNotFound, got %v", err)
	}

	rec := sampleRecord()
	if err := c.Set(ctx, fp, rec); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, fp)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Verdict != rec.Verdict || got.Confidence != rec.Confidence {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

func TestRedisCacheExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, srv.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer c.Close()

	fp := Fingerprint("a@b.com", "hello")
	if err := c.Set(ctx, fp, sampleRecord()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	srv.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, fp); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired entry: expected ErrNotFound, got %v", err)
	}
}
