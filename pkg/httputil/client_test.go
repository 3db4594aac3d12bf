package httputil

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestClientTiers(t *testing.T) {
	if Client(TierMedium) != Client(TierMedium) {
		t.Error("same tier should reuse one client")
	}
	if Client(TierFast) == Client(TierSlow) {
		t.Error("different tiers should not share a client")
	}

	tests := []struct {
		tier TimeoutTier
		want time.Duration
	}{
		{TierFast, 5 * time.Second},
		{TierMedium, 30 * time.Second},
		{TierSlow, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := Client(tt.tier).Timeout; got != tt.want {
			t.Errorf("tier %d timeout = %v, want %v", tt.tier, got, tt.want)
		}
	}

	if FastClient() != Client(TierFast) || SlowClient() != Client(TierSlow) || MediumClient() != Client(TierMedium) {
		t.Error("named accessors should return the tier clients")
	}
}

func TestReadResponseBody(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		wantLen int
	}{
		{"under the cap", "hello world", 1024, 11},
		{"truncated at the cap", strings.Repeat("x", 1000), 100, 100},
		{"zero cap applies default", "test", 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadResponseBody(strings.NewReader(tt.input), tt.maxSize)
			if err != nil {
				t.Fatalf("ReadResponseBody: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestReadErrorBodyCapped(t *testing.T) {
	huge := strings.Repeat("error details ", 100000)
	got, err := ReadErrorBody(strings.NewReader(huge))
	if err != nil {
		t.Fatalf("ReadErrorBody: %v", err)
	}
	if len(got) > 1024*1024 {
		t.Errorf("error body not capped at 1MB: %d bytes", len(got))
	}
}

type trackingReader struct {
	io.Reader
	drained bool
}

func (r *trackingReader) Read(p []byte) (n int, err error) {
	n, err = r.Reader.Read(p)
	if err == io.EOF {
		r.drained = true
	}
	return
}

func TestDrainAndClose(t *testing.T) {
	r := &trackingReader{Reader: bytes.NewReader([]byte("leftover body"))}
	DrainAndClose(io.NopCloser(r))
	if !r.drained {
		t.Error("body not fully drained")
	}

	// nil body must not panic
	DrainAndClose(nil)
}
