// Package httputil provides the shared HTTP plumbing for Warden's
// external collaborators: pooled clients bucketed by timeout tier and
// size-capped response reading.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps response body reads. Classifier and reasoning
// services should never produce more.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// All clients share one transport so TCP connections are reused across
// classifier, reasoning, and embedding calls.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier buckets outbound calls by how long they may run.
type TimeoutTier int

const (
	// TierFast covers health checks and other trivial round trips (5s).
	TierFast TimeoutTier = iota
	// TierMedium covers classifier and embedding calls (30s).
	TierMedium
	// TierSlow covers reasoning-provider calls (60s).
	TierSlow
)

var tierTimeouts = map[TimeoutTier]time.Duration{
	TierFast:   5 * time.Second,
	TierMedium: 30 * time.Second,
	TierSlow:   60 * time.Second,
}

var (
	clientFast   *http.Client
	clientMedium *http.Client
	clientSlow   *http.Client
	clientOnce   sync.Once
)

func initClients() {
	clientFast = &http.Client{Timeout: tierTimeouts[TierFast], Transport: sharedTransport}
	clientMedium = &http.Client{Timeout: tierTimeouts[TierMedium], Transport: sharedTransport}
	clientSlow = &http.Client{Timeout: tierTimeouts[TierSlow], Transport: sharedTransport}
}

// Client returns the shared client for a timeout tier. Callers must not
// mutate the returned client; it is reused process-wide.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierFast:
		return clientFast
	case TierSlow:
		return clientSlow
	default:
		return clientMedium
	}
}

// FastClient returns the 5s-timeout client.
func FastClient() *http.Client { return Client(TierFast) }

// MediumClient returns the 30s-timeout client.
func MediumClient() *http.Client { return Client(TierMedium) }

// SlowClient returns the 60s-timeout client.
func SlowClient() *http.Client { return Client(TierSlow) }

// ReadResponseBody reads a response body with a size cap. A maxSize of
// zero or less applies MaxResponseSize.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads an error response with a tighter 1MB cap.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
