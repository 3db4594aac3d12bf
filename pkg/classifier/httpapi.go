package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SafeInboxAI/warden/pkg/httputil"
)

// HTTPClassifier calls an external classification service. Useful when
// the model runs on a GPU host separate from the gateway.
type HTTPClassifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClassifier points the backend at a classify endpoint. The
// service accepts {"text": ...} and answers {"label": ..., "confidence": ...}.
func NewHTTPClassifier(endpoint string) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: endpoint,
		client:   httputil.Client(httputil.TierMedium),
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classify request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("classify service returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := httputil.ReadResponseBody(resp.Body, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("failed to read classify response: %w", err)
	}

	var out classifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse classify response: %w", err)
	}

	label := canonicalLabel(out.Label)
	version := out.Model
	if version == "" {
		version = c.endpoint
	}
	return &Result{
		Label:      label,
		Confidence: out.Confidence,
		Probabilities: map[string]float64{
			label:         out.Confidence,
			otherOf(label): 1 - out.Confidence,
		},
		ModelVersion: version,
	}, nil
}

func (c *HTTPClassifier) IsReady() bool { return c.endpoint != "" }

func (c *HTTPClassifier) Close() error { return nil }
