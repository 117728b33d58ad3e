package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nuvion/edge-agent/pkg/media"
)

// RemoteClassifier is a thin HTTP client to an external classification
// service (a SigLIP zero-shot server or a Triton inference server sitting
// behind its own HTTP front door), grounded on
// original_source/nuvion_app/agent/triton_client.py's env-configured
// URL/model-name pattern. Implementing the model itself is explicitly out
// of scope (spec §1 Non-goals); this is only the network client to it.
type RemoteClassifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteClassifier creates a classifier posting frames to url.
func NewRemoteClassifier(url string, timeout time.Duration, logger *slog.Logger) *RemoteClassifier {
	return &RemoteClassifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type classifyRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RGB    []byte `json:"rgb"`
}

type classifyResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify implements Classifier by POSTing the frame to the configured
// external endpoint and decoding its {label, score} response.
func (c *RemoteClassifier) Classify(ctx context.Context, frame media.Frame) (ClassifyResult, error) {
	body, err := json.Marshal(classifyRequest{Width: frame.Width, Height: frame.Height, RGB: frame.RGB})
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ClassifyResult{}, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyResult{}, fmt.Errorf("classify endpoint returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ClassifyResult{}, fmt.Errorf("decode classify response: %w", err)
	}

	return ClassifyResult{Label: out.Label, Score: out.Score}, nil
}
