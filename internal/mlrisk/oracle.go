package mlrisk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Oracle returns an anomaly probability for a feature vector.
type Oracle interface {
	Predict(ctx context.Context, features []float64) (float64, error)
}

// NoopOracle is used when no model is configured; every event scores zero.
type NoopOracle struct{}

func (NoopOracle) Predict(context.Context, []float64) (float64, error) { return 0, nil }

type predictRequest struct {
	Features []float64 `json:"features"`
	Names    []string  `json:"feature_names,omitempty"`
}

type predictResponse struct {
	Probability float64 `json:"probability"`
}

// HTTPOracle posts feature vectors as JSON to a model-serving endpoint and
// reads back {"probability": p}.
type HTTPOracle struct {
	endpoint   string
	httpClient *http.Client
	names      []string
}

func NewHTTPOracle(endpoint string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPOracle{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		names:      FeatureNames(),
	}
}

func (o *HTTPOracle) Predict(ctx context.Context, features []float64) (float64, error) {
	body, err := json.Marshal(predictRequest{Features: features, Names: o.names})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("predict: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return out.Probability, nil
}
