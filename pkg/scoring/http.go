package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// ErrModelNotLoaded is returned by Health when the server runs without the
// configured model.
var ErrModelNotLoaded = errors.New("scoring: model not loaded on server")

// HTTPConfig configures an HTTPClassifier.
type HTTPConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration

	// Consecutive failures that open the breaker.
	BreakerFailures uint32
	// How long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// HTTPClassifier calls a remote model server.
type HTTPClassifier struct {
	baseURL    string
	model      string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

type predictRequest struct {
	Data        [][]float64 `json:"data"`
	ReturnProba bool        `json:"return_proba"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

// HealthResponse is the model server health payload.
type HealthResponse struct {
	Status       string   `json:"status"`
	LoadedModels []string `json:"loaded_models"`
}

// NewHTTPClassifier creates a client for cfg.BaseURL.
func NewHTTPClassifier(cfg HTTPConfig) *HTTPClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier-" + cfg.Model,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return &HTTPClassifier{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
	}
}

// Version identifies the remote model.
func (c *HTTPClassifier) Version() string { return "http/" + c.model }

// Health checks that the server is up and has the model loaded.
func (c *HTTPClassifier) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	if len(result.LoadedModels) > 0 && !slices.Contains(result.LoadedModels, c.model) {
		return &result, fmt.Errorf("%w: %s", ErrModelNotLoaded, c.model)
	}
	return &result, nil
}

// Predict sends fv to the server. While the breaker is open calls fail fast
// with gobreaker.ErrOpenState.
func (c *HTTPClassifier) Predict(ctx context.Context, fv models.FeatureVector) (float64, error) {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.predict(ctx, fv)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

func (c *HTTPClassifier) predict(ctx context.Context, fv models.FeatureVector) (float64, error) {
	body, err := json.Marshal(predictRequest{
		Data:        [][]float64{fv.Vector()},
		ReturnProba: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predict", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("predict failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if len(result.Predictions) == 0 {
		return 0, errors.New("predict response has no predictions")
	}
	return result.Predictions[0], nil
}

// HealthChecker is implemented by classifiers with a remote dependency.
type HealthChecker interface {
	Health(ctx context.Context) (*HealthResponse, error)
}

// WaitHealthy polls h with exponential backoff, giving up after attempts
// tries. It is meant for startup only.
func WaitHealthy(ctx context.Context, h HealthChecker, attempts uint) error {
	if attempts == 0 {
		attempts = 1
	}
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(func() error {
		_, err := h.Health(ctx)
		return err
	})
}
