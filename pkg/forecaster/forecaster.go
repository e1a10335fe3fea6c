// Package forecaster calls the AQI forecasting model served over the
// TensorFlow Serving REST API
package forecaster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// ErrUnavailable is returned while the circuit breaker rejects calls
var ErrUnavailable = errors.New("forecast model unavailable")

// Model maps standardized input windows to one standardized output each
type Model interface {
	Predict(ctx context.Context, windows [][]float64) ([]float64, error)
}

// Config holds model server settings
type Config struct {
	ServingURL       string
	Name             string
	Timeout          time.Duration
	FailureThreshold int
	BreakerTimeout   time.Duration
}

// TFServingModel is a Model backed by a TensorFlow Serving instance
type TFServingModel struct {
	config  Config
	client  *http.Client
	cb      *gobreaker.CircuitBreaker[[]float64]
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

type predictRequest struct {
	Instances [][][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions json.RawMessage `json:"predictions"`
	Error       string          `json:"error,omitempty"`
}

type modelStatus struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

// NewTFServingModel creates a client for cfg. No request is made until Load
// or Predict.
func NewTFServingModel(cfg Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TFServingModel {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}

	m := &TFServingModel{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		metrics: metricsCollector,
	}

	m.cb = gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        "forecast-model",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "[MODEL_BREAKER] State transition", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return m
}

func (m *TFServingModel) modelURL() string {
	return strings.TrimRight(m.config.ServingURL, "/") + "/v1/models/" + m.config.Name
}

// Load checks that the model server has an available version of the model
func (m *TFServingModel) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.modelURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build model status request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model status returned %d", resp.StatusCode)
	}

	var status modelStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode model status: %w", err)
	}

	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			m.logger.Info(ctx, "[MODEL_LOADED] Forecast model available", logging.Fields{
				"model":   m.config.Name,
				"version": v.Version,
			})
			return nil
		}
	}
	return fmt.Errorf("model %s has no available version", m.config.Name)
}

// Predict sends windows as (N, len, 1) instances and returns one value per window
func (m *TFServingModel) Predict(ctx context.Context, windows [][]float64) ([]float64, error) {
	if len(windows) == 0 {
		return []float64{}, nil
	}

	timer := m.metrics.NewTimer(m.metrics.InferenceDuration)
	defer timer.ObserveDuration()
	m.metrics.InferenceWindowsTotal.Add(float64(len(windows)))

	out, err := m.cb.Execute(func() ([]float64, error) {
		return m.predict(ctx, windows)
	})
	if err != nil {
		m.metrics.InferenceFailuresTotal.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return out, nil
}

func (m *TFServingModel) predict(ctx context.Context, windows [][]float64) ([]float64, error) {
	instances := make([][][]float64, len(windows))
	for i, w := range windows {
		steps := make([][]float64, len(w))
		for j, x := range w {
			steps[j] = []float64{x}
		}
		instances[i] = steps
	}

	payload, err := json.Marshal(predictRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.modelURL()+":predict", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read predict response: %w", err)
	}

	var parsed predictResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server returned %d: %s", resp.StatusCode, parsed.Error)
	}

	out, err := parsePredictions(parsed.Predictions)
	if err != nil {
		return nil, err
	}
	if len(out) != len(windows) {
		return nil, fmt.Errorf("model returned %d predictions for %d windows", len(out), len(windows))
	}
	return out, nil
}

// parsePredictions accepts both (N, 1) and (N,) output shapes
func parsePredictions(raw json.RawMessage) ([]float64, error) {
	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("unexpected predictions shape: %w", err)
	}

	out := make([]float64, len(nested))
	for i, row := range nested {
		if len(row) == 0 {
			return nil, fmt.Errorf("empty prediction row at index %d", i)
		}
		out[i] = row[0]
	}
	return out, nil
}
