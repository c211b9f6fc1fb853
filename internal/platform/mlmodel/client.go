// Package mlmodel is the gateway to the external probability-of-profit model.
// Predict never fails: transport errors, timeouts, bad responses and an open
// circuit breaker all degrade to domain.FallbackPrediction.
package mlmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/metrics"
	"github.com/sony/gobreaker/v2"
)

// Config holds the endpoint and breaker thresholds.
type Config struct {
	Endpoint           string
	Timeout            time.Duration
	FailureRatePercent float64
	WindowSize         int
	MinCalls           int
	CoolDown           time.Duration
	HalfOpenProbes     int
}

// DefaultConfig returns the stock gateway settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:           "http://localhost:8000/predict",
		Timeout:            2 * time.Second,
		FailureRatePercent: 50,
		WindowSize:         10,
		MinCalls:           5,
		CoolDown:           30 * time.Second,
		HalfOpenProbes:     1,
	}
}

// maxResponseBytes caps how much of a model response is read.
const maxResponseBytes = 1 << 20

type predictRequest struct {
	Features map[string]float64 `json:"features"`
}

// Client calls the model endpoint through a circuit breaker.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[domain.Prediction]
	window     *outcomeWindow
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Client. m may be nil.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		endpoint:   cfg.Endpoint,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		window:     newOutcomeWindow(cfg.WindowSize),
		metrics:    m,
		logger:     logger.With(slog.String("component", "ml_gateway")),
	}

	probes := cfg.HalfOpenProbes
	if probes < 1 {
		probes = 1
	}
	c.breaker = gobreaker.NewCircuitBreaker[domain.Prediction](gobreaker.Settings{
		Name:        "ml-model",
		MaxRequests: uint32(probes),
		Timeout:     cfg.CoolDown,
		ReadyToTrip: func(gobreaker.Counts) bool {
			rate, n := c.window.rate()
			return n >= cfg.MinCalls && rate >= cfg.FailureRatePercent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.window.reset()
			c.metrics.SetBreakerState(stateValue(to))
			c.logger.Warn("ml_gateway: circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

// Predict scores features. It always returns a usable prediction.
func (c *Client) Predict(ctx context.Context, features map[string]float64) domain.Prediction {
	pred, err := c.breaker.Execute(func() (domain.Prediction, error) {
		p, err := c.call(ctx, features)
		c.window.record(err != nil)
		return p, err
	})
	if err != nil {
		c.metrics.MLFallback()
		attrs := []any{slog.String("error", err.Error())}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			attrs = append(attrs, slog.String("breaker", c.breaker.State().String()))
		}
		c.logger.WarnContext(ctx, "ml_gateway: model unavailable, using fallback prediction", attrs...)
		return domain.FallbackPrediction()
	}
	return pred
}

// State reports the breaker state ("closed", "half-open" or "open").
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) call(ctx context.Context, features map[string]float64) (domain.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("mlmodel: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("mlmodel: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("mlmodel: execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("mlmodel: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Prediction{}, fmt.Errorf("mlmodel: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var pred domain.Prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return domain.Prediction{}, fmt.Errorf("mlmodel: decode response: %w", err)
	}
	if pred.ProbabilityOfProfit < 0 || pred.ProbabilityOfProfit > 1 {
		return domain.Prediction{}, fmt.Errorf("mlmodel: probability %.4f out of range", pred.ProbabilityOfProfit)
	}
	return pred, nil
}
