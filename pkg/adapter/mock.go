package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// Default tuning for MockAdapter.
const (
	defaultLatencyMS                = 150.0
	defaultLatencyJitterMS          = 100.0
	defaultRateLimitProbability     = 0.05
	defaultProviderErrorProbability = 0.02
)

// MockAdapter simulates a real vendor for local development and CI. Its
// random number generator is per-instance, never shared or global, so
// failure injection never leaks into scheduler decisions.
type MockAdapter struct {
	rng                      *rand.Rand
	latencyMS                float64
	latencyJitterMS          float64
	rateLimitProbability     float64
	providerErrorProbability float64
	costModel                CostModel
}

// NewMockAdapter builds a MockAdapter from a config map, the same shape
// Factory.Create assembles from ADAPTER_MOCK_* environment variables.
func NewMockAdapter(config map[string]string) *MockAdapter {
	m := &MockAdapter{
		rng:                      rand.New(rand.NewSource(time.Now().UnixNano())),
		latencyMS:                defaultLatencyMS,
		latencyJitterMS:          defaultLatencyJitterMS,
		rateLimitProbability:     defaultRateLimitProbability,
		providerErrorProbability: defaultProviderErrorProbability,
		costModel: CostModel{
			Model:    "per_request",
			UnitCost: 0,
			Currency: "USD",
			Notes:    "Mock adapter incurs no real cost.",
		},
	}

	if v, ok := config["latency_ms"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.latencyMS = f
		}
	}
	if v, ok := config["latency_jitter_ms"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.latencyJitterMS = f
		}
	}
	if v, ok := config["success_rate"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			failureRate := 1 - f
			m.rateLimitProbability = failureRate * 0.7
			m.providerErrorProbability = failureRate * 0.3
		}
	}
	if v, ok := config["unit_cost"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m.costModel.UnitCost = f
		}
	}
	if v, ok := config["currency"]; ok {
		m.costModel.Currency = v
	}

	return m
}

func (m *MockAdapter) simulateLatency(ctx context.Context) {
	jitter := (m.rng.Float64()*2 - 1) * m.latencyJitterMS
	totalMS := m.latencyMS + jitter
	if totalMS < 0 {
		totalMS = 0
	}
	select {
	case <-time.After(time.Duration(totalMS) * time.Millisecond):
	case <-ctx.Done():
	}
}

func (m *MockAdapter) maybeFail() error {
	roll := m.rng.Float64()
	if roll < m.rateLimitProbability {
		return NewQuotaExceededError("rate limit encountered during mock request")
	}
	if roll < m.rateLimitProbability+m.providerErrorProbability {
		return NewResourceUnavailableError("provider error encountered during mock request")
	}
	return nil
}

func (m *MockAdapter) Acquire(ctx context.Context, specs map[string]any) (ResourcePayload, error) {
	m.simulateLatency(ctx)
	if err := m.maybeFail(); err != nil {
		return ResourcePayload{}, err
	}

	assetID := ""
	if v, ok := specs["asset_id"]; ok {
		assetID = fmt.Sprintf("%v", v)
	} else {
		assetID = strconv.Itoa(m.rng.Intn(1_000_000) + 1)
	}

	return ResourcePayload{
		AssetID: assetID,
		Credentials: map[string]any{
			"token":    fmt.Sprintf("mock-token-%d", m.rng.Intn(9000)+1000),
			"endpoint": "https://mock.vendor.local",
		},
		Metadata: map[string]any{"specs": specs},
	}, nil
}

func (m *MockAdapter) Release(ctx context.Context, assetID string) (bool, error) {
	m.simulateLatency(ctx)
	if err := m.maybeFail(); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MockAdapter) CheckHealth(ctx context.Context, assetID string) (HealthStatus, error) {
	m.simulateLatency(ctx)
	if err := m.maybeFail(); err != nil {
		return HealthStatus{}, err
	}
	return HealthStatus{
		AssetID:   assetID,
		Status:    HealthHealthy,
		CheckedAt: time.Now().UTC(),
	}, nil
}

func (m *MockAdapter) CostModel() CostModel {
	return m.costModel
}
