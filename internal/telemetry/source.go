package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reading is one raw, unclamped sample from a Source.
type Reading struct {
	CPU            float64
	Memory         float64
	Disk           float64
	NetworkLatency time.Duration
}

// Source reads host resource usage.
type Source interface {
	Read(ctx context.Context) (Reading, error)
}

// HTTPSource polls a JSON metrics endpoint.
type HTTPSource struct {
	client   *resty.Client
	endpoint string
}

type metricsResponse struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskPercent      float64 `json:"disk_percent"`
	NetworkLatencyMs float64 `json:"network_latency_ms"`
	Error            string  `json:"error,omitempty"`
}

// NewHTTPSource creates an HTTPSource for endpoint with a per-request timeout.
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	client := resty.New()
	client.SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPSource{client: client, endpoint: endpoint}
}

// Read fetches one reading.
func (s *HTTPSource) Read(ctx context.Context) (Reading, error) {
	var resp metricsResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetResult(&resp).
		SetError(&resp).
		Get(s.endpoint)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to call metrics endpoint: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != "" {
			return Reading{}, fmt.Errorf("metrics endpoint error: %s", resp.Error)
		}
		return Reading{}, fmt.Errorf("metrics endpoint error: status %d", httpResp.StatusCode())
	}

	return Reading{
		CPU:            resp.CPUPercent,
		Memory:         resp.MemoryPercent,
		Disk:           resp.DiskPercent,
		NetworkLatency: time.Duration(resp.NetworkLatencyMs * float64(time.Millisecond)),
	}, nil
}

// StaticSource returns a fixed reading. Set replaces it.
type StaticSource struct {
	mu      sync.Mutex
	reading Reading
	err     error
}

// NewStaticSource creates a StaticSource returning r.
func NewStaticSource(r Reading) *StaticSource {
	return &StaticSource{reading: r}
}

// Set replaces the reading and error returned by Read.
func (s *StaticSource) Set(r Reading, err error) {
	s.mu.Lock()
	s.reading, s.err = r, err
	s.mu.Unlock()
}

func (s *StaticSource) Read(_ context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, s.err
}
