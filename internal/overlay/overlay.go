// Package overlay is the consumed contract for reaching peers over the
// anonymized overlay transport (spec.md §6): a narrow HTTP client
// against a fixed set of peer-side endpoints. The concrete transport
// (SOCKS-proxied HTTP) is a collaborator's concern; this package only
// shapes the calls and their timeouts.
package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PeerRecord mirrors the shape returned by a peer's /api/peers endpoint.
type PeerRecord struct {
	NodeID         string   `json:"node_id"`
	OverlayAddress string   `json:"overlay_address"`
	Port           int      `json:"port"`
	Role           string   `json:"role"`
	Capabilities   []string `json:"capabilities"`
}

// HealthMetrics mirrors a peer's /health/metrics response, consumed by
// the Shard Manager's health check loop.
type HealthMetrics struct {
	ResponseTimeMS float64 `json:"response_time_ms"`
	UptimePercent  float64 `json:"uptime_percent"`
	Throughput     float64 `json:"throughput"`
	ErrorRate      float64 `json:"error_rate"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	LatencyMS      float64 `json:"latency_ms"`
}

// Client is the narrow set of overlay operations the core consumes.
type Client interface {
	Health(ctx context.Context, overlayAddress string, port int) error
	HealthMetrics(ctx context.Context, overlayAddress string, port int) (HealthMetrics, error)
	Peers(ctx context.Context, overlayAddress string, port int) ([]PeerRecord, error)
	RegistrationPing(ctx context.Context, overlayAddress string, port int, token string) (string, error)
	StorageVerify(ctx context.Context, overlayAddress string, port int, shardID string) (string, error)
}

// HTTPClient is the production Client, speaking JSON over plain HTTP.
// In production this http.Client's Transport is expected to dial
// through a SOCKS proxy reaching .onion-style addresses; that wiring
// is a deployment concern, not this package's.
type HTTPClient struct {
	health       *http.Client
	peerList     *http.Client
}

// NewHTTPClient builds a Client with the fixed per-call-kind timeouts
// named in spec.md §6: 10s for Health, HealthMetrics and
// RegistrationPing; 15s for Peers and StorageVerify.
func NewHTTPClient() *HTTPClient {
	return &HTTPClient{
		health:   &http.Client{Timeout: 10 * time.Second},
		peerList: &http.Client{Timeout: 15 * time.Second},
	}
}

func baseURL(overlayAddress string, port int) string {
	return fmt.Sprintf("http://%s:%d", overlayAddress, port)
}

func (c *HTTPClient) Health(ctx context.Context, overlayAddress string, port int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(overlayAddress, port)+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("overlay health: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) HealthMetrics(ctx context.Context, overlayAddress string, port int) (HealthMetrics, error) {
	var metrics HealthMetrics
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(overlayAddress, port)+"/health/metrics", nil)
	if err != nil {
		return metrics, err
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return metrics, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return metrics, fmt.Errorf("overlay health metrics: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&metrics); err != nil {
		return metrics, fmt.Errorf("decode health metrics: %w", err)
	}
	return metrics, nil
}

func (c *HTTPClient) Peers(ctx context.Context, overlayAddress string, port int) ([]PeerRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(overlayAddress, port)+"/api/peers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.peerList.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overlay peers: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Peers []PeerRecord `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode peers: %w", err)
	}
	return body.Peers, nil
}

func (c *HTTPClient) RegistrationPing(ctx context.Context, overlayAddress string, port int, token string) (string, error) {
	url := fmt.Sprintf("%s/registration/ping?token=%s", baseURL(overlayAddress, port), token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registration ping: unexpected status %d", resp.StatusCode)
	}
	return string(bytes.TrimSpace(body)), nil
}

func (c *HTTPClient) StorageVerify(ctx context.Context, overlayAddress string, port int, shardID string) (string, error) {
	url := fmt.Sprintf("%s/storage/verify/%s", baseURL(overlayAddress, port), shardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.peerList.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage verify: unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode storage verify: %w", err)
	}
	return body.Hash, nil
}
