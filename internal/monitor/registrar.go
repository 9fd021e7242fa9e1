// Package monitor announces the server to the fleet monitor.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Registration is the body posted to the monitor.
type Registration struct {
	SystemName  string `json:"systemName"`
	Host        string `json:"host"`
	CommandPort int    `json:"commandPort"`
	WebPort     int    `json:"webPort"`
	PID         int    `json:"pid"`
	Version     string `json:"version"`
}

// Registrar performs one best-effort registration.
type Registrar struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewRegistrar creates a registrar posting to url.
func NewRegistrar(url string, timeout time.Duration, logger *zap.Logger) *Registrar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registrar{
		url:     url,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger.Named("monitor"),
	}
}

// NewRegistration fills in the host name and process id.
func NewRegistration(systemName string, commandPort, webPort int, version string) Registration {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return Registration{
		SystemName:  systemName,
		Host:        host,
		CommandPort: commandPort,
		WebPort:     webPort,
		PID:         os.Getpid(),
		Version:     version,
	}
}

// Register posts reg once. Failures are returned for tests and logging but
// are never retried.
func (r *Registrar) Register(ctx context.Context, reg Registration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach monitor: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("monitor rejected registration with status %d", resp.StatusCode)
	}
	return nil
}

// Run registers once and logs the outcome. It never fails, so it can run as
// a supervised task without bringing the server down.
func (r *Registrar) Run(ctx context.Context, reg Registration) error {
	if err := r.Register(ctx, reg); err != nil {
		r.logger.Warn("Monitor registration failed", zap.String("url", r.url), zap.Error(err))
		return nil
	}
	r.logger.Info("Registered with monitor", zap.String("url", r.url), zap.String("system", reg.SystemName))
	return nil
}
