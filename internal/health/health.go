// Package health provides readiness and liveness checks for the HTTP server.
package health

import (
	"context"
	"sync"
	"time"
)

// Status of a single dependency check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check is a named dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Result of running a single check.
type Result struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// Checker runs registered dependency checks.
type Checker struct {
	mu     sync.RWMutex
	checks []Check
}

// NewChecker returns an empty checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Register adds a named probe.
func (c *Checker) Register(name string, probe func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, Check{Name: name, Probe: probe})
}

// CheckAll runs every registered probe and reports overall health.
func (c *Checker) CheckAll(ctx context.Context) (bool, []Result) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make([]Result, 0, len(checks))
	healthy := true
	for _, chk := range checks {
		start := time.Now()
		err := chk.Probe(ctx)
		r := Result{
			Name:    chk.Name,
			Status:  StatusHealthy,
			Latency: time.Since(start) / time.Millisecond,
		}
		if err != nil {
			r.Status = StatusUnhealthy
			r.Error = err.Error()
			healthy = false
		}
		results = append(results, r)
	}
	return healthy, results
}
