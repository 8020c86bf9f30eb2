// Package health aggregates the terminal's component checks
package health

import (
	"sort"
	"sync"

	"copytrader/internal/core"
)

const (
	StatusHealthy   = "Healthy"
	unhealthyPrefix = "Unhealthy: "
	degradedPrefix  = "Degraded: "
)

type check struct {
	fn       func() error
	critical bool
}

// HealthManager aggregates health status from different components.
// Critical checks decide IsHealthy, informational ones only show up in
// GetStatus.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]check
}

var _ core.IHealthMonitor = (*HealthManager)(nil)

// NewHealthManager creates a new health manager. logger may be nil.
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{checks: make(map[string]check)}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a critical check for a component
func (hm *HealthManager) Register(component string, fn func() error) {
	hm.register(component, fn, true)
}

// RegisterInfo adds a check that is reported but never fails the terminal
func (hm *HealthManager) RegisterInfo(component string, fn func() error) {
	hm.register(component, fn, false)
}

func (hm *HealthManager) register(component string, fn func() error, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check{fn: fn, critical: critical}
}

// Components returns the registered component names, sorted
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for name := range hm.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus runs every check and returns its verdict per component
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string, len(hm.checks))
	for component, c := range hm.checks {
		err := c.fn()
		switch {
		case err == nil:
			status[component] = StatusHealthy
		case c.critical:
			status[component] = unhealthyPrefix + err.Error()
		default:
			status[component] = degradedPrefix + err.Error()
		}
	}
	return status
}

// IsHealthy returns true if all critical components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for component, c := range hm.checks {
		if !c.critical {
			continue
		}
		if err := c.fn(); err != nil {
			if hm.logger != nil {
				hm.logger.Debug("Health check failed", "check", component, "error", err)
			}
			return false
		}
	}
	return true
}
