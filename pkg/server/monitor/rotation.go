// Package monitor tracks background task health for the health endpoint.
package monitor

import (
	"sync"
	"time"
)

// RotationMonitor tracks chunk rotation health and failures.
type RotationMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// RecordSuccess records a successful rotation pass.
func (rm *RotationMonitor) RecordSuccess() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastSuccess = time.Now()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors = 0
	rm.lastError = ""
}

// RecordFailure records a failed rotation pass.
func (rm *RotationMonitor) RecordFailure(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
}

// IsHealthy reports whether rotation is keeping up. Rotation runs hourly, so
// no success for three hours or more than 3 consecutive failures counts as
// unhealthy. A monitor that never attempted anything is healthy; rotation may
// legitimately be disabled.
func (rm *RotationMonitor) IsHealthy() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isHealthyLocked()
}

// RotationStatus is the health endpoint shape.
type RotationStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current rotation status for health checks.
func (rm *RotationMonitor) Status() RotationStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RotationStatus{Healthy: rm.isHealthyLocked()}

	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).String()
	}
	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}
	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}
	return status
}

func (rm *RotationMonitor) isHealthyLocked() bool {
	if rm.lastAttempt.IsZero() {
		return true
	}
	if rm.lastSuccess.IsZero() {
		return rm.consecutiveErrors <= 3
	}
	if time.Since(rm.lastSuccess) > 3*time.Hour {
		return false
	}
	return rm.consecutiveErrors <= 3
}
