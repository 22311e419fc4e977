package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Overall states reported by /components and /ready
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the component endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
	// Since is when the component last changed between healthy and unhealthy
	Since time.Time
}

// HealthChecker holds the components of this process. A component listed as
// critical makes the process unhealthy and not ready when it fails; any other
// failing component only degrades it.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
	critical   []string
}

var healthChecker = newHealthChecker("storage")

func newHealthChecker(critical ...string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		critical:   critical,
	}
}

// SetCriticalComponents replaces the components that must be healthy before
// the process reports ready
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = append([]string(nil), names...)
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	now := time.Now()
	comp := ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: now,
		Since:   now,
	}
	if prev, ok := healthChecker.components[name]; ok && prev.Healthy == healthy {
		comp.Since = prev.Since
	}
	healthChecker.components[name] = comp
}

// UpdateComponent is RegisterComponent for components already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// Component returns the last recorded state of name
func Component(name string) (ComponentHealth, bool) {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()
	comp, ok := healthChecker.components[name]
	return comp, ok
}

func (hc *HealthChecker) isCritical(name string) bool {
	for _, c := range hc.critical {
		if c == name {
			return true
		}
	}
	return false
}

// status fills the fields every response shares; callers hold mu
func (hc *HealthChecker) status(state, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     state,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).String(),
		StartTime:  hc.startTime,
	}
}

// GetHealth returns the state of every component
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	state := StatusHealthy
	var failing []string
	components := make(map[string]string, len(healthChecker.components))

	for name, comp := range healthChecker.components {
		if comp.Healthy {
			components[name] = StatusHealthy
			continue
		}
		components[name] = StatusUnhealthy + ": " + comp.Message
		failing = append(failing, name)
		if healthChecker.isCritical(name) {
			state = StatusUnhealthy
		} else if state == StatusHealthy {
			state = StatusDegraded
		}
	}

	message := ""
	if len(failing) > 0 {
		sort.Strings(failing)
		message = "failing: " + strings.Join(failing, ", ")
	}
	return healthChecker.status(state, message, components)
}

// GetReadiness reports whether every critical component is registered and healthy
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	state := StatusReady
	message := ""
	components := make(map[string]string, len(healthChecker.critical))

	for _, name := range healthChecker.critical {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			state = StatusNotReady
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			state = StatusNotReady
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = StatusReady
		}
	}

	return healthChecker.status(state, message, components)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler serves GetHealth. A degraded process still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves GetReadiness
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler answers 200 for as long as the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
