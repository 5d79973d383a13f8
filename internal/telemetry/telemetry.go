// Package telemetry tracks the health of the external endpoints the
// diagnostic engine depends on: the public resolvers and the WHOIS service.
// It records aggregate success/failure counts, a latency window, and a
// consecutive-failure cooldown. It never records domains or record data.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"
)

type HealthState string

const (
	Healthy   HealthState = "healthy"
	Degraded  HealthState = "degraded"
	Unhealthy HealthState = "unhealthy"

	degradedThreshold  = 3
	unhealthyThreshold = 5
	cooldownBase       = 5 * time.Second
	cooldownMax        = 5 * time.Minute
	latencyWindowSize  = 100
)

type EndpointStats struct {
	Name            string      `json:"name"`
	State           HealthState `json:"state"`
	TotalRequests   int64       `json:"total_requests"`
	SuccessCount    int64       `json:"success_count"`
	FailureCount    int64       `json:"failure_count"`
	ConsecFailures  int         `json:"consecutive_failures"`
	LastError       string      `json:"last_error,omitempty"`
	AvgLatencyMs    float64     `json:"avg_latency_ms"`
	P95LatencyMs    float64     `json:"p95_latency_ms"`
	InCooldown      bool        `json:"in_cooldown"`
	CooldownUntil   *time.Time  `json:"cooldown_until,omitempty"`
}

type endpoint struct {
	mu             sync.RWMutex
	name           string
	totalRequests  int64
	successCount   int64
	failureCount   int64
	consecFailures int
	lastError      string
	latencies      []float64
	latencyIdx     int
	latencyFull    bool
	cooldownUntil  time.Time
}

type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*endpoint)}
}

func (r *Registry) getOrCreate(name string) *endpoint {
	r.mu.RLock()
	e, ok := r.endpoints[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.endpoints[name]; ok {
		return e
	}
	e = &endpoint{
		name:      name,
		latencies: make([]float64, latencyWindowSize),
	}
	r.endpoints[name] = e
	return e
}

func (r *Registry) RecordSuccess(name string, latency time.Duration) {
	e := r.getOrCreate(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.successCount++
	e.consecFailures = 0
	e.cooldownUntil = time.Time{}

	ms := float64(latency.Microseconds()) / 1000.0
	e.latencies[e.latencyIdx] = ms
	e.latencyIdx++
	if e.latencyIdx >= latencyWindowSize {
		e.latencyIdx = 0
		e.latencyFull = true
	}
}

func (r *Registry) RecordFailure(name, errMsg string) {
	e := r.getOrCreate(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.failureCount++
	e.consecFailures++
	e.lastError = errMsg

	if e.consecFailures >= degradedThreshold {
		backoff := time.Duration(math.Min(
			float64(cooldownBase)*math.Pow(2, float64(e.consecFailures-degradedThreshold)),
			float64(cooldownMax),
		))
		e.cooldownUntil = time.Now().Add(backoff)
	}
}

func (r *Registry) InCooldown(name string) bool {
	r.mu.RLock()
	e, ok := r.endpoints[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cooldownUntil.IsZero() {
		return false
	}
	return time.Now().Before(e.cooldownUntil)
}

func (r *Registry) GetStats(name string) EndpointStats {
	e := r.getOrCreate(name)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats()
}

func (r *Registry) AllStats() []EndpointStats {
	r.mu.RLock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	stats := make([]EndpointStats, 0, len(names))
	for _, name := range names {
		stats = append(stats, r.GetStats(name))
	}
	return stats
}

func (e *endpoint) stats() EndpointStats {
	s := EndpointStats{
		Name:           e.name,
		TotalRequests:  e.totalRequests,
		SuccessCount:   e.successCount,
		FailureCount:   e.failureCount,
		ConsecFailures: e.consecFailures,
		LastError:      e.lastError,
	}

	switch {
	case e.consecFailures >= unhealthyThreshold:
		s.State = Unhealthy
	case e.consecFailures >= degradedThreshold:
		s.State = Degraded
	default:
		s.State = Healthy
	}

	now := time.Now()
	if !e.cooldownUntil.IsZero() && now.Before(e.cooldownUntil) {
		s.InCooldown = true
		t := e.cooldownUntil
		s.CooldownUntil = &t
	}

	count := e.latencyIdx
	if e.latencyFull {
		count = latencyWindowSize
	}
	if count > 0 {
		sorted := make([]float64, count)
		copy(sorted, e.latencies[:count])
		sort.Float64s(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		s.AvgLatencyMs = sum / float64(len(sorted))
		s.P95LatencyMs = sorted[int(float64(len(sorted)-1)*0.95)]
	}

	return s
}
