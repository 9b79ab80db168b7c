// Package health aggregates component checks into the daemon's liveness and
// readiness report.
//
// Checks run concurrently, each bounded by a timeout and shielded from
// panics. A failing critical check makes the daemon unhealthy; a failing
// optional one only degrades it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one check.
type Result struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check performs one health check.
type Check func(ctx context.Context) Result

type component struct {
	name     string
	critical bool
	check    Check
}

// Checker runs the registered checks.
type Checker struct {
	timeout time.Duration
	started time.Time
	ready   atomic.Bool

	mu         sync.RWMutex
	components []component
}

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// NewChecker returns a Checker applying timeout to every check. Zero means
// DefaultTimeout. The checker starts out not ready.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{timeout: timeout, started: time.Now()}
}

// Register adds a check. Registering a name again replaces the check.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.components {
		if c.components[i].name == name {
			c.components[i] = component{name, critical, check}
			return
		}
	}
	c.components = append(c.components, component{name, critical, check})
}

// SetReady flips the readiness flag.
func (c *Checker) SetReady(ready bool) { c.ready.Store(ready) }

// IsReady returns the readiness flag.
func (c *Checker) IsReady() bool { return c.ready.Load() }

// Report is the aggregated result.
type Report struct {
	Status     Status            `json:"status"`
	Ready      bool              `json:"ready"`
	Uptime     string            `json:"uptime"`
	Components map[string]Result `json:"components,omitempty"`
}

// Run executes every check and aggregates the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	components := append([]component(nil), c.components...)
	c.mu.RUnlock()

	results := make([]Result, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, comp.check)
		}()
	}
	wg.Wait()

	report := Report{
		Ready:      c.IsReady(),
		Uptime:     time.Since(c.started).Truncate(time.Second).String(),
		Components: make(map[string]Result, len(components)),
	}
	status := StatusHealthy
	for i, comp := range components {
		r := results[i]
		report.Components[comp.name] = r
		switch {
		case r.Status == StatusUnhealthy && comp.critical:
			status = StatusUnhealthy
		case r.Status == StatusUnknown && comp.critical && status != StatusUnhealthy:
			status = StatusUnknown
		case r.Status != StatusHealthy && status == StatusHealthy:
			status = StatusDegraded
		}
	}
	report.Status = status
	return report
}

func (c *Checker) run(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- check(ctx)
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Result{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	r.Duration = time.Since(start)
	return r
}

// Handler serves the report as JSON. It answers 503 while the checker is
// not ready or a critical check fails.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if !report.Ready || report.Status == StatusUnhealthy || report.Status == StatusUnknown {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(report)
	})
}

// Ping turns a connectivity test, such as sql.DB.PingContext, into a
// check.
func Ping(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return Result{Status: StatusHealthy}
	}
}
