package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthStatus represents the health of a single dependency
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthReport is the aggregate health response
type HealthReport struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Checks    map[string]HealthStatus `json:"checks"`
}

// HealthChecker verifies dependency connectivity. Redis is optional and
// only checked when a client was provided.
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	timeout time.Duration
}

// NewHealthChecker creates a health checker. redisClient may be nil.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redisClient,
		timeout: 5 * time.Second,
	}
}

func (h *HealthChecker) checkDB(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return HealthStatus{Status: "healthy", Latency: time.Since(start).String()}
}

func (h *HealthChecker) checkRedis(ctx context.Context) HealthStatus {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return HealthStatus{Status: "unhealthy", Message: err.Error()}
	}
	return HealthStatus{Status: "healthy", Latency: time.Since(start).String()}
}

// Check runs all dependency checks concurrently and aggregates the result
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	report := HealthReport{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]HealthStatus),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(name string, status HealthStatus) {
		mu.Lock()
		defer mu.Unlock()
		report.Checks[name] = status
		if status.Status != "healthy" {
			report.Status = "unhealthy"
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		record("database", h.checkDB(ctx))
	}()

	if h.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("redis", h.checkRedis(ctx))
		}()
	}

	wg.Wait()
	return report
}

// LivenessHandler always returns 200 while the process is running
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})
}

// ReadinessHandler returns 200 only if all dependencies are healthy
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	})
}
