package health

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ActivityCounter is the part of the registry the registry checker needs
type ActivityCounter interface {
	Names() []string
}

// RegistryHealthChecker reports unhealthy when no activities are loaded
type RegistryHealthChecker struct {
	registry ActivityCounter
	timeout  time.Duration
}

// NewRegistryHealthChecker creates a registry health checker
func NewRegistryHealthChecker(registry ActivityCounter) *RegistryHealthChecker {
	return &RegistryHealthChecker{registry: registry, timeout: time.Second}
}

func (r *RegistryHealthChecker) Name() string           { return "registry" }
func (r *RegistryHealthChecker) IsCritical() bool       { return true }
func (r *RegistryHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RegistryHealthChecker) Check(ctx context.Context) CheckResult {
	n := len(r.registry.Names())
	result := CheckResult{
		Details: map[string]interface{}{"activities": n},
	}
	if n == 0 {
		result.Status = StatusUnhealthy
		result.Message = "No activities loaded"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "Registry healthy"
	return result
}

// RedisHealthChecker checks Redis connectivity. Redis only backs the
// idempotency cache, so a failure degrades the service rather than failing it.
type RedisHealthChecker struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{
		client:  client,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return false }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	latency := time.Since(start)

	result := CheckResult{
		Details: map[string]interface{}{"latency_ms": latency.Milliseconds()},
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}
	if latency > 100*time.Millisecond {
		result.Status = StatusDegraded
		result.Message = "Redis responding but with high latency"
		return result
	}
	result.Status = StatusHealthy
	result.Message = "Redis healthy"
	return result
}

// DatabaseHealthChecker checks the audit database
type DatabaseHealthChecker struct {
	db      *sqlx.DB
	logger  *zap.Logger
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker
func NewDatabaseHealthChecker(db *sqlx.DB, logger *zap.Logger) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		db:      db,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return false }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := d.db.PingContext(ctx)
	latency := time.Since(start)

	result := CheckResult{}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Database ping failed"
		result.Details = map[string]interface{}{"latency_ms": latency.Milliseconds()}
		return result
	}

	stats := d.db.Stats()
	switch {
	case stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections:
		result.Status = StatusDegraded
		result.Message = "Database connection pool exhausted"
	case latency > 100*time.Millisecond:
		result.Status = StatusDegraded
		result.Message = "Database responding but with high latency"
	default:
		result.Status = StatusHealthy
		result.Message = "Database healthy"
	}
	result.Details = map[string]interface{}{
		"latency_ms":           latency.Milliseconds(),
		"open_connections":     stats.OpenConnections,
		"max_open_connections": stats.MaxOpenConnections,
		"in_use_connections":   stats.InUse,
	}
	return result
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{
		name:     name,
		critical: critical,
		timeout:  timeout,
		checkFn:  checkFn,
	}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
