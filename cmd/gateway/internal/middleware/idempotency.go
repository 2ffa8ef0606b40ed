package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/circuitbreaker"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
)

// IdempotencyMiddleware replays the first successful response for a repeated
// Idempotency-Key on mutating requests.
type IdempotencyMiddleware struct {
	redis   redis.UniversalClient
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
	ttl     time.Duration
	// inFlightTTL bounds how long a crashed request can hold its key
	inFlightTTL time.Duration
}

// NewIdempotencyMiddleware creates a new idempotency middleware
func NewIdempotencyMiddleware(client redis.UniversalClient, logger *zap.Logger) *IdempotencyMiddleware {
	settings := circuitbreaker.DefaultSettings()
	// a cache miss is an answer, not an outage
	settings.IsFailure = func(err error) bool { return !errors.Is(err, redis.Nil) }
	return &IdempotencyMiddleware{
		redis:   client,
		breaker: circuitbreaker.New("idempotency_cache", settings, logger),
		logger:  logger,
		ttl:     24 * time.Hour,

		inFlightTTL: 30 * time.Second,
	}
}

// WithTTL overrides how long cached responses are kept
func (im *IdempotencyMiddleware) WithTTL(ttl time.Duration) *IdempotencyMiddleware {
	im.ttl = ttl
	return im
}

// IdempotencyResult stores the cached result of an idempotent request
type IdempotencyResult struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
}

// Middleware returns the HTTP middleware function
func (im *IdempotencyMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}
		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" || im.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		cacheKey := im.generateCacheKey(r, idempotencyKey)

		cached, err := im.getCachedResult(ctx, cacheKey)
		switch {
		case err == nil:
			metrics.IdempotencyHits.Inc()
			im.logger.Debug("Returning cached idempotent response",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("path", r.URL.Path),
			)
			if cached.ContentType != "" {
				w.Header().Set("Content-Type", cached.ContentType)
			}
			w.Header().Set("X-Idempotency-Cached", "true")
			w.Header().Set("X-Idempotency-Key", idempotencyKey)
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
			im.logger.Debug("Idempotency cache bypassed", zap.Error(err))
		case !errors.Is(err, redis.Nil):
			// cache unavailable: serve the request uncached
			im.logger.Warn("Idempotency cache lookup failed",
				zap.String("idempotency_key", idempotencyKey),
				zap.Error(err),
			)
		}

		acquired, err := im.acquireInFlight(ctx, cacheKey)
		switch {
		case err != nil:
			im.logger.Debug("Idempotency in-flight marker unavailable", zap.Error(err))
		case !acquired:
			im.logger.Debug("Idempotent request already in progress",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"detail":"A request with this Idempotency-Key is already in progress"}` + "\n"))
			return
		default:
			// released after the result is cached so a retry sees either the
			// marker or the cached response
			defer im.releaseInFlight(ctx, cacheKey)
		}

		recorder := newResponseRecorder(w, true)
		next.ServeHTTP(recorder, r)

		// Only cache successful responses (2xx)
		if recorder.statusCode < 200 || recorder.statusCode >= 300 {
			return
		}
		result := &IdempotencyResult{
			StatusCode:  recorder.statusCode,
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.body.Bytes(),
			Timestamp:   time.Now(),
		}
		if err := im.cacheResult(ctx, cacheKey, result); err != nil {
			im.logger.Error("Failed to cache idempotent response",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			return
		}
		im.logger.Debug("Cached idempotent response",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", recorder.statusCode),
		)
	})
}

// generateCacheKey scopes the key to the method, path and query so one key
// cannot replay a response for a different activity or email.
func (im *IdempotencyMiddleware) generateCacheKey(r *http.Request, idempotencyKey string) string {
	h := sha256.New()
	h.Write([]byte(idempotencyKey))
	h.Write([]byte{0})
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.RawQuery))

	hash := hex.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("idempotency:%s", hash[:32])
}

func inFlightKey(cacheKey string) string {
	return cacheKey + ":inflight"
}

// acquireInFlight marks cacheKey as being processed. It reports false when
// another request holds the marker.
func (im *IdempotencyMiddleware) acquireInFlight(ctx context.Context, cacheKey string) (bool, error) {
	var acquired bool
	err := im.breaker.Do(func() error {
		var err error
		acquired, err = im.redis.SetNX(ctx, inFlightKey(cacheKey), "1", im.inFlightTTL).Result()
		return err
	})
	return acquired, err
}

func (im *IdempotencyMiddleware) releaseInFlight(ctx context.Context, cacheKey string) {
	err := im.breaker.Do(func() error {
		return im.redis.Del(context.WithoutCancel(ctx), inFlightKey(cacheKey)).Err()
	})
	if err != nil {
		im.logger.Warn("Failed to release idempotency in-flight marker", zap.Error(err))
	}
}

func (im *IdempotencyMiddleware) getCachedResult(ctx context.Context, key string) (*IdempotencyResult, error) {
	var data []byte
	err := im.breaker.Do(func() error {
		var err error
		data, err = im.redis.Get(ctx, key).Bytes()
		return err
	})
	if err != nil {
		return nil, err
	}
	var result IdempotencyResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (im *IdempotencyMiddleware) cacheResult(ctx context.Context, key string, result *IdempotencyResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return im.breaker.Do(func() error {
		return im.redis.Set(ctx, key, data, im.ttl).Err()
	})
}
