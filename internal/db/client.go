package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration

	// Workers and QueueSize size the async write pool
	Workers   int
	QueueSize int
}

// Client manages the audit database connection and its async write queue
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger

	// Write queue for async operations
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	closeOnce  sync.Once
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Event    *MembershipEvent
	Callback func(error)
}

// NewClient opens a Postgres connection pool, pings it and starts the write workers
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 10
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 2
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.IdleConnections)
	db.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := NewClientFromDB(db, logger, config.Workers, config.QueueSize)
	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)
	return client, nil
}

// NewClientFromDB wraps an existing connection and starts the write workers
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger, workers, queueSize int) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	c := &Client{
		db:         db,
		logger:     logger,
		writeQueue: make(chan WriteRequest, queueSize),
		workers:    workers,
		stopCh:     make(chan struct{}),
	}
	c.startWorkers()
	return c
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.SaveMembershipEvent(ctx, req.Event)
	if err != nil {
		metrics.AuditWrites.WithLabelValues("error").Inc()
		c.logger.Error("Failed to write membership event",
			zap.String("activity", req.Event.Activity),
			zap.String("action", req.Event.Action),
			zap.Error(err),
		)
	} else {
		metrics.AuditWrites.WithLabelValues("success").Inc()
	}
	if req.Callback != nil {
		req.Callback(err)
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueWrite enqueues an event without blocking. A full queue drops the event,
// since callers run on the request path.
func (c *Client) QueueWrite(event *MembershipEvent, callback func(error)) error {
	select {
	case <-c.stopCh:
		return ErrClientClosed
	default:
	}

	select {
	case c.writeQueue <- WriteRequest{Event: event, Callback: callback}:
		return nil
	default:
		metrics.AuditQueueDropped.Inc()
		c.logger.Warn("Write queue is full, dropping membership event",
			zap.String("activity", event.Activity),
			zap.String("action", event.Action),
		)
		return ErrQueueFull
	}
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping verifies the connection is alive
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close stops the workers after draining the queue and closes the pool
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Shutting down database client")
		close(c.stopCh)
		c.workerWg.Wait()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close database: %w", cerr)
			return
		}
		c.logger.Info("Database client closed")
	})
	return err
}

// GetDB returns the underlying connection for direct queries
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}
