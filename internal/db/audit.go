package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
)

var (
	// ErrQueueFull is returned when the async write queue has no room
	ErrQueueFull = errors.New("audit write queue is full")

	// ErrClientClosed is returned when writing after Close
	ErrClientClosed = errors.New("audit client is closed")
)

// MembershipEvent is one row of the membership_events audit table.
type MembershipEvent struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Activity     string    `db:"activity" json:"activity"`
	Email        string    `db:"email" json:"email"`
	Action       string    `db:"action" json:"action"`
	Participants int       `db:"participants" json:"participants"`
	OccurredAt   time.Time `db:"occurred_at" json:"occurred_at"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS membership_events (
		id TEXT PRIMARY KEY,
		activity TEXT NOT NULL,
		email TEXT NOT NULL,
		action TEXT NOT NULL,
		participants INTEGER NOT NULL,
		occurred_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_membership_events_activity ON membership_events (activity, occurred_at)`,
}

// EnsureSchema creates the audit table when it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveMembershipEvent inserts a new membership_events row.
func (c *Client) SaveMembershipEvent(ctx context.Context, e *MembershipEvent) error {
	if e == nil {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	query := c.db.Rebind(`INSERT INTO membership_events (id, activity, email, action, participants, occurred_at) VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := c.db.ExecContext(ctx, query, e.ID.String(), e.Activity, e.Email, e.Action, e.Participants, e.OccurredAt)
	return err
}

// ListMembershipEvents returns events oldest first. An empty activity lists
// every activity; limit <= 0 means no limit.
func (c *Client) ListMembershipEvents(ctx context.Context, activity string, limit int) ([]MembershipEvent, error) {
	query := `SELECT id, activity, email, action, participants, occurred_at FROM membership_events`
	var args []interface{}
	if activity != "" {
		query += ` WHERE activity = ?`
		args = append(args, activity)
	}
	query += ` ORDER BY occurred_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	events := []MembershipEvent{}
	if err := c.db.SelectContext(ctx, &events, c.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list membership events: %w", err)
	}
	return events, nil
}

// RecordChange queues a registry change for the audit log. It has the
// registry.Listener signature and never blocks.
func (c *Client) RecordChange(change registry.Change) {
	_ = c.QueueWrite(&MembershipEvent{
		Activity:     change.Activity,
		Email:        change.Email,
		Action:       string(change.Action),
		Participants: change.Participants,
		OccurredAt:   change.At.UTC(),
	}, nil)
}
