package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChannelDecisions is the LISTEN/NOTIFY channel carrying decision-update
// events. The payload is a DecisionEvent encoded as JSON.
const ChannelDecisions = "kiroku_decisions"

// DecisionEvent is the cross-process notification payload. Delivery is
// fire-and-forget: subscribers that connect after an event never see it
// and must re-fetch current state.
type DecisionEvent struct {
	DecisionID uuid.UUID `json:"decision_id"`
}

// Listen starts listening on the specified channel using the dedicated
// notify connection. Returns an error if none is configured.
func (db *DB) Listen(ctx context.Context, channel string) error {
	if db.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	_, err := db.notifyConn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
	if err != nil {
		return fmt.Errorf("storage: listen %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives on any listened
// channel. Returns the channel name and payload.
func (db *DB) WaitForNotification(ctx context.Context) (channel, payload string, err error) {
	if db.notifyConn == nil {
		return "", "", fmt.Errorf("storage: notify connection not configured")
	}
	notification, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return notification.Channel, notification.Payload, nil
}

// NotifyDecisionUpdated publishes a decision-update event. Uses the pool,
// not the notify connection, so any process (worker or API) can publish.
func (db *DB) NotifyDecisionUpdated(ctx context.Context, decisionID uuid.UUID) error {
	payload, err := json.Marshal(DecisionEvent{DecisionID: decisionID})
	if err != nil {
		return fmt.Errorf("storage: marshal decision event: %w", err)
	}
	if _, err := db.pool.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelDecisions, string(payload)); err != nil {
		return fmt.Errorf("storage: notify %s: %w", ChannelDecisions, err)
	}
	return nil
}
