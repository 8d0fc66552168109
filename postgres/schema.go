package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the outbox_events table.
//
// The partial unique index enforces cross-row token uniqueness without
// blocking null-token inserts. The (status, locked_until) index backs the
// claim subquery. The trigger rings the doorbell on every insert, so raw SQL
// inserts from user migrations wake the workers too.
const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS outbox_events (
	id                UUID PRIMARY KEY,
	idempotency_token TEXT,
	event_type        TEXT NOT NULL,
	payload           JSONB NOT NULL,
	status            TEXT NOT NULL DEFAULT 'Pending'
	                  CHECK (status IN ('Pending', 'Processing', 'Sent')),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	locked_until      TIMESTAMPTZ NOT NULL DEFAULT 'epoch'
)`

	createStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS outbox_events_status_locked_until_idx
ON outbox_events (status, locked_until)`

	createTokenIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS outbox_events_idempotency_token_idx
ON outbox_events (idempotency_token)
WHERE idempotency_token IS NOT NULL`

	createNotifyFuncSQL = `
CREATE OR REPLACE FUNCTION outbox_events_notify() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%s', NEW.id::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`

	createTriggerSQL = `
DROP TRIGGER IF EXISTS outbox_events_notify ON outbox_events;
CREATE TRIGGER outbox_events_notify
AFTER INSERT ON outbox_events
FOR EACH ROW EXECUTE FUNCTION outbox_events_notify()`
)

var channelNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EnsureSchema creates the outbox table, its indexes, and the notify trigger
// ringing channel. Idempotent; safe to run at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, channel string) error {
	if !channelNameRe.MatchString(channel) {
		return fmt.Errorf("invalid notification channel name %q", channel)
	}

	statements := []string{
		createTableSQL,
		createStatusIndexSQL,
		createTokenIndexSQL,
		fmt.Sprintf(createNotifyFuncSQL, channel),
		createTriggerSQL,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure outbox schema: %w", err)
		}
	}
	return nil
}
