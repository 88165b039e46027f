package store

// schema is shared by SQLite and PostgreSQL; it only uses types and clauses
// both accept.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		branch_id         TEXT NOT NULL,
		provider          TEXT NOT NULL,
		external_order_id TEXT NOT NULL,
		status            TEXT NOT NULL,
		order_json        TEXT NOT NULL,
		created_at        BIGINT NOT NULL,
		updated_at        BIGINT NOT NULL,
		UNIQUE (tenant_id, provider, external_order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS sync_records (
		idem_key    TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		branch_id   TEXT NOT NULL,
		provider    TEXT NOT NULL,
		subject     TEXT NOT NULL,
		order_id    TEXT NOT NULL,
		status      TEXT NOT NULL,
		result_json TEXT NOT NULL,
		created_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_records_order ON sync_records (order_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		url        TEXT NOT NULL,
		events     TEXT NOT NULL,
		secret     TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_tenant ON webhook_subscriptions (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id              TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL,
		subscription_id TEXT NOT NULL DEFAULT '',
		event_type      TEXT NOT NULL,
		url             TEXT NOT NULL,
		secret          TEXT NOT NULL DEFAULT '',
		payload         TEXT NOT NULL,
		status          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_error      TEXT NOT NULL DEFAULT '',
		response_code   INTEGER NOT NULL DEFAULT 0,
		latency_ms      INTEGER NOT NULL DEFAULT 0,
		next_attempt_at BIGINT NOT NULL,
		delivered_at    BIGINT,
		created_at      BIGINT NOT NULL,
		dedup_key       TEXT NOT NULL,
		UNIQUE (tenant_id, event_type, url, dedup_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries (status, next_attempt_at)`,
}
