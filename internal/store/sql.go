package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"orderhub/internal/config"
	"orderhub/internal/model"
)

// SQL is the database/sql Store shared by SQLite and PostgreSQL. Queries are
// written with ? placeholders and rebound for postgres; timestamps are unix
// milliseconds so both dialects compare them the same way.
type SQL struct {
	db     *sql.DB
	driver string
}

// Open returns the Store selected by cfg.
func Open(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path)
	case "postgres":
		return OpenPostgres(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func OpenSQLite(path string) (*SQL, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQL{db: db, driver: "sqlite"}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &SQL{db: db, driver: "postgres"}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *SQL) Driver() string { return s.driver }

// q rewrites ? placeholders for PostgreSQL and passes through for SQLite.
func (s *SQL) q(query string) string {
	if s.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

// Rebind converts ? placeholders to $n.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.SplitN(strings.TrimSpace(stmt), "(", 2)[0], err)
		}
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQL) Close() error                   { return s.db.Close() }

func toMillis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// --- sync records and orders ---

func (s *SQL) FindExistingSync(ctx context.Context, key model.IdempotencyKey) (*model.SyncRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT order_id, status, result_json, created_at FROM sync_records
		WHERE idem_key = ? AND status <> ?`), key.String(), model.SyncRecordFailed)
	rec, err := scanSyncRecord(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQL) findSyncByOrder(ctx context.Context, orderID string) (*model.SyncRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT tenant_id, branch_id, provider, subject, order_id, status, result_json, created_at
		FROM sync_records WHERE order_id = ? AND status <> ? ORDER BY created_at LIMIT 1`), orderID, model.SyncRecordFailed)
	var key model.IdempotencyKey
	var rec model.SyncRecord
	var resultJSON string
	var created int64
	if err := row.Scan(&key.TenantID, &key.BranchID, &key.Provider, &key.Subject, &rec.OrderID, &rec.Status, &resultJSON, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode sync result: %w", err)
	}
	rec.Key = key
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

func scanSyncRecord(row *sql.Row, key model.IdempotencyKey) (*model.SyncRecord, error) {
	rec := model.SyncRecord{Key: key}
	var resultJSON string
	var created int64
	if err := row.Scan(&rec.OrderID, &rec.Status, &resultJSON, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode sync result: %w", err)
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, nil
}

func (s *SQL) CreateSyncRecord(ctx context.Context, key model.IdempotencyKey, order model.ProviderOrder, result model.SyncResult) (model.SyncRecord, error) {
	now := time.Now().UTC()
	orderID := uuid.NewString()
	result.OrderID = orderID
	status := order.Status
	if status == "" {
		status = model.StatusPending
	}
	orderJSON, err := json.Marshal(order)
	if err != nil {
		return model.SyncRecord{}, fmt.Errorf("encode order: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return model.SyncRecord{}, fmt.Errorf("encode result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SyncRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`INSERT INTO orders (id, tenant_id, branch_id, provider, external_order_id, status, order_json, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT (tenant_id, provider, external_order_id) DO NOTHING`),
		orderID, key.TenantID, key.BranchID, key.Provider, order.ExternalOrderID, string(status), string(orderJSON), toMillis(now), toMillis(now))
	if err != nil {
		return model.SyncRecord{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return s.conflict(ctx, key, order.ExternalOrderID)
	}
	res, err = tx.ExecContext(ctx, s.q(`INSERT INTO sync_records (idem_key, tenant_id, branch_id, provider, subject, order_id, status, result_json, created_at)
		VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT (idem_key) DO NOTHING`),
		key.String(), key.TenantID, key.BranchID, key.Provider, key.Subject, orderID, model.SyncRecordCompleted, string(resultJSON), toMillis(now))
	if err != nil {
		return model.SyncRecord{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return s.conflict(ctx, key, order.ExternalOrderID)
	}
	if err := tx.Commit(); err != nil {
		return model.SyncRecord{}, err
	}
	return model.SyncRecord{Key: key, OrderID: orderID, Status: model.SyncRecordCompleted, Result: result, CreatedAt: now}, nil
}

// conflict returns the record that already owns key or the external order.
func (s *SQL) conflict(ctx context.Context, key model.IdempotencyKey, externalOrderID string) (model.SyncRecord, error) {
	if rec, err := s.FindExistingSync(ctx, key); err != nil {
		return model.SyncRecord{}, err
	} else if rec != nil {
		return *rec, ErrConflict
	}
	snap, err := s.FindOrderByExternal(ctx, key.TenantID, key.Provider, externalOrderID)
	if err != nil {
		return model.SyncRecord{}, err
	}
	if snap != nil {
		if rec, err := s.findSyncByOrder(ctx, snap.OrderID); err != nil {
			return model.SyncRecord{}, err
		} else if rec != nil {
			return *rec, ErrConflict
		}
	}
	return model.SyncRecord{}, ErrConflict
}

const orderColumns = `id, tenant_id, branch_id, provider, external_order_id, status, updated_at`

func scanSnapshot(row *sql.Row) (*model.OrderSnapshot, error) {
	var o model.OrderSnapshot
	var status string
	var updated int64
	if err := row.Scan(&o.OrderID, &o.TenantID, &o.BranchID, &o.Provider, &o.ExternalOrderID, &status, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.UpdatedAt = fromMillis(updated)
	return &o, nil
}

func (s *SQL) FindOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), orderID))
}

func (s *SQL) FindOrderByExternal(ctx context.Context, tenantID, provider, externalOrderID string) (*model.OrderSnapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders
		WHERE tenant_id = ? AND provider = ? AND external_order_id = ?`), tenantID, strings.ToLower(provider), externalOrderID))
}

func (s *SQL) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`), string(status), toMillis(at), orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- subscriptions ---

func (s *SQL) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	sub := model.Subscription{ID: uuid.NewString(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
	events, _ := json.Marshal(req.Events)
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_subscriptions (id, tenant_id, url, events, secret, created_at) VALUES (?,?,?,?,?,?)`),
		sub.ID, sub.TenantID, sub.URL, string(events), sub.Secret, toMillis(time.Now()))
	if err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (s *SQL) listSubs(ctx context.Context, query string, args ...any) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var sub model.Subscription
		var events string
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.URL, &events, &sub.Secret); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(events), &sub.Events); err != nil {
			return nil, fmt.Errorf("decode subscription events: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQL) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	all, err := s.listSubs(ctx, `SELECT id, tenant_id, url, events, secret FROM webhook_subscriptions WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	var out []model.Subscription
	for _, sub := range all {
		if subscribesTo(sub, eventType) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s *SQL) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items, err := s.listSubs(ctx, `SELECT id, tenant_id, url, events, secret FROM webhook_subscriptions
		WHERE tenant_id = ? AND id > ? ORDER BY id LIMIT ?`, tenantID, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = items[limit-1].ID
	}
	return items, next, nil
}

func (s *SQL) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM webhook_subscriptions WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- webhook deliveries ---

func (s *SQL) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.NewString()
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_deliveries
		(id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, created_at, dedup_key)
		VALUES (?,?,?,?,?,?,?,?,0,?,?,?)
		ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`),
		id, tenantID, subscriptionID, eventType, url, secret, string(payload), DeliveryPending, now, now, computeDedupKey(payload))
	if err != nil {
		return "", err
	}
	return id, nil
}

const deliveryColumns = `id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts,
	last_error, response_code, latency_ms, next_attempt_at, delivered_at, created_at`

func (s *SQL) queryDeliveries(ctx context.Context, query string, args ...any) ([]WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var payload string
		var next, created int64
		var delivered sql.NullInt64
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts,
			&d.LastError, &d.ResponseCode, &d.LatencyMs, &next, &delivered, &created); err != nil {
			return nil, err
		}
		d.Payload = []byte(payload)
		d.NextAttemptAt = fromMillis(next)
		d.CreatedAt = fromMillis(created)
		if delivered.Valid {
			t := fromMillis(delivered.Int64)
			d.DeliveredAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status IN (?, ?) AND next_attempt_at <= ? ORDER BY next_attempt_at ASC LIMIT ?`,
		DeliveryPending, DeliveryRetry, toMillis(time.Now()), limit)
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, delivered_at = ?,
			response_code = ?, latency_ms = ? WHERE id = ?`), DeliveryDelivered, toMillis(time.Now()), responseCode, latencyMs, id)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, last_error = ?,
		next_attempt_at = ?, response_code = ?, latency_ms = ? WHERE id = ?`), DeliveryRetry, lastError, toMillis(next), responseCode, latencyMs, id)
	return err
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?, last_error = ?,
		response_code = ?, latency_ms = ? WHERE id = ?`), DeliveryFailed, lastError, responseCode, latencyMs, id)
	return err
}

func (s *SQL) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]WebhookDelivery, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items, err := s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE tenant_id = ? AND (? = '' OR status = ?) AND id > ? ORDER BY id LIMIT ?`, tenantID, status, status, cursor, limit+1)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(items) > limit {
		items = items[:limit]
		next = items[limit-1].ID
	}
	return items, next, nil
}

func (s *SQL) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET status = ?, next_attempt_at = ?
		WHERE tenant_id = ? AND id = ? AND status <> ?`), DeliveryRetry, toMillis(time.Now()), tenantID, id, DeliveryDelivered)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, s.q(`SELECT status FROM webhook_deliveries WHERE tenant_id = ? AND id = ?`), tenantID, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// computeDedupKey uses the event id when the payload has one, else a short content hash.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}
