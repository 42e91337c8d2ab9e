package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle (used by TSDB).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			weight INTEGER NOT NULL DEFAULT 1,
			max_context_tokens INTEGER NOT NULL DEFAULT 4096,
			input_per_1k REAL NOT NULL DEFAULT 0,
			output_per_1k REAL NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			base_url TEXT NOT NULL DEFAULT '',
			cred_store TEXT NOT NULL DEFAULT 'env'
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			model_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			estimated_cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 200,
			error_class TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_model ON request_logs(model_id)`,
		`CREATE TABLE IF NOT EXISTS routing_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			default_mode TEXT NOT NULL DEFAULT 'normal',
			default_max_budget_usd REAL NOT NULL DEFAULT 0.05,
			default_max_latency_ms INTEGER NOT NULL DEFAULT 20000
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS reward_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT,
			model_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			mode TEXT,
			estimated_tokens INTEGER,
			token_bucket TEXT,
			latency_budget_ms INTEGER,
			latency_ms REAL,
			cost_usd REAL,
			success INTEGER,
			error_class TEXT,
			reward REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reward_logs_ts ON reward_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS budget_definitions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL,
			scope_ref_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			amount_usd REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			period_days INTEGER NOT NULL DEFAULT 30,
			period_start TEXT NOT NULL,
			end_date TEXT,
			recurring INTEGER NOT NULL DEFAULT 0,
			alerts_json TEXT NOT NULL DEFAULT '[]',
			tags_json TEXT NOT NULL DEFAULT '[]',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_definitions_parent ON budget_definitions(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_definitions_scope ON budget_definitions(scope)`,
		`CREATE TABLE IF NOT EXISTS budget_usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			budget_id TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			amount_usd REAL NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'USD',
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_usage_budget_time ON budget_usage_records(budget_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS budget_status_cache (
			budget_id TEXT PRIMARY KEY,
			current_amount REAL NOT NULL DEFAULT 0,
			percent_used REAL NOT NULL DEFAULT 0,
			remaining REAL NOT NULL DEFAULT 0,
			days_remaining REAL NOT NULL DEFAULT 0,
			burn_rate REAL NOT NULL DEFAULT 0,
			projected_total REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'normal',
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS budget_alert_history (
			alert_id TEXT PRIMARY KEY,
			budget_id TEXT NOT NULL,
			metric_type TEXT NOT NULL,
			threshold REAL NOT NULL DEFAULT 0,
			value REAL NOT NULL DEFAULT 0,
			triggered_at TEXT NOT NULL,
			resolved_at TEXT,
			acknowledged INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_alert_history_budget ON budget_alert_history(budget_id, triggered_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Models

func (s *SQLiteStore) ListModels(ctx context.Context) ([]ModelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled FROM models`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var models []ModelRecord
	for rows.Next() {
		var m ModelRecord
		if err := rows.Scan(&m.ID, &m.ProviderID, &m.Weight, &m.MaxContextTokens, &m.InputPer1K, &m.OutputPer1K, &m.Enabled); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *SQLiteStore) GetModel(ctx context.Context, id string) (*ModelRecord, error) {
	var m ModelRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled FROM models WHERE id = ?`, id).
		Scan(&m.ID, &m.ProviderID, &m.Weight, &m.MaxContextTokens, &m.InputPer1K, &m.OutputPer1K, &m.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) UpsertModel(ctx context.Context, m ModelRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, provider_id, weight, max_context_tokens, input_per_1k, output_per_1k, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   provider_id=excluded.provider_id,
		   weight=excluded.weight,
		   max_context_tokens=excluded.max_context_tokens,
		   input_per_1k=excluded.input_per_1k,
		   output_per_1k=excluded.output_per_1k,
		   enabled=excluded.enabled`,
		m.ID, m.ProviderID, m.Weight, m.MaxContextTokens, m.InputPer1K, m.OutputPer1K, m.Enabled)
	return err
}

func (s *SQLiteStore) DeleteModel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	return err
}

// Providers

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, enabled, base_url, cred_store FROM providers`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var providers []ProviderRecord
	for rows.Next() {
		var p ProviderRecord
		if err := rows.Scan(&p.ID, &p.Type, &p.Enabled, &p.BaseURL, &p.CredStore); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p ProviderRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, type, enabled, base_url, cred_store)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   type=excluded.type,
		   enabled=excluded.enabled,
		   base_url=excluded.base_url,
		   cred_store=excluded.cred_store`,
		p.ID, p.Type, p.Enabled, p.BaseURL, p.CredStore)
	return err
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	return err
}

// Request Logs

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, model_id, provider_id, mode, estimated_cost_usd, latency_ms, status_code, error_class, request_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ModelID, entry.ProviderID, entry.Mode,
		entry.EstimatedCostUSD, entry.LatencyMs, entry.StatusCode, entry.ErrorClass, entry.RequestID)
	return err
}

// Routing Config

func (s *SQLiteStore) SaveRoutingConfig(ctx context.Context, cfg RoutingConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_config (id, default_mode, default_max_budget_usd, default_max_latency_ms)
		 VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   default_mode=excluded.default_mode,
		   default_max_budget_usd=excluded.default_max_budget_usd,
		   default_max_latency_ms=excluded.default_max_latency_ms`,
		cfg.DefaultMode, cfg.DefaultMaxBudgetUSD, cfg.DefaultMaxLatencyMs)
	return err
}

func (s *SQLiteStore) LoadRoutingConfig(ctx context.Context) (RoutingConfig, error) {
	var cfg RoutingConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT default_mode, default_max_budget_usd, default_max_latency_ms FROM routing_config WHERE id = 1`).
		Scan(&cfg.DefaultMode, &cfg.DefaultMaxBudgetUSD, &cfg.DefaultMaxLatencyMs)
	if err != nil {
		// Return zero value if no row (not an error).
		return RoutingConfig{}, nil
	}
	return cfg, nil
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit int, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, model_id, provider_id, mode, estimated_cost_usd, latency_ms, status_code, error_class, request_id
		 FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.ModelID, &l.ProviderID, &l.Mode,
			&l.EstimatedCostUSD, &l.LatencyMs, &l.StatusCode, &l.ErrorClass, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Reward Logs

func (s *SQLiteStore) LogReward(ctx context.Context, entry RewardEntry) error {
	successInt := 0
	if entry.Success {
		successInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reward_logs (timestamp, request_id, model_id, provider_id, mode,
		 estimated_tokens, token_bucket, latency_budget_ms, latency_ms, cost_usd,
		 success, error_class, reward)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RequestID, entry.ModelID, entry.ProviderID, entry.Mode,
		entry.EstimatedTokens, entry.TokenBucket, entry.LatencyBudgetMs, entry.LatencyMs,
		entry.CostUSD, successInt, entry.ErrorClass, entry.Reward)
	return err
}

// Budgets

func (s *SQLiteStore) CreateBudget(ctx context.Context, b BudgetDefinition) error {
	var endDate *string
	if !b.EndDate.IsZero() {
		t := b.EndDate.UTC().Format(time.RFC3339)
		endDate = &t
	}
	recurringInt := 0
	if b.Recurring {
		recurringInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_definitions (id, name, scope, scope_ref_id, parent_id, amount_usd, currency, period_days, period_start, end_date, recurring, alerts_json, tags_json, created_by, created_at, updated_at, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		b.ID, b.Name, b.Scope, b.ScopeRefID, b.ParentID, b.AmountUSD, b.Currency, b.PeriodDays,
		b.PeriodStart.UTC().Format(time.RFC3339), endDate, recurringInt, b.AlertsJSON, b.TagsJSON, b.CreatedBy,
		b.CreatedAt.UTC().Format(time.RFC3339), b.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) GetBudget(ctx context.Context, id string) (*BudgetDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, scope, scope_ref_id, parent_id, amount_usd, currency, period_days, period_start, end_date, recurring, alerts_json, tags_json, created_by, created_at, updated_at, deleted
		 FROM budget_definitions WHERE id = ?`, id)
	b, err := scanBudgetDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBudget(ctx context.Context, b BudgetDefinition) error {
	var endDate *string
	if !b.EndDate.IsZero() {
		t := b.EndDate.UTC().Format(time.RFC3339)
		endDate = &t
	}
	recurringInt := 0
	if b.Recurring {
		recurringInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE budget_definitions SET name=?, scope=?, scope_ref_id=?, parent_id=?, amount_usd=?, currency=?, period_days=?, period_start=?, end_date=?, recurring=?, alerts_json=?, tags_json=?, updated_at=?
		 WHERE id=?`,
		b.Name, b.Scope, b.ScopeRefID, b.ParentID, b.AmountUSD, b.Currency, b.PeriodDays,
		b.PeriodStart.UTC().Format(time.RFC3339), endDate, recurringInt, b.AlertsJSON, b.TagsJSON,
		b.UpdatedAt.UTC().Format(time.RFC3339), b.ID)
	return err
}

func (s *SQLiteStore) SoftDeleteBudget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE budget_definitions SET deleted = 1 WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListBudgets(ctx context.Context, scope string) ([]BudgetDefinition, error) {
	query := `SELECT id, name, scope, scope_ref_id, parent_id, amount_usd, currency, period_days, period_start, end_date, recurring, alerts_json, tags_json, created_by, created_at, updated_at, deleted
		 FROM budget_definitions WHERE deleted = 0`
	args := []any{}
	if scope != "" {
		query += ` AND scope = ?`
		args = append(args, scope)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanBudgetDefinitions(rows)
}

func (s *SQLiteStore) ListChildBudgets(ctx context.Context, parentID string) ([]BudgetDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, scope, scope_ref_id, parent_id, amount_usd, currency, period_days, period_start, end_date, recurring, alerts_json, tags_json, created_by, created_at, updated_at, deleted
		 FROM budget_definitions WHERE parent_id = ? AND deleted = 0`, parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanBudgetDefinitions(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudgetDefinition(row rowScanner) (*BudgetDefinition, error) {
	var b BudgetDefinition
	var periodStart, createdAt, updatedAt string
	var endDate sql.NullString
	var recurringInt, deletedInt int
	if err := row.Scan(&b.ID, &b.Name, &b.Scope, &b.ScopeRefID, &b.ParentID, &b.AmountUSD, &b.Currency, &b.PeriodDays,
		&periodStart, &endDate, &recurringInt, &b.AlertsJSON, &b.TagsJSON, &b.CreatedBy, &createdAt, &updatedAt, &deletedInt); err != nil {
		return nil, err
	}
	b.PeriodStart, _ = time.Parse(time.RFC3339, periodStart)
	if endDate.Valid {
		b.EndDate, _ = time.Parse(time.RFC3339, endDate.String)
	}
	b.Recurring = recurringInt != 0
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	b.Deleted = deletedInt != 0
	return &b, nil
}

func scanBudgetDefinitions(rows *sql.Rows) ([]BudgetDefinition, error) {
	var out []BudgetDefinition
	for rows.Next() {
		b, err := scanBudgetDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RecordBudgetUsage(ctx context.Context, u BudgetUsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_usage_records (budget_id, request_id, model_id, amount_usd, currency, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.BudgetID, u.RequestID, u.ModelID, u.AmountUSD, u.Currency, u.RecordedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) SumBudgetUsage(ctx context.Context, budgetID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount_usd) FROM budget_usage_records WHERE budget_id = ? AND recorded_at >= ?`,
		budgetID, since.UTC().Format(time.RFC3339)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

func (s *SQLiteStore) SaveBudgetStatus(ctx context.Context, st BudgetStatusCache) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_status_cache (budget_id, current_amount, percent_used, remaining, days_remaining, burn_rate, projected_total, status, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(budget_id) DO UPDATE SET
		   current_amount=excluded.current_amount,
		   percent_used=excluded.percent_used,
		   remaining=excluded.remaining,
		   days_remaining=excluded.days_remaining,
		   burn_rate=excluded.burn_rate,
		   projected_total=excluded.projected_total,
		   status=excluded.status,
		   last_updated=excluded.last_updated`,
		st.BudgetID, st.CurrentAmount, st.PercentUsed, st.Remaining, st.DaysRemaining,
		st.BurnRate, st.ProjectedTotal, st.Status, st.LastUpdated.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) LoadBudgetStatus(ctx context.Context, budgetID string) (*BudgetStatusCache, error) {
	var st BudgetStatusCache
	var lastUpdated string
	err := s.db.QueryRowContext(ctx,
		`SELECT budget_id, current_amount, percent_used, remaining, days_remaining, burn_rate, projected_total, status, last_updated
		 FROM budget_status_cache WHERE budget_id = ?`, budgetID).
		Scan(&st.BudgetID, &st.CurrentAmount, &st.PercentUsed, &st.Remaining, &st.DaysRemaining,
			&st.BurnRate, &st.ProjectedTotal, &st.Status, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return &st, nil
}

func (s *SQLiteStore) RecordBudgetAlert(ctx context.Context, a BudgetAlertRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_alert_history (alert_id, budget_id, metric_type, threshold, value, triggered_at, resolved_at, acknowledged)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, 0)`,
		a.AlertID, a.BudgetID, a.MetricType, a.Threshold, a.Value, a.TriggeredAt.UTC().Format(time.RFC3339))
	return err
}

func (s *SQLiteStore) ListBudgetAlerts(ctx context.Context, budgetID string, limit int) ([]BudgetAlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, budget_id, metric_type, threshold, value, triggered_at, resolved_at, acknowledged
		 FROM budget_alert_history WHERE budget_id = ? ORDER BY triggered_at DESC LIMIT ?`, budgetID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []BudgetAlertRecord
	for rows.Next() {
		var a BudgetAlertRecord
		var triggeredAt string
		var resolvedAt sql.NullString
		var ackInt int
		if err := rows.Scan(&a.AlertID, &a.BudgetID, &a.MetricType, &a.Threshold, &a.Value, &triggeredAt, &resolvedAt, &ackInt); err != nil {
			return nil, err
		}
		a.TriggeredAt, _ = time.Parse(time.RFC3339, triggeredAt)
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			a.ResolvedAt = &t
		}
		a.Acknowledged = ackInt != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolveBudgetAlert(ctx context.Context, alertID string, resolvedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE budget_alert_history SET resolved_at = ? WHERE alert_id = ?`,
		resolvedAt.UTC().Format(time.RFC3339), alertID)
	return err
}

func (s *SQLiteStore) ListRewards(ctx context.Context, limit int, offset int) ([]RewardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, model_id, provider_id, mode,
		 estimated_tokens, token_bucket, latency_budget_ms, latency_ms, cost_usd,
		 success, error_class, reward
		 FROM reward_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RewardEntry
	for rows.Next() {
		var l RewardEntry
		var ts string
		var successInt int
		if err := rows.Scan(&l.ID, &ts, &l.RequestID, &l.ModelID, &l.ProviderID, &l.Mode,
			&l.EstimatedTokens, &l.TokenBucket, &l.LatencyBudgetMs, &l.LatencyMs,
			&l.CostUSD, &successInt, &l.ErrorClass, &l.Reward); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		l.Success = successInt != 0
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStore) GetRewardSummary(ctx context.Context) ([]RewardSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, token_bucket,
		 COUNT(*) as count,
		 SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) as successes,
		 SUM(reward) as sum_reward
		 FROM reward_logs
		 GROUP BY model_id, token_bucket`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var summaries []RewardSummary
	for rows.Next() {
		var s RewardSummary
		if err := rows.Scan(&s.ModelID, &s.TokenBucket, &s.Count, &s.Successes, &s.SumReward); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
