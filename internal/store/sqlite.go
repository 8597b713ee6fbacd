package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "investor-intelligence/internal/errors"
	"investor-intelligence/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Alerts table: append-only history of user-facing alerts
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		message TEXT NOT NULL,
		relevance_score REAL NOT NULL,
		model_version INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		active INTEGER DEFAULT 1,
		metadata TEXT
	);

	-- Feedback table: one immutable judgment per alert
	CREATE TABLE IF NOT EXISTS feedback (
		alert_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		label TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		FOREIGN KEY (alert_id) REFERENCES alerts(id)
	);

	-- Per-owner monitoring preferences
	CREATE TABLE IF NOT EXISTS user_configs (
		owner_id TEXT PRIMARY KEY,
		min_price_change_pct REAL NOT NULL,
		max_alerts_per_day INTEGER NOT NULL,
		risk_profile TEXT,
		notifications_enabled INTEGER DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Versioned model snapshots; at least the previous version is retained
	CREATE TABLE IF NOT EXISTS model_states (
		version INTEGER PRIMARY KEY,
		parameters TEXT NOT NULL,
		trained_at DATETIME NOT NULL,
		accuracy REAL,
		precision REAL,
		recall REAL,
		f1 REAL,
		examples INTEGER
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_owner_active ON alerts(owner_id, active);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_owner ON feedback(owner_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Alert Methods
// ============================================================================

// SaveAlert inserts a new alert.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	meta, err := encodeMetadata(alert.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode alert metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, owner_id, symbol, alert_type, message, relevance_score, model_version, created_at, active, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.OwnerID, alert.Symbol, string(alert.Type), alert.Message,
		alert.RelevanceScore, alert.ModelVersion, alert.CreatedAt, boolToInt(alert.Active), meta)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlertByID retrieves a single alert.
func (s *SQLiteStore) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, symbol, alert_type, message, relevance_score, model_version, created_at, active, metadata
		FROM alerts WHERE id = ?
	`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert: %w", err)
	}
	return alert, nil
}

// GetAlerts retrieves alerts matching the filter, newest first.
func (s *SQLiteStore) GetAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `
		SELECT id, owner_id, symbol, alert_type, message, relevance_score, model_version, created_at, active, metadata
		FROM alerts WHERE 1=1`
	var args []interface{}

	if filter.OwnerID != "" {
		query += " AND owner_id = ?"
		args = append(args, filter.OwnerID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Type != "" {
		query += " AND alert_type = ?"
		args = append(args, string(filter.Type))
	}
	if filter.ActiveOnly {
		query += " AND active = 1"
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// GetActiveAlerts retrieves all active alerts for an owner.
func (s *SQLiteStore) GetActiveAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.GetAlerts(ctx, AlertFilter{OwnerID: ownerID, ActiveOnly: true})
}

// CountAlertsCreatedSince counts still-active alerts created for an
// owner at or after the given time. Deactivated alerts free up their
// slot in the daily budget.
func (s *SQLiteStore) CountAlertsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE owner_id = ? AND created_at >= ? AND active = 1
	`, ownerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

// DeactivateAlert flips the active flag off. The row is otherwise untouched.
func (s *SQLiteStore) DeactivateAlert(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET active = 0 WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to deactivate alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.ErrAlertNotFound
	}
	return nil
}

// SetAlertMetadata sets one metadata key on an alert, preserving the rest.
func (s *SQLiteStore) SetAlertMetadata(ctx context.Context, alertID, key string, value interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM alerts WHERE id = ?`, alertID).Scan(&raw)
	if err == sql.ErrNoRows {
		return apperrors.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read alert metadata: %w", err)
	}

	meta := make(map[string]interface{})
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
			return fmt.Errorf("failed to decode alert metadata: %w", err)
		}
	}
	meta[key] = value

	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE alerts SET metadata = ? WHERE id = ?`, encoded, alertID); err != nil {
		return fmt.Errorf("failed to update alert metadata: %w", err)
	}

	return tx.Commit()
}

// ============================================================================
// Feedback Methods
// ============================================================================

// SaveFeedback appends a feedback row. A second judgment for the same
// alert is rejected; the first record is unchanged.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *models.Feedback) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE alert_id = ?`, fb.AlertID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing feedback: %w", err)
	}
	if exists > 0 {
		return apperrors.ErrDuplicateFeedback
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback (alert_id, owner_id, label, submitted_at)
		VALUES (?, ?, ?, ?)
	`, fb.AlertID, fb.OwnerID, string(fb.Label), fb.SubmittedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// GetFeedbackForAlert retrieves the feedback for an alert, or nil when
// none has been recorded.
func (s *SQLiteStore) GetFeedbackForAlert(ctx context.Context, alertID string) (*models.Feedback, error) {
	var fb models.Feedback
	var label string
	err := s.db.QueryRowContext(ctx, `
		SELECT alert_id, owner_id, label, submitted_at FROM feedback WHERE alert_id = ?
	`, alertID).Scan(&fb.AlertID, &fb.OwnerID, &label, &fb.SubmittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	fb.Label = models.FeedbackLabel(label)
	return &fb, nil
}

// GetLabeledCorpus joins alerts with their feedback for retraining.
func (s *SQLiteStore) GetLabeledCorpus(ctx context.Context) ([]LabeledAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.owner_id, a.symbol, a.alert_type, a.message, a.relevance_score,
		       a.model_version, a.created_at, a.active, a.metadata,
		       f.alert_id, f.owner_id, f.label, f.submitted_at
		FROM alerts a
		INNER JOIN feedback f ON f.alert_id = a.id
		ORDER BY f.submitted_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labeled corpus: %w", err)
	}
	defer rows.Close()

	var corpus []LabeledAlert
	for rows.Next() {
		var la LabeledAlert
		var alertType, label string
		var active int
		var meta sql.NullString
		if err := rows.Scan(
			&la.Alert.ID, &la.Alert.OwnerID, &la.Alert.Symbol, &alertType, &la.Alert.Message,
			&la.Alert.RelevanceScore, &la.Alert.ModelVersion, &la.Alert.CreatedAt, &active, &meta,
			&la.Feedback.AlertID, &la.Feedback.OwnerID, &label, &la.Feedback.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan labeled alert: %w", err)
		}
		la.Alert.Type = models.EventType(alertType)
		la.Alert.Active = active == 1
		la.Alert.Metadata = decodeMetadata(meta)
		la.Feedback.Label = models.FeedbackLabel(label)
		corpus = append(corpus, la)
	}
	return corpus, rows.Err()
}

// GetFeedbackRates aggregates relevance judgments per symbol and type
// for the given owner.
func (s *SQLiteStore) GetFeedbackRates(ctx context.Context, ownerID string) (FeedbackRates, error) {
	rates := FeedbackRates{
		BySymbol: make(map[string]Rate),
		ByType:   make(map[models.EventType]Rate),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.symbol, a.alert_type, f.label
		FROM feedback f INNER JOIN alerts a ON a.id = f.alert_id
		WHERE f.owner_id = ?
	`, ownerID)
	if err != nil {
		return rates, fmt.Errorf("failed to query feedback rates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol, alertType, label string
		if err := rows.Scan(&symbol, &alertType, &label); err != nil {
			return rates, fmt.Errorf("failed to scan feedback rate: %w", err)
		}
		relevant := label == string(models.FeedbackRelevant)

		sr := rates.BySymbol[symbol]
		sr.Total++
		if relevant {
			sr.Relevant++
		}
		rates.BySymbol[symbol] = sr

		tr := rates.ByType[models.EventType(alertType)]
		tr.Total++
		if relevant {
			tr.Relevant++
		}
		rates.ByType[models.EventType(alertType)] = tr
	}
	return rates, rows.Err()
}

// ============================================================================
// User Config Methods
// ============================================================================

// SaveUserConfig upserts an owner's monitoring preferences.
func (s *SQLiteStore) SaveUserConfig(ctx context.Context, cfg *models.UserConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_configs (owner_id, min_price_change_pct, max_alerts_per_day, risk_profile, notifications_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner_id) DO UPDATE SET
			min_price_change_pct = excluded.min_price_change_pct,
			max_alerts_per_day = excluded.max_alerts_per_day,
			risk_profile = excluded.risk_profile,
			notifications_enabled = excluded.notifications_enabled,
			updated_at = CURRENT_TIMESTAMP
	`, cfg.OwnerID, cfg.MinPriceChangePct, cfg.MaxAlertsPerDay, cfg.RiskProfile, boolToInt(cfg.NotificationsEnabled))
	if err != nil {
		return fmt.Errorf("failed to save user config: %w", err)
	}
	return nil
}

// GetUserConfig retrieves an owner's preferences.
func (s *SQLiteStore) GetUserConfig(ctx context.Context, ownerID string) (*models.UserConfig, error) {
	var cfg models.UserConfig
	var enabled int
	var riskProfile sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, min_price_change_pct, max_alerts_per_day, risk_profile, notifications_enabled
		FROM user_configs WHERE owner_id = ?
	`, ownerID).Scan(&cfg.OwnerID, &cfg.MinPriceChangePct, &cfg.MaxAlertsPerDay, &riskProfile, &enabled)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user config: %w", err)
	}
	cfg.RiskProfile = riskProfile.String
	cfg.NotificationsEnabled = enabled == 1
	return &cfg, nil
}

// ListOwners returns all owners with a stored config.
func (s *SQLiteStore) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_id FROM user_configs ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// ============================================================================
// Model State Methods
// ============================================================================

// SaveModelState persists a trained model version.
func (s *SQLiteStore) SaveModelState(ctx context.Context, ms *models.ModelState) error {
	params, err := json.Marshal(ms.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode model parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_states (version, parameters, trained_at, accuracy, precision, recall, f1, examples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ms.Version, string(params), ms.TrainedAt,
		ms.Metrics.Accuracy, ms.Metrics.Precision, ms.Metrics.Recall, ms.Metrics.F1, ms.Metrics.Examples)
	if err != nil {
		return fmt.Errorf("failed to insert model state: %w", err)
	}
	return nil
}

// GetModelState retrieves a specific model version.
func (s *SQLiteStore) GetModelState(ctx context.Context, version int64) (*models.ModelState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, parameters, trained_at, accuracy, precision, recall, f1, examples
		FROM model_states WHERE version = ?
	`, version)
	return scanModelState(row)
}

// GetLatestModelState retrieves the highest-versioned model.
func (s *SQLiteStore) GetLatestModelState(ctx context.Context) (*models.ModelState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, parameters, trained_at, accuracy, precision, recall, f1, examples
		FROM model_states ORDER BY version DESC LIMIT 1
	`)
	return scanModelState(row)
}

// PruneModelStates removes all but the newest keep versions. keep is
// clamped to 2 so the previous version always survives for rollback.
func (s *SQLiteStore) PruneModelStates(ctx context.Context, keep int) error {
	if keep < 2 {
		keep = 2
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM model_states WHERE version NOT IN (
			SELECT version FROM model_states ORDER BY version DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("failed to prune model states: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var alertType string
	var active int
	var meta sql.NullString
	err := row.Scan(&a.ID, &a.OwnerID, &a.Symbol, &alertType, &a.Message,
		&a.RelevanceScore, &a.ModelVersion, &a.CreatedAt, &active, &meta)
	if err != nil {
		return nil, err
	}
	a.Type = models.EventType(alertType)
	a.Active = active == 1
	a.Metadata = decodeMetadata(meta)
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func scanModelState(row rowScanner) (*models.ModelState, error) {
	var ms models.ModelState
	var params string
	err := row.Scan(&ms.Version, &params, &ms.TrainedAt,
		&ms.Metrics.Accuracy, &ms.Metrics.Precision, &ms.Metrics.Recall, &ms.Metrics.F1, &ms.Metrics.Examples)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan model state: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &ms.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode model parameters: %w", err)
	}
	return &ms, nil
}

func encodeMetadata(meta map[string]interface{}) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func decodeMetadata(raw sql.NullString) map[string]interface{} {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	meta := make(map[string]interface{})
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil
	}
	return meta
}
