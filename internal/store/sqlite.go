// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apperrors "quicktrade/internal/errors"
	"quicktrade/internal/models"
	"quicktrade/pkg/utils"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store, creating the parent
// directory of dbPath when needed.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		logger:    logger.With().Str("component", "store").Logger(),
		now:       time.Now,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One access token per broker
	CREATE TABLE IF NOT EXISTS broker_sessions (
		broker TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		user_id TEXT,
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);

	-- Journal of every order attempt
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		action TEXT NOT NULL,
		idx TEXT,
		direction TEXT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		lots INTEGER,
		strike INTEGER,
		order_id TEXT,
		gtt_id TEXT,
		status TEXT NOT NULL,
		error TEXT,
		is_paper INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Expiry refresh audit
	CREATE TABLE IF NOT EXISTS expiry_refreshes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		idx TEXT NOT NULL,
		expiry_date TEXT,
		classification TEXT,
		success INTEGER NOT NULL,
		error TEXT,
		refreshed_at DATETIME NOT NULL
	);

	-- Last run of scheduled jobs
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_expiry_refreshes_idx ON expiry_refreshes(idx, refreshed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession stores the session, replacing any previous one for the broker.
func (s *SQLiteStore) SaveSession(ctx context.Context, session models.BrokerSession) error {
	var expiresAt interface{}
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt.UTC()
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO broker_sessions (broker, access_token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(session.Broker), session.AccessToken, session.UserID, createdAt.UTC(), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the stored session for broker, or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, broker models.BrokerName) (*models.BrokerSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT broker, access_token, user_id, created_at, expires_at
		FROM broker_sessions WHERE broker = ?
	`, string(broker))

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// DeleteSession removes the stored session for broker.
func (s *SQLiteStore) DeleteSession(ctx context.Context, broker models.BrokerName) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM broker_sessions WHERE broker = ?`, string(broker)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListSessions returns all stored sessions ordered by broker.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.BrokerSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT broker, access_token, user_id, created_at, expires_at
		FROM broker_sessions ORDER BY broker
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.BrokerSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// ClearExpiredSessions removes sessions past their expiry or older than
// maxAge, returning how many were removed.
func (s *SQLiteStore) ClearExpiredSessions(ctx context.Context, now time.Time, maxAge time.Duration) (int64, error) {
	now = now.UTC()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM broker_sessions
		WHERE (expires_at IS NOT NULL AND expires_at <= ?) OR created_at < ?
	`, now, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Msg("cleared expired sessions")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.BrokerSession, error) {
	var session models.BrokerSession
	var broker string
	var userID sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(&broker, &session.AccessToken, &userID, &session.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	session.Broker = models.BrokerName(broker)
	session.UserID = userID.String
	if expiresAt.Valid {
		session.ExpiresAt = expiresAt.Time
	}
	return &session, nil
}

// RecordTrade appends a trade to the journal.
func (s *SQLiteStore) RecordTrade(ctx context.Context, trade *models.Trade) error {
	isPaper := 0
	if trade.IsPaper {
		isPaper = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, timestamp, action, idx, direction, symbol, side, quantity, lots, strike, order_id, gtt_id, status, error, is_paper)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Timestamp.UTC(), string(trade.Action), string(trade.Index), string(trade.Direction),
		trade.Symbol, string(trade.Side), trade.Quantity, trade.Lots, trade.Strike,
		trade.OrderID, trade.GTTID, string(trade.Status), trade.Error, isPaper)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// ListTrades retrieves journaled trades, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter models.TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, timestamp, action, idx, direction, symbol, side, quantity, lots, strike, order_id, gtt_id, status, error, is_paper FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY timestamp DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		var t models.Trade
		var action, index, direction, side, status string
		var orderID, gttID, errText sql.NullString
		var lots, strike sql.NullInt64
		var isPaper int

		if err := rows.Scan(&t.ID, &t.Timestamp, &action, &index, &direction, &t.Symbol, &side, &t.Quantity,
			&lots, &strike, &orderID, &gttID, &status, &errText, &isPaper); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.Action = models.TradeAction(action)
		t.Index = models.Index(index)
		t.Direction = models.Direction(direction)
		t.Side = models.OrderSide(side)
		t.Status = models.TradeStatus(status)
		t.Lots = int(lots.Int64)
		t.Strike = int(strike.Int64)
		t.OrderID = orderID.String
		t.GTTID = gttID.String
		t.Error = errText.String
		t.IsPaper = isPaper == 1
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// RecordRefresh appends an expiry refresh to the audit table.
func (s *SQLiteStore) RecordRefresh(ctx context.Context, refresh *models.ExpiryRefresh) error {
	success := 0
	if refresh.Success {
		success = 1
	}
	refreshedAt := refresh.RefreshedAt
	if refreshedAt.IsZero() {
		refreshedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO expiry_refreshes (idx, expiry_date, classification, success, error, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(refresh.Index), refresh.ExpiryDate, string(refresh.Classification), success, refresh.Error, refreshedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record expiry refresh: %w", err)
	}
	refresh.ID, _ = res.LastInsertId()
	return nil
}

// ListRefreshes returns refresh audit entries, newest first. An empty index
// returns all indices.
func (s *SQLiteStore) ListRefreshes(ctx context.Context, index models.Index, limit int) ([]models.ExpiryRefresh, error) {
	query := `SELECT id, idx, expiry_date, classification, success, error, refreshed_at FROM expiry_refreshes WHERE 1=1`
	args := []interface{}{}
	if index != "" {
		query += " AND idx = ?"
		args = append(args, string(index))
	}
	query += " ORDER BY refreshed_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiry refreshes: %w", err)
	}
	defer rows.Close()

	refreshes := []models.ExpiryRefresh{}
	for rows.Next() {
		var r models.ExpiryRefresh
		var idx string
		var expiryDate, classification, errText sql.NullString
		var success int
		if err := rows.Scan(&r.ID, &idx, &expiryDate, &classification, &success, &errText, &r.RefreshedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expiry refresh: %w", err)
		}
		r.Index = models.Index(idx)
		r.ExpiryDate = expiryDate.String
		r.Classification = models.ExpiryClassification(classification.String)
		r.Success = success == 1
		r.Error = errText.String
		refreshes = append(refreshes, r)
	}
	return refreshes, rows.Err()
}

// ExpiryHit is a no-op; only refreshes are audited.
func (s *SQLiteStore) ExpiryHit(index models.Index) {}

// ExpiryRefreshed audits a successful refresh.
func (s *SQLiteStore) ExpiryRefreshed(rec models.ExpiryRecord) {
	s.auditRefresh(&models.ExpiryRefresh{
		Index:          rec.Index,
		ExpiryDate:     rec.Date.String(),
		Classification: rec.Classification,
		Success:        true,
		RefreshedAt:    rec.FetchedAt,
	})
}

// ExpiryRefreshFailed audits a failed refresh.
func (s *SQLiteStore) ExpiryRefreshFailed(index models.Index, err error) {
	s.auditRefresh(&models.ExpiryRefresh{
		Index: index,
		Error: err.Error(),
	})
}

func (s *SQLiteStore) auditRefresh(r *models.ExpiryRefresh) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.RecordRefresh(ctx, r); err != nil {
		s.logger.Warn().Err(err).Str("index", string(r.Index)).Msg("failed to audit expiry refresh")
	}
}

// GetLastSync returns the last run time for a job.
func (s *SQLiteStore) GetLastSync(job string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[job]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, job).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[job] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync records the last run time for a job.
func (s *SQLiteStore) SetLastSync(job string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, job, t.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[job] = t
	s.mu.Unlock()

	return nil
}

// Backup writes a JSON snapshot of all tables into dir. Access tokens are
// masked in the snapshot.
func (s *SQLiteStore) Backup(ctx context.Context, dir string) (string, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	for i := range sessions {
		sessions[i].AccessToken = utils.MaskSecret(sessions[i].AccessToken)
	}
	trades, err := s.ListTrades(ctx, models.TradeFilter{})
	if err != nil {
		return "", err
	}
	refreshes, err := s.ListRefreshes(ctx, "", 0)
	if err != nil {
		return "", err
	}

	now := s.now()
	snapshot := Snapshot{
		CreatedAt:       now,
		Sessions:        sessions,
		Trades:          trades,
		ExpiryRefreshes: refreshes,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode backup: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("quicktrade-backup-%s.json", now.Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Info().Str("path", path).Int("trades", len(trades)).Msg("backup written")
	return path, nil
}
