package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
)

// SelectionRecorder receives one event per selection decision. Implementations
// should return ErrUnavailable when the underlying storage is not configured.
type SelectionRecorder interface {
	RecordSelection(ctx context.Context, ev SelectionEvent) error
}

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// SelectionEvent mirrors a row in the selections table.
type SelectionEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	SelectionID      string    `json:"selection_id"`
	CustomerID       string    `json:"customer_id"`
	MarketplaceID    string    `json:"marketplace_id"`
	Policy           string    `json:"policy"`
	Outcome          string    `json:"outcome"`
	ContentID        string    `json:"content_id,omitempty"`
	TargetingGroupID string    `json:"targeting_group_id,omitempty"`
	ClickThroughRate float64   `json:"click_through_rate"`
	Candidates       int       `json:"candidates"`
	Eligible         int       `json:"eligible"`
	LatencyMicros    int64     `json:"latency_us"`
}

// Analytics wraps a ClickHouse DB connection.
type Analytics struct {
	DB *sql.DB
}

var _ SelectionRecorder = (*Analytics)(nil)

const createSelectionsTable = `CREATE TABLE IF NOT EXISTS selections (
       timestamp          DateTime64(3),
       selection_id       String,
       customer_id        String,
       marketplace_id     String,
       policy             LowCardinality(String),
       outcome            LowCardinality(String),
       content_id         Nullable(String),
       targeting_group_id Nullable(String),
       click_through_rate Float64,
       candidates         UInt32,
       eligible           UInt32,
       latency_us         Int64
   ) ENGINE=MergeTree() ORDER BY (marketplace_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the selections table exists.
func InitClickHouse(ctx context.Context, dsn string) (*Analytics, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(25)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	a := NewAnalytics(db)
	if err := a.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("Connected to ClickHouse")
	return a, nil
}

// NewAnalytics wraps an already opened connection.
func NewAnalytics(db *sql.DB) *Analytics {
	return &Analytics{DB: db}
}

// EnsureSchema creates the selections table if it does not exist.
func (a *Analytics) EnsureSchema(ctx context.Context) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if _, err := a.DB.ExecContext(ctx, createSelectionsTable); err != nil {
		return fmt.Errorf("clickhouse create table: %w", err)
	}
	return nil
}

// RecordSelection inserts a single selection row.
func (a *Analytics) RecordSelection(ctx context.Context, ev SelectionEvent) error {
	if a == nil || a.DB == nil {
		return ErrUnavailable
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var content, group sql.NullString
	if ev.ContentID != "" {
		content = sql.NullString{String: ev.ContentID, Valid: true}
	}
	if ev.TargetingGroupID != "" {
		group = sql.NullString{String: ev.TargetingGroupID, Valid: true}
	}

	stmt := `INSERT INTO selections (timestamp, selection_id, customer_id, marketplace_id, policy, outcome, content_id, targeting_group_id, click_through_rate, candidates, eligible, latency_us) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := a.DB.ExecContext(ctx, stmt, ev.Timestamp, ev.SelectionID, ev.CustomerID, ev.MarketplaceID,
		ev.Policy, ev.Outcome, content, group, ev.ClickThroughRate, uint32(ev.Candidates), uint32(ev.Eligible), ev.LatencyMicros); err != nil {
		return fmt.Errorf("insert selection %s: %w", ev.SelectionID, err)
	}
	return nil
}

// GetSelection returns the recorded event for a selection id.
func (a *Analytics) GetSelection(ctx context.Context, selectionID string) (*SelectionEvent, error) {
	if a == nil || a.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, selection_id, customer_id, marketplace_id, policy, outcome, content_id, targeting_group_id, click_through_rate, candidates, eligible, latency_us FROM selections WHERE selection_id=? LIMIT 1`
	row := a.DB.QueryRowContext(ctx, query, selectionID)

	var ev SelectionEvent
	var content, group sql.NullString
	var candidates, eligible uint32
	if err := row.Scan(&ev.Timestamp, &ev.SelectionID, &ev.CustomerID, &ev.MarketplaceID, &ev.Policy, &ev.Outcome,
		&content, &group, &ev.ClickThroughRate, &candidates, &eligible, &ev.LatencyMicros); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query selection: %w", err)
	}
	ev.ContentID = content.String
	ev.TargetingGroupID = group.String
	ev.Candidates = int(candidates)
	ev.Eligible = int(eligible)
	return &ev, nil
}

// Close terminates the ClickHouse connection.
func (a *Analytics) Close() {
	if a != nil && a.DB != nil {
		if err := a.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}
