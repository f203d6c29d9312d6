package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselection/internal/models"
)

// Postgres wraps a postgres DB connection.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the necessary tables if they don't exist.
const schemaSQL = `CREATE TABLE IF NOT EXISTS advertisement_contents (
    id SERIAL PRIMARY KEY,
    content_id TEXT NOT NULL UNIQUE,
    marketplace_id TEXT NOT NULL,
    renderable_content TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS targeting_groups (
    id SERIAL PRIMARY KEY,
    targeting_group_id TEXT NOT NULL UNIQUE,
    content_id TEXT NOT NULL REFERENCES advertisement_contents(content_id) ON DELETE CASCADE,
    click_through_rate DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (click_through_rate >= 0),
    predicates TEXT[] NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_advertisement_contents_marketplace ON advertisement_contents (marketplace_id);
CREATE INDEX IF NOT EXISTS idx_targeting_groups_content_id ON targeting_groups (content_id);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// EnsureSchema creates the required tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadContents returns every advertisement content in insertion order.
func (p *Postgres) LoadContents(ctx context.Context) ([]models.AdvertisementContent, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT content_id, marketplace_id, renderable_content FROM advertisement_contents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query contents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var contents []models.AdvertisementContent
	for rows.Next() {
		var c models.AdvertisementContent
		if err := rows.Scan(&c.ContentID, &c.MarketplaceID, &c.RenderableContent); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return contents, nil
}

// LoadTargetingGroups returns every targeting group in insertion order. Only
// predicate names are populated; resolving them is the caller's job.
func (p *Postgres) LoadTargetingGroups(ctx context.Context) ([]models.TargetingGroup, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT targeting_group_id, content_id, click_through_rate, predicates FROM targeting_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query targeting groups: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var groups []models.TargetingGroup
	for rows.Next() {
		var g models.TargetingGroup
		var names []string
		if err := rows.Scan(&g.TargetingGroupID, &g.ContentID, &g.ClickThroughRate, pq.Array(&names)); err != nil {
			return nil, fmt.Errorf("scan targeting group: %w", err)
		}
		g.PredicateNames = names
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targeting groups: %w", err)
	}
	return groups, nil
}

// InsertContent stores a new advertisement content.
func (p *Postgres) InsertContent(ctx context.Context, c models.AdvertisementContent) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO advertisement_contents (content_id, marketplace_id, renderable_content) VALUES ($1, $2, $3)`,
		c.ContentID, c.MarketplaceID, c.RenderableContent)
	if err != nil {
		return fmt.Errorf("insert content %s: %w", c.ContentID, err)
	}
	return nil
}

// InsertTargetingGroup stores a new targeting group with its predicate names.
func (p *Postgres) InsertTargetingGroup(ctx context.Context, g models.TargetingGroup) error {
	names := g.PredicateNames
	if names == nil {
		names = []string{}
	}
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO targeting_groups (targeting_group_id, content_id, click_through_rate, predicates) VALUES ($1, $2, $3, $4)`,
		g.TargetingGroupID, g.ContentID, g.ClickThroughRate, pq.Array(names))
	if err != nil {
		return fmt.Errorf("insert targeting group %s: %w", g.TargetingGroupID, err)
	}
	return nil
}
