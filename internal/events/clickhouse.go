package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/dharsanguruparan/vanguard/internal/logging"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS intake_events (
	at               DateTime64(3),
	label            String,
	confidence       Float64,
	lat              Float64,
	lon              Float64,
	coord_source     LowCardinality(String),
	accepted         UInt8,
	found_item_id    String,
	type_id          String,
	explosion_radius Nullable(Float64)
) ENGINE = MergeTree
ORDER BY at`

const insertAudit = `
INSERT INTO intake_events
	(at, label, confidence, lat, lon, coord_source, accepted, found_item_id, type_id, explosion_radius)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ClickHouseConfig holds connection settings for the audit store.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Audit records every classification, accepted or not, in ClickHouse.
type Audit struct {
	conn  execer
	close func() error
}

// DialClickHouse connects, pings and creates the audit table.
func DialClickHouse(ctx context.Context, cfg ClickHouseConfig) (*Audit, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	a := NewAudit(conn)
	a.close = conn.Close
	if err := a.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	logging.Infof("clickhouse audit connected at %s", cfg.Addr)
	return a, nil
}

// NewAudit wraps an open connection.
func NewAudit(conn execer) *Audit {
	return &Audit{conn: conn}
}

// EnsureSchema creates the intake_events table if needed.
func (a *Audit) EnsureSchema(ctx context.Context) error {
	if err := a.conn.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("create intake_events: %w", err)
	}
	return nil
}

// Publish implements Sink.
func (a *Audit) Publish(ctx context.Context, ev Event) error {
	var accepted uint8
	if ev.Accepted {
		accepted = 1
	}
	err := a.conn.Exec(ctx, insertAudit,
		ev.At,
		ev.Label,
		ev.Confidence,
		ev.Lat,
		ev.Lon,
		ev.CoordSource,
		accepted,
		ev.FoundItemID,
		ev.TypeID,
		ev.ExplosionRadius,
	)
	if err != nil {
		return fmt.Errorf("insert intake event: %w", err)
	}
	return nil
}

// Close closes the connection.
func (a *Audit) Close() error {
	if a.close != nil {
		return a.close()
	}
	return nil
}
