package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-intake/migrations"
)

// ConnectConfig carries the connection settings the persistence client
// expects. DSN doubles as the server identifier.
type ConnectConfig struct {
	Driver         string
	DSN            string
	Debug          bool
	PingTimeout    time.Duration
	OtelIdentifier string
}

func (c ConnectConfig) GetDebug() bool {
	return c.Debug
}

func (c ConnectConfig) GetDriver() string {
	return c.Driver
}

func (c ConnectConfig) GetServer() string {
	return c.DSN
}

func (c ConnectConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ConnectConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-intake"
	}
	return c.OtelIdentifier
}

// OpenSQLite opens a sqlite-backed persistence client and applies the
// embedded migrations.
func OpenSQLite(ctx context.Context, dsn string) (*persistence.Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := ConnectConfig{Driver: "sqlite3", DSN: dsn}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if err := migrateClient(ctx, client, migrations.DialectSQLite); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// OpenPostgres opens a postgres-backed persistence client and applies the
// embedded migrations.
func OpenPostgres(ctx context.Context, dsn string) (*persistence.Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}

	cfg := ConnectConfig{Driver: "postgres", DSN: dsn}
	client, err := persistence.New(cfg, sqlDB, pgdialect.New())
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	if err := migrateClient(ctx, client, migrations.DialectPostgres); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func migrateClient(ctx context.Context, client *persistence.Client, dialect string) error {
	_, err := migrations.Register(ctx, func(_ context.Context, registered string, _ string, fsys fs.FS) error {
		if registered != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialect))
	if err != nil {
		return fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("sqlstore: apply migrations: %w", err)
	}
	return nil
}
