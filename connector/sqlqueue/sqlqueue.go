// Package sqlqueue provides table-backed queue connectors for romeways on
// SQLite (modernc.org/sqlite) and PostgreSQL (pgx). Every queue is a set of
// rows in one table; a pull deletes and returns the oldest rows atomically, so
// several processes can consume the same queue.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/drblury/romeways/connector"
)

const (
	SQLiteTypeName   = "sqlite"
	PostgresTypeName = "postgres"

	// DefaultTable is the table used when Config.Table is empty.
	DefaultTable = "romeways_messages"
)

var (
	// SQLiteType builds SQLite table queue connectors.
	SQLiteType = connector.Type{
		Name:         SQLiteTypeName,
		New:          newFactory(sqliteDialect),
		Capabilities: connector.SQLiteCapabilities,
	}

	// PostgresType builds PostgreSQL table queue connectors.
	PostgresType = connector.Type{
		Name:         PostgresTypeName,
		New:          newFactory(postgresDialect),
		Capabilities: connector.PostgresCapabilities,
	}
)

func init() {
	connector.Register(SQLiteType)
	connector.Register(PostgresType)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the database settings shared by every queue of a connector.
type Config struct {
	connector.Config
	// DSN is the driver data source name. For SQLite a file path, optionally
	// with modernc pragmas (see SQLiteDSN).
	DSN string `yaml:"dsn"`
	// Table holds the queued rows. Defaults to DefaultTable.
	Table string `yaml:"table"`
}

func (c Config) table() (string, error) {
	if c.Table == "" {
		return DefaultTable, nil
	}
	if !tableName.MatchString(c.Table) {
		return "", fmt.Errorf("sqlqueue: invalid table name %q", c.Table)
	}
	return c.Table, nil
}

// QueueConfig selects the queue of one itinerary. Queue defaults to the
// queue name.
type QueueConfig struct {
	connector.QueueConfig
	Queue string `yaml:"queue"`
}

var (
	_ connector.Settings      = Config{}
	_ connector.QueueSettings = QueueConfig{}
)

// SQLiteDSN returns a DSN for path with WAL journaling and a busy timeout, so
// several processes can share the file.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

type dialect struct {
	name   string
	driver string
	schema []string
	pull   string
	push   string
	// maxOpenConns limits the pool; zero leaves the driver default.
	maxOpenConns int
}

var sqliteDialect = dialect{
	name:   SQLiteTypeName,
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS %[1]s_queue_idx ON %[1]s(queue, id)`,
	},
	pull: `DELETE FROM %[1]s WHERE id IN (
		SELECT id FROM %[1]s WHERE queue = ? ORDER BY id LIMIT ?
	) RETURNING id, payload`,
	push:         `INSERT INTO %[1]s (queue, payload) VALUES (?, ?)`,
	maxOpenConns: 1,
}

var postgresDialect = dialect{
	name:   PostgresTypeName,
	driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			id BIGSERIAL PRIMARY KEY,
			queue TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS %[1]s_queue_idx ON %[1]s(queue, id)`,
	},
	pull: `DELETE FROM %[1]s WHERE id IN (
		SELECT id FROM %[1]s WHERE queue = $1 ORDER BY id LIMIT $2 FOR UPDATE SKIP LOCKED
	) RETURNING id, payload`,
	push: `INSERT INTO %[1]s (queue, payload) VALUES ($1, $2)`,
}

// Connector consumes one queue of a table.
type Connector struct {
	dialect dialect
	dsn     string
	table   string
	queue   string
	logger  watermill.LoggerAdapter

	mu sync.Mutex
	db *sql.DB
}

func newFactory(d dialect) connector.Factory {
	return func(_ context.Context, settings connector.Settings, queueName string, qs connector.QueueSettings, logger watermill.LoggerAdapter) (connector.Connector, error) {
		cfg, err := connector.As[Config](settings)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		qc, err := connector.As[QueueConfig](qs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%s: dsn is required", d.name)
		}
		table, err := cfg.table()
		if err != nil {
			return nil, err
		}
		if logger == nil {
			logger = watermill.NopLogger{}
		}
		queue := qc.Queue
		if queue == "" {
			queue = queueName
		}
		return &Connector{
			dialect: d,
			dsn:     cfg.DSN,
			table:   table,
			queue:   queue,
			logger:  logger.With(watermill.LogFields{"table": table, "queue": queue}),
		}, nil
	}
}

// OnStart opens the database and creates the table if needed.
func (c *Connector) OnStart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return nil
	}

	db, err := sql.Open(c.dialect.driver, c.dsn)
	if err != nil {
		return fmt.Errorf("%s: open database: %w", c.dialect.name, err)
	}
	if c.dialect.maxOpenConns > 0 {
		db.SetMaxOpenConns(c.dialect.maxOpenConns)
		db.SetMaxIdleConns(c.dialect.maxOpenConns)
	}
	for _, stmt := range c.dialect.schema {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(stmt, c.table)); err != nil {
			_ = db.Close()
			return fmt.Errorf("%s: initialize schema: %w", c.dialect.name, err)
		}
	}
	c.db = db
	c.logger.Debug("Table queue ready", nil)
	return nil
}

func (c *Connector) conn() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, connector.ErrConnectorNotReady
	}
	return c.db, nil
}

// GetMessages deletes and returns up to maxChunkSize of the oldest rows of the
// queue, in insertion order.
func (c *Connector) GetMessages(ctx context.Context, maxChunkSize int) ([][]byte, error) {
	out := [][]byte{}
	if maxChunkSize <= 0 {
		return out, nil
	}
	db, err := c.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(c.dialect.pull, c.table), c.queue, maxChunkSize)
	if err != nil {
		return nil, fmt.Errorf("%s: pull: %w", c.dialect.name, err)
	}
	defer rows.Close()

	type row struct {
		id      int64
		payload []byte
	}
	var pulled []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.payload); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", c.dialect.name, err)
		}
		pulled = append(pulled, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: pull: %w", c.dialect.name, err)
	}

	sort.Slice(pulled, func(i, j int) bool { return pulled[i].id < pulled[j].id })
	for _, r := range pulled {
		out = append(out, r.payload)
	}
	return out, nil
}

// SendMessages inserts one row.
func (c *Connector) SendMessages(ctx context.Context, payload []byte) error {
	db, err := c.conn()
	if err != nil {
		return err
	}
	if payload == nil {
		payload = []byte{}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(c.dialect.push, c.table), c.queue, payload); err != nil {
		return fmt.Errorf("%s: push: %w", c.dialect.name, err)
	}
	return nil
}

// Pending returns the number of queued rows.
func (c *Connector) Pending(ctx context.Context) (int64, error) {
	db, err := c.conn()
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue = ?", c.table)
	if c.dialect.name == PostgresTypeName {
		query = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE queue = $1", c.table)
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, c.queue).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count: %w", c.dialect.name, err)
	}
	return n, nil
}

// Close closes the database.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}
