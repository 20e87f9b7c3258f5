package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore persists records as JSONB documents, one row per key.
// Update takes a row lock (SELECT ... FOR UPDATE) so concurrent mutations
// of the same key serialize on the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and runs migrations.
func NewPostgresStore(config PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS aip_records (
		key TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_aip_records_state ON aip_records ((doc->>'state'));
	CREATE INDEX IF NOT EXISTS idx_aip_records_created ON aip_records (created_at);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const upsertQuery = `
	INSERT INTO aip_records (key, doc, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
`

// Put writes value under key, replacing any previous record.
func (s *PostgresStore) Put(ctx context.Context, key string, value map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, upsertQuery, key, doc)
	return err
}

// Get returns the record stored under key, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM aip_records WHERE key = $1", key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var value map[string]any
	if err := json.Unmarshal(doc, &value); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return value, nil
}

// Update applies mutate inside a transaction holding a row lock on key.
func (s *PostgresStore) Update(ctx context.Context, key string, mutate Mutator) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current map[string]any
	var doc []byte
	err = tx.QueryRowContext(ctx, "SELECT doc FROM aip_records WHERE key = $1 FOR UPDATE", key).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Absent record: the mutator decides whether to create one.
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(doc, &current); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
	}

	next, err := mutate(current)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertQuery, key, encoded); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// CreateIfAbsent inserts value, reporting ErrExists when the key is taken.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, key string, value map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO aip_records (key, doc) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING", key, doc)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrExists
	}
	return nil
}

// AppendEvent appends event to the record's events array.
func (s *PostgresStore) AppendEvent(ctx context.Context, key string, event map[string]any) error {
	return appendEventViaUpdate(ctx, s, key, event)
}

// List returns all records whose key starts with prefix, ordered by key.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM aip_records WHERE key LIKE $1 || '%' ORDER BY key", prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		var value map[string]any
		if err := json.Unmarshal(doc, &value); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
