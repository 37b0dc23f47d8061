package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"bfv-inference/he"
)

const schema = `CREATE TABLE IF NOT EXISTS models (
	name             VARCHAR(64) NOT NULL PRIMARY KEY,
	model_type       VARCHAR(64) NOT NULL,
	classes          INT NOT NULL,
	features         INT NOT NULL,
	precision_factor BIGINT NOT NULL,
	weights          JSON NOT NULL,
	updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`

// MySQLDSN builds a DSN for a TCP MySQL server.
func MySQLDSN(user, password, addr, database string) string {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Timeout = 5 * time.Second
	return cfg.FormatDSN()
}

// SQLStore keeps models in a MySQL table, one row per model with the weights
// as a JSON array of rows.
type SQLStore struct {
	db *sql.DB
}

// OpenMySQL connects to the database named in dsn.
func OpenMySQL(dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)
	return NewSQLStore(db), nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureSchema creates the models table if needed.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create models table: %w", err)
	}
	return nil
}

// Put inserts or replaces m.
func (s *SQLStore) Put(ctx context.Context, m *Model) error {
	weights, err := json.Marshal(m.Weights())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO models (name, model_type, classes, features, precision_factor, weights)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE model_type = VALUES(model_type), classes = VALUES(classes),
		   features = VALUES(features), precision_factor = VALUES(precision_factor), weights = VALUES(weights)`,
		m.Name, m.Type, m.Classes(), m.Features(), m.Precision, weights)
	if err != nil {
		return fmt.Errorf("failed to store model %s: %w", m.Name, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, name string) (*Model, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var (
		modelType         string
		classes, features int
		prec              int64
		raw               []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model_type, classes, features, precision_factor, weights FROM models WHERE name = ?`, name,
	).Scan(&modelType, &classes, &features, &prec, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", he.ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model %s: %w", name, err)
	}

	return decodeRow(name, modelType, classes, features, prec, raw)
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func decodeRow(name, modelType string, classes, features int, prec int64, raw []byte) (*Model, error) {
	var weights [][]float64
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("model %s: bad weights column: %w", name, err)
	}
	m, err := New(name, weights, prec)
	if err != nil {
		return nil, err
	}
	if m.Classes() != classes || m.Features() != features {
		return nil, fmt.Errorf("model %s: stored shape %dx%d does not match weights %dx%d",
			name, classes, features, m.Classes(), m.Features())
	}
	if modelType != "" {
		m.Type = modelType
	}
	return m, nil
}
