package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/scrub-gateway/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore keeps each record as a JSONB document in a table named after
// the collection. Allowed audiences live in a second table with a client_id column.
type PostgresStore struct {
	db             *sql.DB
	table          string
	allowlistTable string
	newID          func() string
	observer
}

// NewPostgresStore validates the table names and returns a store over db.
func NewPostgresStore(db *sql.DB, table, allowlistTable string, opts Options) (*PostgresStore, error) {
	for _, name := range []string{table, allowlistTable} {
		if !tableNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &PostgresStore{
		db:             db,
		table:          pq.QuoteIdentifier(table),
		allowlistTable: pq.QuoteIdentifier(allowlistTable),
		newID:          uuid.NewString,
		observer:       observer{opts: opts},
	}, nil
}

// OpenPostgres opens a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the two tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (client_id TEXT PRIMARY KEY)`, s.allowlistTable),
	}
	return s.call(ctx, "migrate", func(ctx context.Context) error {
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating schema: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Create(ctx context.Context, rec *domain.FileRecord) (string, error) {
	rec.ID = s.newID()
	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, doc, created_at) VALUES ($1, $2, $3)`, s.table)
	err = s.call(ctx, "create", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, rec.ID, doc, rec.Timestamp)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("inserting record: %w", err)
	}
	return rec.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.FileRecord, bool, error) {
	var doc []byte
	q := fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, s.table)
	err := s.call(ctx, "get", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, q, id).Scan(&doc)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting record %s: %w", id, err)
	}

	var rec domain.FileRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, false, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &rec, true, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, rec *domain.FileRecord) (bool, error) {
	rec.ID = id
	doc, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshaling record: %w", err)
	}
	q := fmt.Sprintf(`UPDATE %s SET doc = $2 WHERE id = $1`, s.table)
	return s.exec(ctx, "update", q, id, doc)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	return s.exec(ctx, "delete", q, id)
}

func (s *PostgresStore) SetNotification(ctx context.Context, id string, n domain.Notification) (bool, error) {
	doc, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("marshaling notification: %w", err)
	}
	q := fmt.Sprintf(`UPDATE %s SET doc = jsonb_set(doc, '{notification}', $2::jsonb) WHERE id = $1`, s.table)
	return s.exec(ctx, "set_notification", q, id, doc)
}

// exec runs a single-row statement and reports whether a row matched.
func (s *PostgresStore) exec(ctx context.Context, op, q string, args ...any) (bool, error) {
	var n int64
	err := s.call(ctx, op, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%s record: %w", op, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.FileRecord, error) {
	var recs []domain.FileRecord
	q := fmt.Sprintf(`SELECT doc FROM %s ORDER BY created_at`, s.table)
	err := s.call(ctx, "list", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var doc []byte
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			var rec domain.FileRecord
			if err := json.Unmarshal(doc, &rec); err != nil {
				continue
			}
			recs = append(recs, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) AllowedAudiences(ctx context.Context) ([]string, error) {
	var ids []string
	q := fmt.Sprintf(`SELECT client_id FROM %s`, s.allowlistTable)
	err := s.call(ctx, "allowlist", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id sql.NullString
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id.String)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("selecting allow-list: %w", err)
	}
	return cleanAudiences(ids), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", s.db.PingContext)
}
