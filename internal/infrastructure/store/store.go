package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"go-retainer-tracker/internal/domain"
	"go-retainer-tracker/internal/infrastructure/logger"
)

// ErrNotFound is returned when no row matches the given identifier,
// slug or admin token.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL UNIQUE,
	admin_token TEXT NOT NULL UNIQUE,
	total_hours REAL NOT NULL,
	refill_link TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS work_logs (
	id          TEXT PRIMARY KEY,
	client_id   TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	description TEXT NOT NULL,
	hours       REAL NOT NULL,
	logged_at   INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_work_logs_client ON work_logs(client_id, logged_at DESC);
`

// Config holds the parameters for opening the ledger store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// file is created if it does not exist. Use ":memory:" with
	// PoolSize 1 for tests.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative. SQLite serializes writes regardless of
	// pool size; extra connections only help concurrent reads.
	PoolSize int

	Logger logger.Logger
}

// Store is the durable ledger: clients and the work logs recorded
// against their hour balances. Safe for concurrent use; individual
// connections are not, so every method takes its own connection from
// the pool and returns it when done.
type Store struct {
	pool   *sqlitex.Pool
	logger logger.Logger
}

// Open creates the connection pool, applies pragmas per connection and
// ensures the schema exists. The caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	s := &Store{
		pool:   pool,
		logger: cfg.Logger.WithField("component", "store"),
	}

	s.logger.Infof("Ledger store opened at %s (pool size %d)", cfg.Path, poolSize)
	return s, nil
}

// Close closes all connections in the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	s.logger.Info("Ledger store closed")
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// CreateClient inserts a new client row.
func (s *Store) CreateClient(ctx context.Context, client *domain.Client) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: create client: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO clients
		(id, name, slug, admin_token, total_hours, refill_link, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				client.ID,
				client.Name,
				client.Slug,
				client.AdminToken,
				client.TotalHours,
				client.RefillLink,
				string(client.Status),
				client.CreatedAt.Unix(),
				client.UpdatedAt.Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: create client: %w", err)
	}
	return nil
}

// ClientBySlug resolves a client by its public slug.
func (s *Store) ClientBySlug(ctx context.Context, slug string) (domain.Client, error) {
	return s.clientWhere(ctx, "slug = ?", slug)
}

// ClientByAdminToken resolves a client by its private admin token.
func (s *Store) ClientByAdminToken(ctx context.Context, token string) (domain.Client, error) {
	return s.clientWhere(ctx, "admin_token = ?", token)
}

// ClientByID resolves a client by its opaque identifier.
func (s *Store) ClientByID(ctx context.Context, id string) (domain.Client, error) {
	return s.clientWhere(ctx, "id = ?", id)
}

func (s *Store) clientWhere(ctx context.Context, cond string, arg any) (domain.Client, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.Client{}, fmt.Errorf("store: query client: %w", err)
	}
	defer s.pool.Put(conn)

	var client domain.Client
	found := false

	query := "SELECT id, name, slug, admin_token, total_hours, refill_link, status, " +
		"created_at, updated_at FROM clients WHERE " + cond

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			client = scanClient(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return domain.Client{}, fmt.Errorf("store: query client: %w", err)
	}
	if !found {
		return domain.Client{}, ErrNotFound
	}
	return client, nil
}

func scanClient(stmt *sqlite.Stmt) domain.Client {
	return domain.Client{
		ID:         stmt.ColumnText(0),
		Name:       stmt.ColumnText(1),
		Slug:       stmt.ColumnText(2),
		AdminToken: stmt.ColumnText(3),
		TotalHours: stmt.ColumnFloat(4),
		RefillLink: stmt.ColumnText(5),
		Status:     domain.ClientStatus(stmt.ColumnText(6)),
		CreatedAt:  time.Unix(stmt.ColumnInt64(7), 0).UTC(),
		UpdatedAt:  time.Unix(stmt.ColumnInt64(8), 0).UTC(),
	}
}

// UpdateClient writes the mutable client fields (name, total hours,
// refill link, status) back to the row.
func (s *Store) UpdateClient(ctx context.Context, client *domain.Client) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: update client: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE clients
		SET name = ?, total_hours = ?, refill_link = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				client.Name,
				client.TotalHours,
				client.RefillLink,
				string(client.Status),
				time.Now().Unix(),
				client.ID,
			},
		})
	if err != nil {
		return fmt.Errorf("store: update client: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustTotalHours atomically adds delta to a client's balance and
// returns the new total. A single UPDATE keeps concurrent refills and
// adjustments from losing increments.
func (s *Store) AdjustTotalHours(ctx context.Context, clientID string, delta float64) (float64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: adjust hours: %w", err)
	}
	defer s.pool.Put(conn)

	var total float64
	found := false

	err = sqlitex.Execute(conn, `UPDATE clients
		SET total_hours = total_hours + ?, updated_at = ?
		WHERE id = ?
		RETURNING total_hours`,
		&sqlitex.ExecOptions{
			Args: []any{delta, time.Now().Unix(), clientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				total = stmt.ColumnFloat(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: adjust hours: %w", err)
	}
	if !found {
		return 0, ErrNotFound
	}
	return total, nil
}

// DeleteClient removes a client row; work logs cascade.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete client: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM clients WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{clientID},
	})
	if err != nil {
		return fmt.Errorf("store: delete client: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertWorkLog appends one log entry.
func (s *Store) InsertWorkLog(ctx context.Context, log *domain.WorkLog) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: insert log: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO work_logs
		(id, client_id, description, hours, logged_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				log.ID,
				log.ClientID,
				log.Description,
				log.Hours,
				log.LoggedAt.Unix(),
				log.CreatedAt.Unix(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert log: %w", err)
	}
	return nil
}

// WorkLogByID fetches a single log entry.
func (s *Store) WorkLogByID(ctx context.Context, logID string) (domain.WorkLog, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return domain.WorkLog{}, fmt.Errorf("store: query log: %w", err)
	}
	defer s.pool.Put(conn)

	var log domain.WorkLog
	found := false

	err = sqlitex.Execute(conn, `SELECT id, client_id, description, hours, logged_at, created_at
		FROM work_logs WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{logID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				log = scanWorkLog(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return domain.WorkLog{}, fmt.Errorf("store: query log: %w", err)
	}
	if !found {
		return domain.WorkLog{}, ErrNotFound
	}
	return log, nil
}

// DeleteWorkLog removes one log entry.
func (s *Store) DeleteWorkLog(ctx context.Context, logID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete log: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM work_logs WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{logID},
	})
	if err != nil {
		return fmt.Errorf("store: delete log: %w", err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// WorkLogsByClient lists a client's log entries, most recent first.
func (s *Store) WorkLogsByClient(ctx context.Context, clientID string) ([]domain.WorkLog, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list logs: %w", err)
	}
	defer s.pool.Put(conn)

	logs := make([]domain.WorkLog, 0)
	err = sqlitex.Execute(conn, `SELECT id, client_id, description, hours, logged_at, created_at
		FROM work_logs WHERE client_id = ? ORDER BY logged_at DESC, created_at DESC`,
		&sqlitex.ExecOptions{
			Args: []any{clientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				logs = append(logs, scanWorkLog(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list logs: %w", err)
	}
	return logs, nil
}

// HoursUsed sums the hours logged against a client.
func (s *Store) HoursUsed(ctx context.Context, clientID string) (float64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: hours used: %w", err)
	}
	defer s.pool.Put(conn)

	var used float64
	err = sqlitex.Execute(conn, `SELECT COALESCE(SUM(hours), 0) FROM work_logs WHERE client_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{clientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				used = stmt.ColumnFloat(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: hours used: %w", err)
	}
	return used, nil
}

func scanWorkLog(stmt *sqlite.Stmt) domain.WorkLog {
	return domain.WorkLog{
		ID:          stmt.ColumnText(0),
		ClientID:    stmt.ColumnText(1),
		Description: stmt.ColumnText(2),
		Hours:       stmt.ColumnFloat(3),
		LoggedAt:    time.Unix(stmt.ColumnInt64(4), 0).UTC(),
		CreatedAt:   time.Unix(stmt.ColumnInt64(5), 0).UTC(),
	}
}
