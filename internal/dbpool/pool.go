// Package dbpool implements C1 Database Access: a pooled connection over a
// SQLite+sqlite-vec backend, schema bootstrap/migration, batch helpers, and
// a circuit breaker over pool acquisition. Adapted from the teacher's
// internal/store/local_core.go (WAL pragmas, bootstrap pattern) and
// itsneelabh-gomind/resilience/circuit_breaker.go (breaker state machine).
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
)

// HealthStatus is returned by Pool.Health.
type HealthStatus struct {
	Responsive     bool
	PoolUtilization float64
	Error          string
}

// Pool wraps *sql.DB with the sizing, timeout and circuit-breaker behavior
// spec.md §4.C1 requires.
type Pool struct {
	db       *sql.DB
	cfg      config.DBConfig
	breaker  *CircuitBreaker
	acquireTimeout time.Duration
}

// Open bootstraps a connection pool at path, applies WAL/busy_timeout
// pragmas the way local_core.go does, and runs schema migrations.
func Open(cfg config.DBConfig, workers int) (*Pool, error) {
	min, max := config.PoolBounds(workers)
	if cfg.PoolMin > 0 {
		min = cfg.PoolMin
	}
	if cfg.PoolMax > 0 {
		max = cfg.PoolMax
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	if cfg.Path == ":memory:" {
		// every pooled connection must see the same in-memory database
		dsn += "&cache=shared"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, erring.BackendUnavailable("dbpool.Open", err)
	}

	db.SetMaxOpenConns(max)
	db.SetMaxIdleConns(min)
	idleRecycle := time.Duration(cfg.IdleRecycleS) * time.Second
	if idleRecycle <= 0 {
		idleRecycle = 300 * time.Second
	}
	lifetimeRecycle := time.Duration(cfg.LifetimeRecyleS) * time.Second
	if lifetimeRecycle <= 0 {
		lifetimeRecycle = 3600 * time.Second
	}
	db.SetConnMaxIdleTime(idleRecycle)
	db.SetConnMaxLifetime(lifetimeRecycle)

	if err := db.Ping(); err != nil {
		return nil, erring.BackendUnavailable("dbpool.Open", err)
	}

	timeoutMS := cfg.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = 30000
	}

	p := &Pool{
		db:             db,
		cfg:            cfg,
		breaker:        NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		acquireTimeout: time.Duration(timeoutMS) * time.Millisecond,
	}

	if err := p.bootstrap(); err != nil {
		return nil, err
	}

	logging.DB("pool opened: path=%s pool_min=%d pool_max=%d", cfg.Path, min, max)
	return p, nil
}

// DB exposes the underlying *sql.DB for store packages that need direct
// prepared-statement access.
func (p *Pool) DB() *sql.DB { return p.db }

// Close closes the underlying pool.
func (p *Pool) Close() error { return p.db.Close() }

// Exec runs a statement through the circuit breaker.
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
		r, execErr := p.db.ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, classifyDBErr("dbpool.Exec", err)
	}
	return result, nil
}

// QueryRows runs a query through the circuit breaker and returns *sql.Rows.
// Callers must close the returned rows. The query runs under the caller's
// ctx with no acquire timeout added, since the rows are read after
// QueryRows returns and a cancelled context would close them.
func (p *Pool) QueryRows(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		r, qErr := p.db.QueryContext(ctx, query, args...)
		if qErr != nil {
			return qErr
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, classifyDBErr("dbpool.QueryRows", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query under the caller's ctx. It does not go
// through the circuit breaker, and no acquire timeout is added, since the
// row is scanned after QueryRow returns.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// InTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func (p *Pool) InTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return erring.BackendUnavailable("dbpool.InTransaction", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return erring.BackendUnavailable("dbpool.InTransaction", err)
	}
	return nil
}

// BatchInsert inserts rows into table(cols...) in a single transaction,
// matching spec.md §4.C1's batch_insert helper.
func (p *Pool) BatchInsert(ctx context.Context, table string, cols []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	placeholder := "(" + placeholders(len(cols)) + ")"
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, joinCols(cols), placeholder)

	return p.InTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return erring.BackendUnavailable("dbpool.BatchInsert", err)
		}
		defer stmt.Close()
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return erring.BackendUnavailable("dbpool.BatchInsert", err)
			}
		}
		return nil
	})
}

// Health reports responsiveness and pool utilization per spec.md §4.C1.
func (p *Pool) Health(ctx context.Context) HealthStatus {
	stats := p.db.Stats()
	util := 0.0
	if stats.MaxOpenConnections > 0 {
		util = float64(stats.InUse) / float64(stats.MaxOpenConnections)
	}
	ctx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return HealthStatus{Responsive: false, PoolUtilization: util, Error: err.Error()}
	}
	return HealthStatus{Responsive: true, PoolUtilization: util}
}

func placeholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s
}

func joinCols(cols []string) string {
	s := ""
	for i, c := range cols {
		if i > 0 {
			s += ", "
		}
		s += c
	}
	return s
}

func classifyDBErr(op string, err error) error {
	if err == context.DeadlineExceeded {
		return erring.Timeout(op, err)
	}
	if err == ErrCircuitOpen {
		return erring.BackendUnavailable(op, err)
	}
	return erring.BackendUnavailable(op, err)
}
