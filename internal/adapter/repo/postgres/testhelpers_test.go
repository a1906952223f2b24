package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row.
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a fixed list of scan functions. Embedding
// the interface panics on the methods the repos never call.
type rowsStub struct {
	pgx.Rows
	scans  []func(dest ...any) error
	idx    int
	err    error
	closed bool
}

func (r *rowsStub) Next() bool {
	if r.idx >= len(r.scans) {
		return false
	}
	r.idx++
	return true
}

func (r *rowsStub) Scan(dest ...any) error { return r.scans[r.idx-1](dest...) }
func (r *rowsStub) Err() error             { return r.err }
func (r *rowsStub) Close()                 { r.closed = true }

// txStub implements pgx.Tx for the transaction surface the repos use.
type txStub struct {
	pgx.Tx
	exec       func(sql string, args []any) (pgconn.CommandTag, error)
	queryRow   func(sql string, args []any) pgx.Row
	commitErr  error
	committed  bool
	rolledBack bool
	execs      []string
}

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	if t.exec == nil {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return t.exec(sql, args)
}

func (t *txStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.queryRow == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no tx row configured") }}
	}
	return t.queryRow(sql, args)
}

func (t *txStub) Commit(_ context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *txStub) Rollback(_ context.Context) error {
	t.rolledBack = true
	return nil
}

// poolStub implements postgres.PgxPool for tests. Defined in a shared helper
// so multiple *_test.go files can reuse it without redefinitions.
type poolStub struct {
	exec     func(sql string, args []any) (pgconn.CommandTag, error)
	queryRow func(sql string, args []any) pgx.Row
	query    func(sql string, args []any) (pgx.Rows, error)
	tx       *txStub
	beginErr error
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.exec == nil {
		return pgconn.CommandTag{}, errors.New("unexpected Exec")
	}
	return p.exec(sql, args)
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRow == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.queryRow(sql, args)
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.query == nil {
		return nil, errors.New("unexpected Query")
	}
	return p.query(sql, args)
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &txStub{}
	}
	return p.tx, nil
}
