// Package mirror is the off-chain copy of the ledger records. Every mutable
// row carries its ledger sync status, and ledger submissions are queued in
// the outbox table in the same transaction as the row they reconcile.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shreyes-7/AyurTrack-sub001/internal/db"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo reads and writes mirror rows. The zero Now uses the wall clock.
type Repo struct {
	DB     *sql.DB
	Driver string
	Now    func() time.Time

	tx *sql.Tx
}

func New(conn *sql.DB, driver string) Repo {
	return Repo{DB: conn, Driver: driver}
}

// InTx runs fn against a repo bound to one transaction. Nested calls reuse it.
func (r Repo) InTx(ctx context.Context, fn func(Repo) error) error {
	if r.tx != nil {
		return fn(r)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	bound := r
	bound.tx = tx
	if err := fn(bound); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r Repo) conn() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

func (r Repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.conn().ExecContext(ctx, db.Rebind(r.Driver, query), args...)
}

func (r Repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.conn().QueryContext(ctx, db.Rebind(r.Driver, query), args...)
}

func (r Repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.conn().QueryRowContext(ctx, db.Rebind(r.Driver, query), args...)
}

func (r Repo) now() string {
	if r.Now != nil {
		return rules.FormatTimestamp(r.Now())
	}
	return rules.FormatTimestamp(time.Now())
}

func (r Repo) exists(ctx context.Context, table, where string, args ...any) (bool, error) {
	var one int
	err := r.queryRow(ctx, `SELECT 1 FROM `+table+` WHERE `+where, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func affected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func marshalDoc(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode mirror record: %w", err)
	}
	return string(b), nil
}

func unmarshalDoc(doc string, v any) error {
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("corrupt mirror record: %w", err)
	}
	return nil
}

// Page selects a slice of a listing. Number is 1-based.
type Page struct {
	Number int
	Limit  int
	Sort   string // column, or -column for descending
}

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// orderBy resolves p.Sort against the sortable columns of a listing; the
// first column is the default and the tiebreaker.
func (p Page) orderBy(columns ...string) (string, error) {
	key := p.Sort
	dir := "ASC"
	if strings.HasPrefix(key, "-") {
		key, dir = key[1:], "DESC"
	}
	if key == "" {
		return columns[0] + " " + dir, nil
	}
	for _, c := range columns {
		if c == key {
			if c == columns[0] {
				return c + " " + dir, nil
			}
			return c + " " + dir + ", " + columns[0] + " ASC", nil
		}
	}
	return "", domain.InvalidArgument("cannot sort by %q (allowed: %s)", p.Sort, strings.Join(columns, ", "))
}

func (p Page) offset() int { return (p.Number - 1) * p.Limit }

// Result is one page of a listing.
type Result[T any] struct {
	Items []T `json:"items"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

func (r Repo) count(ctx context.Context, table, where string, args []any) (int, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&n)
	return n, err
}

// listDocs pages through the doc column of table.
func listDocs[T any](ctx context.Context, r Repo, table string, clauses []string, args []any, page Page, sortable []string) (Result[T], error) {
	page = page.normalize()
	order, err := page.orderBy(sortable...)
	if err != nil {
		return Result[T]{}, err
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	total, err := r.count(ctx, table, where, args)
	if err != nil {
		return Result[T]{}, err
	}
	rows, err := r.query(ctx, `SELECT doc FROM `+table+where+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(append([]any{}, args...), page.Limit, page.offset())...)
	if err != nil {
		return Result[T]{}, err
	}
	defer rows.Close()
	res := Result[T]{Items: []T{}, Page: page.Number, Limit: page.Limit, Total: total}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return Result[T]{}, err
		}
		var v T
		if err := unmarshalDoc(doc, &v); err != nil {
			return Result[T]{}, err
		}
		res.Items = append(res.Items, v)
	}
	return res, rows.Err()
}

// allDocs decodes the doc column of every row the query returns.
func allDocs[T any](ctx context.Context, r Repo, query string, args ...any) ([]T, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var v T
		if err := unmarshalDoc(doc, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r Repo) oneDoc(ctx context.Context, v any, notFound error, query string, args ...any) error {
	var doc string
	err := r.queryRow(ctx, query, args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return notFound
	}
	if err != nil {
		return err
	}
	return unmarshalDoc(doc, v)
}
