package revenue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUndefinedTable = "42P01"

// rowColumns are cast to text so the analytics view and the raw table scan
// into the same RawRow shape regardless of their column types.
var rowColumns = []string{
	"id::text",
	"client_name::text",
	"invoice_status::text",
	"date_issued::text",
	"date_paid::text",
	"line_total::text",
	"currency::text",
}

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Relation is a Postgres table or view exposing the invoice columns.
type Relation struct {
	name  string
	ident string
	db    Querier
}

// NewRelation binds a relation name, optionally schema-qualified.
func NewRelation(db Querier, name string) *Relation {
	return &Relation{
		name:  name,
		ident: pgx.Identifier(strings.Split(name, ".")).Sanitize(),
		db:    db,
	}
}

// Name implements RowSource.
func (r *Relation) Name() string {
	return r.name
}

// Count implements RowSource.
func (r *Relation) Count(ctx context.Context, f Filter) (int, error) {
	query, args, err := squirrel.
		Select("COUNT(*)").
		From(r.ident).
		Where(filterPredicate(f)).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("revenue: build count: %w", err)
	}
	var n int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, r.translate("count", err)
	}
	return int(n), nil
}

// Page implements RowSource. A non-empty cursor id switches from OFFSET to
// keyset paging so rows inserted mid-fetch cannot shift page boundaries.
func (r *Relation) Page(ctx context.Context, f Filter, cur Cursor, limit int) ([]RawRow, error) {
	builder := squirrel.
		Select(rowColumns...).
		From(r.ident).
		Where(filterPredicate(f)).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(squirrel.Dollar)
	switch {
	case cur.After != "":
		builder = builder.Where(squirrel.Gt{"id": cur.After})
	case cur.Offset > 0:
		builder = builder.Offset(uint64(cur.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("revenue: build page: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.translate("page", err)
	}
	defer rows.Close()

	out := make([]RawRow, 0, limit)
	for rows.Next() {
		var raw RawRow
		if err := rows.Scan(&raw.ID, &raw.ClientName, &raw.Status, &raw.DateIssued, &raw.DatePaid, &raw.LineTotal, &raw.Currency); err != nil {
			return nil, fmt.Errorf("revenue: scan %s: %w", r.name, err)
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, r.translate("page", err)
	}
	return out, nil
}

func (r *Relation) translate(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%w: %s", ErrRelationMissing, r.name)
	}
	return fmt.Errorf("revenue: %s %s: %w", op, r.name, err)
}

func filterPredicate(f Filter) squirrel.And {
	pred := squirrel.And{}
	if f.Status != "" {
		pred = append(pred, squirrel.Eq{"invoice_status": string(f.Status)})
	}
	if f.Field != FieldNone {
		column := string(f.Field)
		pred = append(pred, squirrel.NotEq{column: nil})
		if !f.From.IsZero() {
			pred = append(pred, squirrel.GtOrEq{column: f.From.Format(dateLayout)})
		}
		if !f.To.IsZero() {
			pred = append(pred, squirrel.LtOrEq{column: f.To.Format(dateLayout)})
		}
	}
	return pred
}
