package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgx used to run statements.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RefreshMaterializedView rebuilds a materialized view. CONCURRENTLY keeps the
// view readable during the rebuild and requires a unique index on it.
func RefreshMaterializedView(ctx context.Context, db Execer, view string, concurrently bool) error {
	stmt := RefreshStatement(view, concurrently)
	if _, err := db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("platform/db: refresh %s: %w", view, err)
	}
	return nil
}

// RefreshStatement renders the REFRESH statement with a quoted identifier.
func RefreshStatement(view string, concurrently bool) string {
	ident := pgx.Identifier(strings.Split(view, ".")).Sanitize()
	if concurrently {
		return "REFRESH MATERIALIZED VIEW CONCURRENTLY " + ident
	}
	return "REFRESH MATERIALIZED VIEW " + ident
}
