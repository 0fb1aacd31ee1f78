package database

import (
	"context"
	"database/sql"

	"github.com/yeardb/yeardb/internal/fiscal"
)

// Handle is a transient view over one fiscal year's partition on the
// router's shared connection. Handles carry no resources of their own and
// must not be closed; closing the router invalidates every handle at once.
type Handle struct {
	router *Router
	year   fiscal.Year
	schema string
}

// Year returns the fiscal year this handle addresses.
func (h *Handle) Year() fiscal.Year {
	return h.year
}

// Label returns the fiscal year label, e.g. "2024_2025".
func (h *Handle) Label() string {
	return h.year.Label()
}

func (h *Handle) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := h.router.acquire()
	if err != nil {
		return nil, err
	}
	return conn.ExecContext(ctx, query, args...)
}

func (h *Handle) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := h.router.acquire()
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

func (h *Handle) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	conn, err := h.router.acquire()
	if err != nil {
		return nil, err
	}
	return conn.QueryRowContext(ctx, query, args...), nil
}
