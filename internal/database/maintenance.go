package database

import (
	"context"
	"fmt"
)

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats across
// the catalog and all attached partitions.
func (r *Router) Optimize(ctx context.Context) error {
	conn, err := r.acquire()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}
	return nil
}

// Vacuum rebuilds the catalog database file to reclaim unused space.
// Attached partitions are skipped; VACUUM only operates on main.
func (r *Router) Vacuum(ctx context.Context) error {
	conn, err := r.acquire()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
