package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when a ledger entry lookup matches no row.
var ErrEntryNotFound = errors.New("ledger entry not found")

// Entry is a single ledger entry within one fiscal year's partition.
type Entry struct {
	ID          string    `json:"id"`
	PostedAt    time.Time `json:"posted_at"`
	Account     string    `json:"account"`
	AmountCents int64     `json:"amount_cents"`
	Memo        string    `json:"memo,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateEntry inserts a ledger entry into the handle's partition. The entry
// must be posted within the handle's fiscal year; routing a June payment
// into last year's books is always a caller bug. A missing ID is filled
// with a random UUID.
func (h *Handle) CreateEntry(ctx context.Context, e *Entry) error {
	if e.Account == "" {
		return fmt.Errorf("entry account is required")
	}
	if !h.year.Contains(e.PostedAt) {
		return fmt.Errorf("entry posted at %s falls outside fiscal year %s",
			e.PostedAt.UTC().Format(time.RFC3339), h.year)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := h.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.entries (id, posted_at, account, amount_cents, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.schema), e.ID, e.PostedAt.UTC(), e.Account, e.AmountCents, e.Memo, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a ledger entry by ID.
func (h *Handle) GetEntry(ctx context.Context, id string) (*Entry, error) {
	row, err := h.queryRow(ctx, fmt.Sprintf(`
		SELECT id, posted_at, account, amount_cents, memo, created_at
		FROM %s.entries WHERE id = ?
	`, h.schema), id)
	if err != nil {
		return nil, err
	}

	var e Entry
	err = row.Scan(&e.ID, &e.PostedAt, &e.Account, &e.AmountCents, &e.Memo, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return &e, nil
}

// ListEntries returns entries in posting order, newest first. An empty
// account matches all accounts; limit <= 0 means no limit.
func (h *Handle) ListEntries(ctx context.Context, account string, limit int) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, posted_at, account, amount_cents, memo, created_at
		FROM %s.entries
	`, h.schema)
	var args []any
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY posted_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.query(ctx, query, args...)
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PostedAt, &e.Account, &e.AmountCents, &e.Memo, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// SumByAccount returns the balance of every account in the partition.
func (h *Handle) SumByAccount(ctx context.Context) (map[string]int64, error) {
	rows, err := h.query(ctx, fmt.Sprintf(`
		SELECT account, COALESCE(SUM(amount_cents), 0)
		FROM %s.entries GROUP BY account
	`, h.schema))
	if err != nil {
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to sum entries: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var account string
		var total int64
		if err := rows.Scan(&account, &total); err != nil {
			return nil, fmt.Errorf("failed to scan account sum: %w", err)
		}
		sums[account] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate account sums: %w", err)
	}
	return sums, nil
}

// CountEntries returns the number of entries in the partition.
func (h *Handle) CountEntries(ctx context.Context) (int64, error) {
	row, err := h.queryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.entries", h.schema))
	if err != nil {
		return 0, err
	}
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}
