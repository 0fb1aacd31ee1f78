package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yeardb/yeardb/internal/fiscal"
)

func openTestRouter(t *testing.T, clock func() time.Time) *Router {
	t.Helper()
	r, err := Open(Config{
		DataDir: t.TempDir(),
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("failed to open router: %v", err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCurrent_SameFiscalYearResolvesSameDatabase(t *testing.T) {
	now := time.Date(2024, time.September, 10, 12, 0, 0, 0, time.UTC)
	r := openTestRouter(t, fixedClock(now))
	ctx := context.Background()

	h1, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("first Current failed: %v", err)
	}
	h2, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("second Current failed: %v", err)
	}

	if h1.Label() != "2024_2025" || h2.Label() != "2024_2025" {
		t.Fatalf("labels = %s, %s, want 2024_2025", h1.Label(), h2.Label())
	}

	// A write through one handle is visible through the other.
	e := &Entry{PostedAt: now, Account: "revenue", AmountCents: 1500}
	if err := h1.CreateEntry(ctx, e); err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}
	got, err := h2.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("entry written via h1 not readable via h2: %v", err)
	}
	if got.Account != "revenue" || got.AmountCents != 1500 {
		t.Errorf("got entry %+v, want account=revenue amount=1500", got)
	}
}

func TestForYear_HistoricalIsDistinctFromCurrent(t *testing.T) {
	now := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	r := openTestRouter(t, fixedClock(now))
	ctx := context.Background()

	current, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	historical, err := r.ForYear(ctx, "2023_2024")
	if err != nil {
		t.Fatalf("ForYear failed: %v", err)
	}

	if current.Label() == historical.Label() {
		t.Fatalf("historical handle resolved to the current year %s", current.Label())
	}

	// Data does not leak across partitions.
	e := &Entry{PostedAt: time.Date(2023, time.August, 1, 0, 0, 0, 0, time.UTC), Account: "supplies", AmountCents: -2000}
	if err := historical.CreateEntry(ctx, e); err != nil {
		t.Fatalf("failed to create historical entry: %v", err)
	}
	if _, err := current.GetEntry(ctx, e.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("historical entry visible in current partition, err = %v", err)
	}
}

func TestForYear_InvalidLabel(t *testing.T) {
	r := openTestRouter(t, nil)

	for _, label := range []string{"not-a-year", "2023_2025", "2023", ""} {
		_, err := r.ForYear(context.Background(), label)
		if !errors.Is(err, ErrInvalidLabel) {
			t.Errorf("ForYear(%q) err = %v, want ErrInvalidLabel", label, err)
		}
	}
}

func TestShutdown_ClosesExactlyOnceAndFailsFurtherOps(t *testing.T) {
	now := time.Date(2024, time.December, 25, 0, 0, 0, 0, time.UTC)
	r := openTestRouter(t, fixedClock(now))
	ctx := context.Background()

	h, err := r.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := r.Shutdown(); err != nil {
		t.Errorf("second Shutdown returned error: %v", err)
	}

	if _, err := r.Current(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Current after shutdown: err = %v, want ErrClosed", err)
	}
	if _, err := r.ForYear(ctx, "2023_2024"); !errors.Is(err, ErrClosed) {
		t.Errorf("ForYear after shutdown: err = %v, want ErrClosed", err)
	}
	if err := h.CreateEntry(ctx, &Entry{PostedAt: now, Account: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateEntry on stale handle: err = %v, want ErrClosed", err)
	}
	if _, err := h.GetEntry(ctx, "anything"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetEntry on stale handle: err = %v, want ErrClosed", err)
	}
}

func TestShutdown_Concurrent(t *testing.T) {
	r := openTestRouter(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Shutdown()
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Shutdown %d returned error: %v", i, err)
		}
	}
}

func TestConcurrentFirstAccess_InitializesOnce(t *testing.T) {
	r := openTestRouter(t, nil)
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i], errs[i] = r.ForYear(ctx, "2022_2023")
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if handles[i] != handles[0] {
			t.Errorf("caller %d got a different handle", i)
		}
	}

	// Migration ledger recorded exactly one application per version.
	conn, err := r.acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	var count int
	err = conn.QueryRow("SELECT COUNT(*) FROM fy_2022_2023.schema_migrations").Scan(&count)
	if err != nil {
		t.Fatalf("failed to read migration ledger: %v", err)
	}
	if count != len(partitionMigrations) {
		t.Errorf("schema_migrations rows = %d, want %d", count, len(partitionMigrations))
	}
}

func TestReopen_MigrationsIdempotentAndDataSurvives(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, time.October, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	r1, err := Open(Config{DataDir: dir, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	h1, err := r1.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	e := &Entry{PostedAt: now, Account: "payroll", AmountCents: -500000}
	if err := h1.CreateEntry(ctx, e); err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}
	if err := r1.Shutdown(); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	r2, err := Open(Config{DataDir: dir, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer r2.Shutdown()

	h2, err := r2.Current(ctx)
	if err != nil {
		t.Fatalf("Current after reopen failed: %v", err)
	}
	got, err := h2.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("entry lost across restart: %v", err)
	}
	if got.AmountCents != -500000 {
		t.Errorf("AmountCents = %d, want -500000", got.AmountCents)
	}
}

func TestOpen_CreatesPartitionFilesLazily(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer r.Shutdown()

	if _, err := os.Stat(filepath.Join(dir, "fy_2021_2022.db")); !os.IsNotExist(err) {
		t.Fatalf("partition file exists before first access, stat err = %v", err)
	}

	if _, err := r.ForYear(context.Background(), "2021_2022"); err != nil {
		t.Fatalf("ForYear failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fy_2021_2022.db")); err != nil {
		t.Errorf("partition file missing after first access: %v", err)
	}
}

func TestPartitionFileNaming(t *testing.T) {
	y := fiscal.Year(2024)
	if got := PartitionFile(y); got != "fy_2024_2025.db" {
		t.Errorf("PartitionFile = %q, want fy_2024_2025.db", got)
	}
	if got := SchemaName(y); got != "fy_2024_2025" {
		t.Errorf("SchemaName = %q, want fy_2024_2025", got)
	}

	year, ok := ParsePartitionFile("/data/fy_2024_2025.db")
	if !ok || year != 2024 {
		t.Errorf("ParsePartitionFile(fy_2024_2025.db) = %v, %v", year, ok)
	}
	for _, name := range []string{
		"catalog.db",
		"fy_2024_2025.db-wal",
		"fy_2024_2026.db",
		"fy_abc_def.db",
		"yeardb.log",
	} {
		if _, ok := ParsePartitionFile(name); ok {
			t.Errorf("ParsePartitionFile(%q) accepted a non-partition name", name)
		}
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	r := openTestRouter(t, nil)

	if val, err := r.GetSetting("missing"); err != nil || val != "" {
		t.Fatalf("GetSetting(missing) = %q, %v, want empty", val, err)
	}
	if err := r.SetSetting("rollover.lead_days", "30"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := r.SetSetting("rollover.lead_days", "7"); err != nil {
		t.Fatalf("SetSetting overwrite failed: %v", err)
	}
	if val, err := r.GetSetting("rollover.lead_days"); err != nil || val != "7" {
		t.Fatalf("GetSetting = %q, %v, want 7", val, err)
	}

	all, err := r.GetAllSettings(context.Background())
	if err != nil {
		t.Fatalf("GetAllSettings failed: %v", err)
	}
	if all["rollover.lead_days"] != "7" {
		t.Errorf("GetAllSettings = %v, want rollover.lead_days=7", all)
	}
}

func TestMaintenance(t *testing.T) {
	r := openTestRouter(t, nil)
	ctx := context.Background()

	if _, err := r.ForYear(ctx, "2020_2021"); err != nil {
		t.Fatalf("ForYear failed: %v", err)
	}
	if err := r.Optimize(ctx); err != nil {
		t.Errorf("Optimize failed: %v", err)
	}
	if err := r.Vacuum(ctx); err != nil {
		t.Errorf("Vacuum failed: %v", err)
	}

	r.Shutdown()
	if err := r.Optimize(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Optimize after shutdown: err = %v, want ErrClosed", err)
	}
}
