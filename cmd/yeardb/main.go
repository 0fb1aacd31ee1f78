package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yeardb/yeardb/internal/config"
	"github.com/yeardb/yeardb/internal/database"
	"github.com/yeardb/yeardb/internal/dirwatch"
	"github.com/yeardb/yeardb/internal/fiscal"
	"github.com/yeardb/yeardb/internal/logging"
	"github.com/yeardb/yeardb/internal/rollover"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	dataDir   string
	verbosity int

	// Timeout flags (advanced)
	connectTimeout time.Duration
	queryTimeout   time.Duration

	// add flags
	addAccount string
	addAmount  int64
	addMemo    string
	addDate    string

	// list flags
	listYear    string
	listAccount string
	listLimit   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "yeardb",
		Short: "Yeardb - fiscal-year partitioned ledger store",
		Long:  `Yeardb keeps ledger data partitioned into one database per fiscal year (June 1 - May 31), routes writes to the right partition by date, and keeps upcoming partitions provisioned.`,
		RunE:  runDaemon,
	}

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "./yeardb-data", "Directory holding the catalog and fiscal year databases (or set DATA_DIR env var)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	// Advanced timeout flags
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "Timeout for opening the catalog database")
	rootCmd.PersistentFlags().DurationVar(&queryTimeout, "query-timeout", 30*time.Second, "Timeout for routing and maintenance operations")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("yeardb %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current fiscal year and available partitions",
		RunE:  runStatus,
	})

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a ledger entry, routed to the fiscal year of its posting date",
		RunE:  runAdd,
	}
	addCmd.Flags().StringVar(&addAccount, "account", "", "Account the entry posts to (required)")
	addCmd.Flags().Int64Var(&addAmount, "amount", 0, "Amount in cents, negative for debits (required)")
	addCmd.Flags().StringVar(&addMemo, "memo", "", "Free-form memo")
	addCmd.Flags().StringVar(&addDate, "date", "", "Posting date (YYYY-MM-DD or RFC3339), default now")
	rootCmd.AddCommand(addCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries for a fiscal year",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listYear, "year", "", "Fiscal year label (e.g. 2023_2024), default current")
	listCmd.Flags().StringVar(&listAccount, "account", "", "Only entries for this account")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries to print, 0 for all")
	rootCmd.AddCommand(listCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "maintenance",
		Short: "Optimize and vacuum the catalog database",
		RunE:  runMaintenance,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves flags, configures logging and opens the router.
func setup(withLogFile bool) (*database.Router, error) {
	if dataDir == "./yeardb-data" {
		if envDir := os.Getenv("DATA_DIR"); envDir != "" {
			dataDir = envDir
		}
	}

	logging.Apply(verbosity, nil, "")

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		Connect: connectTimeout,
		Query:   queryTimeout,
	})

	r, err := database.Open(database.Config{DataDir: dataDir})
	if err != nil {
		return nil, err
	}

	// Now that the catalog is reachable, rotation settings can come from it
	// and logs can live next to the data.
	if withLogFile {
		loader := config.NewLoader(r)
		logging.Apply(verbosity, loader, logging.FilePathForDataDir(dataDir))
	}
	return r, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	r, err := setup(true)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	log.Info().
		Str("version", version).
		Str("data_dir", r.DataDir()).
		Str("fiscal_year", fiscal.YearOf(time.Now()).Label()).
		Msg("Starting yeardb")

	rolloverMgr := rollover.NewManager(r)
	if err := rolloverMgr.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start rollover manager")
	}
	defer rolloverMgr.Stop()

	watcher, err := dirwatch.New(r.DataDir())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize partition watcher")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start partition watcher")
		} else {
			defer watcher.Stop()
		}
	}

	// Touch the current partition up front so the first caller does not pay
	// the attach cost.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmCtx, warmCancel := context.WithTimeout(ctx, config.GetTimeouts().Query)
	if _, err := r.Current(warmCtx); err != nil {
		warmCancel()
		log.Fatal().Err(err).Msg("Failed to open current fiscal year partition")
	}
	warmCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		// Closing the router here unblocks any in-flight routing work; the
		// normal path below calls Shutdown again and that second call is a
		// no-op.
		if err := r.Shutdown(); err != nil {
			log.Error().Err(err).Msg("Error closing database router")
		}
		cancel()
	}()

	<-ctx.Done()
	log.Info().Msg("Yeardb stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	r, err := setup(false)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	now := time.Now().UTC()
	current := fiscal.YearOf(now)
	fmt.Printf("current fiscal year: %s\n", current.Label())
	fmt.Printf("data directory:      %s\n", r.DataDir())

	dirEntries, err := os.ReadDir(r.DataDir())
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}
	var years []fiscal.Year
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if y, ok := database.ParsePartitionFile(de.Name()); ok {
			years = append(years, y)
		}
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Query)
	defer cancel()

	if len(years) == 0 {
		fmt.Println("partitions:          none")
	} else {
		fmt.Println("partitions:")
		for _, y := range years {
			h, err := r.ForYear(ctx, y.Label())
			if err != nil {
				return err
			}
			count, err := h.CountEntries(ctx)
			if err != nil {
				return err
			}
			marker := ""
			if y == current {
				marker = "  (current)"
			}
			fmt.Printf("  %s  %d entries%s\n", y.Label(), count, marker)
		}
	}

	if last, err := r.GetSetting("rollover.last_provisioned"); err == nil && last != "" {
		fmt.Printf("last provisioned:    %s\n", last)
	}
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	if addAccount == "" {
		return fmt.Errorf("--account is required")
	}
	if addAmount == 0 {
		return fmt.Errorf("--amount is required and must be non-zero")
	}

	postedAt := time.Now().UTC()
	if addDate != "" {
		var err error
		postedAt, err = parseDate(addDate)
		if err != nil {
			return err
		}
	}

	r, err := setup(false)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Query)
	defer cancel()

	h, err := r.ForYear(ctx, fiscal.YearOf(postedAt).Label())
	if err != nil {
		return err
	}

	entry := &database.Entry{
		PostedAt:    postedAt,
		Account:     addAccount,
		AmountCents: addAmount,
		Memo:        addMemo,
	}
	if err := h.CreateEntry(ctx, entry); err != nil {
		return err
	}

	fmt.Printf("added entry %s to fiscal year %s\n", entry.ID, h.Label())
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	r, err := setup(false)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Query)
	defer cancel()

	var h *database.Handle
	if listYear == "" {
		h, err = r.Current(ctx)
	} else {
		h, err = r.ForYear(ctx, listYear)
	}
	if err != nil {
		return err
	}

	entries, err := h.ListEntries(ctx, listAccount, listLimit)
	if err != nil {
		return err
	}

	fmt.Printf("fiscal year %s: %d entries\n", h.Label(), len(entries))
	for _, e := range entries {
		fmt.Printf("  %s  %s  %-20s %12d  %s\n",
			e.ID, e.PostedAt.UTC().Format("2006-01-02"), e.Account, e.AmountCents, e.Memo)
	}
	return nil
}

func runMaintenance(cmd *cobra.Command, args []string) error {
	r, err := setup(false)
	if err != nil {
		return err
	}
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Query)
	defer cancel()

	if err := r.Optimize(ctx); err != nil {
		return err
	}
	if err := r.Vacuum(ctx); err != nil {
		return err
	}
	log.Info().Msg("Maintenance complete")
	return nil
}

// parseDate accepts YYYY-MM-DD (interpreted as midnight UTC) or RFC3339.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC3339", s)
}
