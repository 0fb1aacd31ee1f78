// Package rollover pre-provisions the next fiscal year's partition ahead of
// the June 1 boundary, so the first write of the new year never pays the
// attach-and-migrate cost and operators see the new file before it is needed.
package rollover

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/yeardb/yeardb/internal/config"
	"github.com/yeardb/yeardb/internal/database"
	"github.com/yeardb/yeardb/internal/fiscal"
)

const (
	// settingLastProvisioned records the most recent label provisioned by
	// the rollover job (catalog settings key).
	settingLastProvisioned = "rollover.last_provisioned"

	DefaultSchedule = "30 2 * * *"
	DefaultLeadDays = 14
)

// ManagerConfig controls the rollover schedule.
type ManagerConfig struct {
	// Schedule is a cron expression for the provisioning check.
	Schedule string

	// LeadDays is how many days before June 1 the next year's partition
	// is created.
	LeadDays int
}

// DefaultConfig returns the default rollover configuration.
func DefaultConfig() ManagerConfig {
	return ManagerConfig{
		Schedule: DefaultSchedule,
		LeadDays: DefaultLeadDays,
	}
}

// ManagerStatus describes the manager for the status command.
type ManagerStatus struct {
	Running         bool       `json:"running"`
	Schedule        string     `json:"schedule"`
	LeadDays        int        `json:"lead_days"`
	LastProvisioned string     `json:"last_provisioned,omitempty"`
	NextRun         *time.Time `json:"next_run,omitempty"`
}

// Manager runs the scheduled rollover job.
type Manager struct {
	router *database.Router
	config ManagerConfig
	clock  func() time.Time

	cron        *cron.Cron
	cronEntryID cron.EntryID

	mu      sync.RWMutex
	running bool
}

// NewManager creates a rollover manager over the given router.
func NewManager(router *database.Router) *Manager {
	return &Manager{
		router: router,
		config: DefaultConfig(),
		clock:  time.Now,
		cron:   cron.New(),
	}
}

// Start loads configuration from catalog settings, schedules the daily
// check and runs one check immediately.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	loader := config.NewLoader(m.router)
	m.config.Schedule = loader.String("rollover.schedule", DefaultSchedule)
	m.config.LeadDays = loader.Int("rollover.lead_days", DefaultLeadDays)

	entryID, err := m.cron.AddFunc(m.config.Schedule, m.runOnce)
	if err != nil {
		return err
	}
	m.cronEntryID = entryID
	m.cron.Start()
	m.running = true

	log.Info().
		Str("schedule", m.config.Schedule).
		Int("lead_days", m.config.LeadDays).
		Msg("Rollover manager started")

	// Catch up immediately in case the process was down over the boundary.
	go m.runOnce()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Rollover manager stopped")
}

// IsRunning returns whether the manager is running.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Status returns the current manager status.
func (m *Manager) Status() ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := ManagerStatus{
		Running:  m.running,
		Schedule: m.config.Schedule,
		LeadDays: m.config.LeadDays,
	}

	if last, err := m.router.GetSetting(settingLastProvisioned); err == nil && last != "" {
		status.LastProvisioned = last
	}

	if m.cronEntryID != 0 {
		entry := m.cron.Entry(m.cronEntryID)
		if !entry.Next.IsZero() {
			status.NextRun = &entry.Next
		}
	}
	return status
}

// runOnce provisions the upcoming fiscal year when inside the lead window.
// Provisioning resolves the handle, which attaches the partition file and
// runs its migrations; all of that is idempotent, so re-runs are free.
func (m *Manager) runOnce() {
	m.mu.RLock()
	lead := m.config.LeadDays
	m.mu.RUnlock()

	next, ok := UpcomingYear(m.clock(), lead)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.GetTimeouts().Query)
	defer cancel()

	if _, err := m.router.ForYear(ctx, next.Label()); err != nil {
		log.Error().Err(err).Str("fiscal_year", next.Label()).Msg("Failed to provision upcoming fiscal year")
		return
	}

	if err := m.router.SetSetting(settingLastProvisioned, next.Label()); err != nil {
		log.Warn().Err(err).Msg("Failed to record provisioned fiscal year")
	}
	log.Info().Str("fiscal_year", next.Label()).Msg("Upcoming fiscal year partition provisioned")
}

// UpcomingYear returns the next fiscal year when now is within leadDays of
// its June 1 start, and false otherwise.
func UpcomingYear(now time.Time, leadDays int) (fiscal.Year, bool) {
	now = now.UTC()
	next := fiscal.YearOf(now).Next()
	windowStart := next.Start().AddDate(0, 0, -leadDays)
	if now.Before(windowStart) {
		return 0, false
	}
	return next, true
}
