// Package postgresql provides the PostgreSQL store implementation for
// workflow instances, tenant preferences and campaign schedules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Register the postgres driver.
	_ "github.com/lib/pq"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store/sqlbase"
)

// Store implements the store layer for PostgreSQL.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	instances    *InstanceRepository
	preferences  *PreferenceRepository
	campaignRepo *CampaignScheduleRepository
}

// NewStore creates a new PostgreSQL store and runs pending migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:           database,
		logger:       logger,
		instances:    NewInstanceRepository(database, logger),
		preferences:  NewPreferenceRepository(database),
		campaignRepo: NewCampaignScheduleRepository(database),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, instance *models.Instance) error {
	return s.instances.Create(ctx, instance)
}

// InstanceByID returns an instance by its ID.
func (s *Store) InstanceByID(ctx context.Context, id string) (*models.Instance, error) {
	return s.instances.GetByID(ctx, id)
}

// ConditionalTransition atomically advances an instance between states.
func (s *Store) ConditionalTransition(ctx context.Context, id string, fromState, toState models.State, mutate func(*models.Instance)) (*models.Instance, error) {
	return s.instances.ConditionalTransition(ctx, id, fromState, toState, mutate)
}

// FindActiveByDedupKey returns the non-terminal instance for a dedup key.
func (s *Store) FindActiveByDedupKey(ctx context.Context, tenantID string, kind models.Kind, dedupKey string) (*models.Instance, error) {
	return s.instances.FindActiveByDedupKey(ctx, tenantID, kind, dedupKey)
}

// ListOpenInstances returns all non-terminal instances for a tenant and kind.
func (s *Store) ListOpenInstances(ctx context.Context, tenantID string, kind models.Kind) ([]*models.Instance, error) {
	return s.instances.ListOpen(ctx, tenantID, kind)
}

// TenantPreferences returns the preferences stored for a tenant.
func (s *Store) TenantPreferences(ctx context.Context, tenantID string) (*models.TenantPreferences, error) {
	return s.preferences.Get(ctx, tenantID)
}

// SaveTenantPreferences creates or replaces the preferences for a tenant.
func (s *Store) SaveTenantPreferences(ctx context.Context, prefs *models.TenantPreferences) error {
	return s.preferences.Save(ctx, prefs)
}

// CampaignSchedules returns all campaign schedules.
func (s *Store) CampaignSchedules(ctx context.Context) ([]*models.CampaignSchedule, error) {
	return s.campaignRepo.GetAll(ctx)
}

// SaveCampaignSchedule creates or replaces a campaign schedule.
func (s *Store) SaveCampaignSchedule(ctx context.Context, schedule *models.CampaignSchedule) error {
	return s.campaignRepo.Save(ctx, schedule)
}
