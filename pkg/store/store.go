// Package store provides the durable state contract for workflow instances.
package store

import (
	"context"

	"github.com/relancehq/relance/pkg/models"
)

// Store is the single shared mutable resource of the engine. All state
// changes go through ConditionalTransition, a compare-and-set against the
// instance's current state; a failed predicate means another caller already
// advanced the instance.
type Store interface {
	// CreateInstance persists a new instance. Returns ErrDuplicateActive
	// when a non-terminal instance already exists for the same
	// (tenant, kind, dedup key).
	CreateInstance(ctx context.Context, instance *models.Instance) error

	// InstanceByID returns an instance or ErrInstanceNotFound.
	InstanceByID(ctx context.Context, id string) (*models.Instance, error)

	// ConditionalTransition atomically moves an instance from fromState to
	// toState, applying mutate to the loaded instance before persisting.
	// Returns ErrStateConflict when the instance is not in fromState, and
	// the updated instance on success.
	ConditionalTransition(ctx context.Context, id string, fromState, toState models.State, mutate func(*models.Instance)) (*models.Instance, error)

	// FindActiveByDedupKey returns the single non-terminal instance for the
	// key, or ErrInstanceNotFound.
	FindActiveByDedupKey(ctx context.Context, tenantID string, kind models.Kind, dedupKey string) (*models.Instance, error)

	// ListOpenInstances returns all non-terminal instances for a tenant and
	// kind, oldest first. Used by the completion detector for correlation.
	ListOpenInstances(ctx context.Context, tenantID string, kind models.Kind) ([]*models.Instance, error)

	// TenantPreferences returns the tenant's outreach preferences or
	// ErrPreferencesNotFound.
	TenantPreferences(ctx context.Context, tenantID string) (*models.TenantPreferences, error)

	// SaveTenantPreferences creates or replaces the tenant's preferences.
	SaveTenantPreferences(ctx context.Context, prefs *models.TenantPreferences) error

	// CampaignSchedules returns all recurring campaign schedules.
	CampaignSchedules(ctx context.Context) ([]*models.CampaignSchedule, error)

	// SaveCampaignSchedule creates or replaces a campaign schedule.
	SaveCampaignSchedule(ctx context.Context, schedule *models.CampaignSchedule) error

	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
