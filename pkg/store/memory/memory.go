// Package memory provides an in-memory store implementation for tests and
// local development. The conditional transition holds the store mutex for
// the whole compare-and-set, giving the same atomicity the SQL predicate
// gives in production.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu          sync.Mutex
	instances   map[string]*models.Instance
	preferences map[string]*models.TenantPreferences
	schedules   map[string]*models.CampaignSchedule
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		instances:   make(map[string]*models.Instance),
		preferences: make(map[string]*models.TenantPreferences),
		schedules:   make(map[string]*models.CampaignSchedule),
	}
}

// CreateInstance persists a new instance, enforcing the active dedup invariant.
func (s *Store) CreateInstance(_ context.Context, instance *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instances {
		if existing.TenantID == instance.TenantID &&
			existing.Kind == instance.Kind &&
			existing.DedupKey == instance.DedupKey &&
			!existing.State.IsTerminal() {
			return store.NewInstanceError("Create", instance.ID, store.ErrDuplicateActive)
		}
	}

	copied := cloneInstance(instance)
	s.instances[copied.ID] = copied

	return nil
}

// InstanceByID returns an instance by its identifier.
func (s *Store) InstanceByID(_ context.Context, id string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, store.NewInstanceError("GetByID", id, store.ErrInstanceNotFound)
	}

	return cloneInstance(instance), nil
}

// ConditionalTransition atomically advances an instance between states.
func (s *Store) ConditionalTransition(_ context.Context, id string, fromState, toState models.State, mutate func(*models.Instance)) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return nil, store.NewInstanceError("Transition", id, store.ErrInstanceNotFound)
	}

	if current.State != fromState {
		return nil, store.NewInstanceError("Transition", id, store.ErrStateConflict)
	}

	updated := cloneInstance(current)
	if mutate != nil {
		mutate(updated)
	}

	// The target state is not overridable by the mutator.
	updated.State = toState
	s.instances[id] = updated

	return cloneInstance(updated), nil
}

// FindActiveByDedupKey returns the non-terminal instance for a dedup key.
func (s *Store) FindActiveByDedupKey(_ context.Context, tenantID string, kind models.Kind, dedupKey string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, instance := range s.instances {
		if instance.TenantID == tenantID &&
			instance.Kind == kind &&
			instance.DedupKey == dedupKey &&
			!instance.State.IsTerminal() {
			return cloneInstance(instance), nil
		}
	}

	return nil, &store.InstanceError{Op: "FindActiveByDedupKey", DedupKey: dedupKey, Err: store.ErrInstanceNotFound}
}

// ListOpenInstances returns all non-terminal instances for a tenant and kind,
// oldest first.
func (s *Store) ListOpenInstances(_ context.Context, tenantID string, kind models.Kind) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make([]*models.Instance, 0)

	for _, instance := range s.instances {
		if instance.TenantID == tenantID && instance.Kind == kind && !instance.State.IsTerminal() {
			open = append(open, cloneInstance(instance))
		}
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})

	return open, nil
}

// TenantPreferences returns the preferences stored for a tenant.
func (s *Store) TenantPreferences(_ context.Context, tenantID string) (*models.TenantPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, ok := s.preferences[tenantID]
	if !ok {
		return nil, store.ErrPreferencesNotFound
	}

	copied := *prefs

	return &copied, nil
}

// SaveTenantPreferences creates or replaces the preferences for a tenant.
func (s *Store) SaveTenantPreferences(_ context.Context, prefs *models.TenantPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *prefs
	s.preferences[prefs.TenantID] = &copied

	return nil
}

// CampaignSchedules returns all campaign schedules ordered by due time.
func (s *Store) CampaignSchedules(_ context.Context) ([]*models.CampaignSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make([]*models.CampaignSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		copied := *schedule
		schedules = append(schedules, &copied)
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].NextDueAt.Before(schedules[j].NextDueAt)
	})

	return schedules, nil
}

// SaveCampaignSchedule creates or replaces a campaign schedule.
func (s *Store) SaveCampaignSchedule(_ context.Context, schedule *models.CampaignSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *schedule
	s.schedules[schedule.ID] = &copied

	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func cloneInstance(instance *models.Instance) *models.Instance {
	copied := *instance

	if instance.Payload != nil {
		copied.Payload = make(map[string]any, len(instance.Payload))
		for k, v := range instance.Payload {
			copied.Payload[k] = v
		}
	}

	if instance.CompletedAt != nil {
		completedAt := *instance.CompletedAt
		copied.CompletedAt = &completedAt
	}

	return &copied
}
