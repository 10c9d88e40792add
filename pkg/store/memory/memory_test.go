package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

func newInstance(id, dedupKey string, state models.State) *models.Instance {
	return &models.Instance{
		ID:         id,
		TenantID:   "tenant-1",
		Kind:       models.KindReviewRequest,
		DedupKey:   dedupKey,
		State:      state,
		Payload:    map[string]any{models.PayloadRecipient: "+15550001111"},
		CreatedAt:  time.Now().UTC(),
		LastStepAt: time.Now().UTC(),
	}
}

func TestCreateInstance_EnforcesActiveDedup(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateAwaitingResponse)))

	err := s.CreateInstance(ctx, newInstance("inst-2", "inv-42", models.StateInitiated))
	require.Error(t, err)
	assert.True(t, store.IsDuplicateActive(err))

	// A terminal instance does not block a new one for the same key.
	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-3", "inv-43", models.StateExpired)))
	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-4", "inv-43", models.StateInitiated)))
}

func TestInstanceByID_ReturnsIsolatedCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateInitiated)))

	first, err := s.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)

	// Mutating the returned copy must not leak into the store.
	first.Payload["recipient"] = "tampered"
	first.State = models.StateCompleted

	second, err := s.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", second.Payload["recipient"])
	assert.Equal(t, models.StateInitiated, second.State)
}

func TestInstanceByID_NotFound(t *testing.T) {
	s := NewStore()

	_, err := s.InstanceByID(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))
}

func TestConditionalTransition_AppliesMutation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateInitiated)))

	updated, err := s.ConditionalTransition(ctx, "inst-1",
		models.StateInitiated, models.StateAwaitingResponse,
		func(i *models.Instance) {
			i.ScheduledJobKey = "inst-1:1"
		})
	require.NoError(t, err)

	assert.Equal(t, models.StateAwaitingResponse, updated.State)
	assert.Equal(t, "inst-1:1", updated.ScheduledJobKey)
}

func TestConditionalTransition_RejectsWrongFromState(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateAwaitingResponse)))

	_, err := s.ConditionalTransition(ctx, "inst-1",
		models.StateInitiated, models.StateAwaitingResponse, nil)
	require.Error(t, err)
	assert.True(t, store.IsStateConflict(err))

	current, err := s.InstanceByID(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateAwaitingResponse, current.State)
}

func TestConditionalTransition_MutatorCannotOverrideTargetState(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateReminded)))

	updated, err := s.ConditionalTransition(ctx, "inst-1",
		models.StateReminded, models.StateCompleted,
		func(i *models.Instance) {
			i.State = models.StateInitiated
		})
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, updated.State)
}

func TestConditionalTransition_ConcurrentCallersOneWinner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateReminded)))

	const callers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.ConditionalTransition(ctx, "inst-1",
				models.StateReminded, models.StateCompleted, nil)

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				successes++
			} else if store.IsStateConflict(err) {
				conflicts++
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
}

func TestFindActiveByDedupKey_SkipsTerminal(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-1", "inv-42", models.StateExpired)))

	_, err := s.FindActiveByDedupKey(ctx, "tenant-1", models.KindReviewRequest, "inv-42")
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))

	require.NoError(t, s.CreateInstance(ctx, newInstance("inst-2", "inv-42", models.StateAwaitingResponse)))

	found, err := s.FindActiveByDedupKey(ctx, "tenant-1", models.KindReviewRequest, "inv-42")
	require.NoError(t, err)
	assert.Equal(t, "inst-2", found.ID)
}

func TestListOpenInstances_OldestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	base := time.Now().UTC()

	newer := newInstance("inst-newer", "inv-1", models.StateAwaitingResponse)
	newer.CreatedAt = base

	older := newInstance("inst-older", "inv-2", models.StateReminded)
	older.CreatedAt = base.Add(-time.Hour)

	closed := newInstance("inst-closed", "inv-3", models.StateCompleted)
	closed.CreatedAt = base.Add(-2 * time.Hour)

	require.NoError(t, s.CreateInstance(ctx, newer))
	require.NoError(t, s.CreateInstance(ctx, older))
	require.NoError(t, s.CreateInstance(ctx, closed))

	open, err := s.ListOpenInstances(ctx, "tenant-1", models.KindReviewRequest)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "inst-older", open[0].ID)
	assert.Equal(t, "inst-newer", open[1].ID)
}

func TestTenantPreferences_RoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_, err := s.TenantPreferences(ctx, "tenant-1")
	require.ErrorIs(t, err, store.ErrPreferencesNotFound)

	err = s.SaveTenantPreferences(ctx, &models.TenantPreferences{
		TenantID:      "tenant-1",
		DisabledKinds: []models.Kind{models.KindPostRequest},
		Locale:        "fr-FR",
	})
	require.NoError(t, err)

	prefs, err := s.TenantPreferences(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "fr-FR", prefs.Locale)
	assert.False(t, prefs.KindEnabled(models.KindPostRequest))
	assert.True(t, prefs.KindEnabled(models.KindReviewRequest))
}

func TestCampaignSchedules_OrderedByDueTime(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	later, err := models.NewCampaignSchedule("camp-later", "tenant-1", models.KindPostRequest, "0 9 1 * *", nil)
	require.NoError(t, err)
	later.NextDueAt = time.Now().UTC().Add(time.Hour)

	sooner, err := models.NewCampaignSchedule("camp-sooner", "tenant-1", models.KindPhotoRequest, "0 9 1 * *", nil)
	require.NoError(t, err)
	sooner.NextDueAt = time.Now().UTC().Add(-time.Hour)

	require.NoError(t, s.SaveCampaignSchedule(ctx, later))
	require.NoError(t, s.SaveCampaignSchedule(ctx, sooner))

	schedules, err := s.CampaignSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 2)
	assert.Equal(t, "camp-sooner", schedules[0].ID)
	assert.Equal(t, "camp-later", schedules[1].ID)
}
