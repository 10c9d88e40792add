//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

func setupTestStore(t *testing.T) (*Store, context.Context) {
	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("relance_test"),
			postgres.WithUsername("relance"),
			postgres.WithPassword("relance"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	testStore, err := NewStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	t.Cleanup(func() {
		_ = testStore.Close(ctx)
	})

	return testStore, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(context.Background(),
		"TRUNCATE TABLE workflow_instances, tenant_preferences, campaign_schedules")
	require.NoError(t, err)
}

func testInstance(dedupKey string) *models.Instance {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Instance{
		ID:         uuid.New().String(),
		TenantID:   "tenant-1",
		Kind:       models.KindReviewRequest,
		DedupKey:   dedupKey,
		State:      models.StateInitiated,
		Payload:    map[string]any{models.PayloadRecipient: "+15550001111", "invoice_id": "inv-42"},
		CreatedAt:  now,
		LastStepAt: now,
	}
}

func TestStore_CreateAndGetInstance(t *testing.T) {
	s, ctx := setupTestStore(t)

	instance := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, instance))

	loaded, err := s.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)

	assert.Equal(t, instance.ID, loaded.ID)
	assert.Equal(t, instance.TenantID, loaded.TenantID)
	assert.Equal(t, instance.Kind, loaded.Kind)
	assert.Equal(t, models.StateInitiated, loaded.State)
	assert.Equal(t, 0, loaded.StepIndex)
	assert.Equal(t, "+15550001111", loaded.Payload[models.PayloadRecipient])
	assert.Nil(t, loaded.CompletedAt)
}

func TestStore_GetUnknownInstance(t *testing.T) {
	s, ctx := setupTestStore(t)

	_, err := s.InstanceByID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))
}

func TestStore_ActiveDedupUniqueIndex(t *testing.T) {
	s, ctx := setupTestStore(t)

	require.NoError(t, s.CreateInstance(ctx, testInstance("inv-42")))

	err := s.CreateInstance(ctx, testInstance("inv-42"))
	require.Error(t, err)
	assert.True(t, store.IsDuplicateActive(err))

	// A different dedup key is fine.
	require.NoError(t, s.CreateInstance(ctx, testInstance("inv-43")))
}

func TestStore_TerminalInstanceFreesDedupKey(t *testing.T) {
	s, ctx := setupTestStore(t)

	first := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, first))

	_, err := s.ConditionalTransition(ctx, first.ID,
		models.StateInitiated, models.StateExpired, nil)
	require.NoError(t, err)

	require.NoError(t, s.CreateInstance(ctx, testInstance("inv-42")))
}

func TestStore_ConditionalTransition(t *testing.T) {
	s, ctx := setupTestStore(t)

	instance := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, instance))

	completedAt := time.Now().UTC().Truncate(time.Millisecond)

	updated, err := s.ConditionalTransition(ctx, instance.ID,
		models.StateInitiated, models.StateAwaitingResponse,
		func(i *models.Instance) {
			i.ScheduledJobKey = models.StepJobKey(instance.ID, 1)
			i.LastStepAt = completedAt
		})
	require.NoError(t, err)

	assert.Equal(t, models.StateAwaitingResponse, updated.State)
	assert.Equal(t, models.StepJobKey(instance.ID, 1), updated.ScheduledJobKey)

	// The old from-state no longer matches.
	_, err = s.ConditionalTransition(ctx, instance.ID,
		models.StateInitiated, models.StateAwaitingResponse, nil)
	require.Error(t, err)
	assert.True(t, store.IsStateConflict(err))
}

func TestStore_ConditionalTransitionPersistsMutation(t *testing.T) {
	s, ctx := setupTestStore(t)

	instance := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, instance))

	completedAt := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.ConditionalTransition(ctx, instance.ID,
		models.StateInitiated, models.StateCompleted,
		func(i *models.Instance) {
			i.CompletedAt = &completedAt
			i.Payload["outcome"] = map[string]any{"result": "review_posted"}
		})
	require.NoError(t, err)

	loaded, err := s.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)

	require.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, completedAt.Unix(), loaded.CompletedAt.Unix())

	outcome, ok := loaded.Payload["outcome"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "review_posted", outcome["result"])
}

func TestStore_ConcurrentTransitionsOneWinner(t *testing.T) {
	s, ctx := setupTestStore(t)

	instance := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, instance))

	const callers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.ConditionalTransition(ctx, instance.ID,
				models.StateInitiated, models.StateCompleted, nil)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)

	loaded, err := s.InstanceByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, loaded.State)
}

func TestStore_FindActiveByDedupKey(t *testing.T) {
	s, ctx := setupTestStore(t)

	instance := testInstance("inv-42")
	require.NoError(t, s.CreateInstance(ctx, instance))

	found, err := s.FindActiveByDedupKey(ctx, "tenant-1", models.KindReviewRequest, "inv-42")
	require.NoError(t, err)
	assert.Equal(t, instance.ID, found.ID)

	_, err = s.FindActiveByDedupKey(ctx, "tenant-1", models.KindReviewRequest, "inv-99")
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))

	_, err = s.ConditionalTransition(ctx, instance.ID,
		models.StateInitiated, models.StateSkipped, nil)
	require.NoError(t, err)

	_, err = s.FindActiveByDedupKey(ctx, "tenant-1", models.KindReviewRequest, "inv-42")
	require.Error(t, err)
	assert.True(t, store.IsInstanceNotFound(err))
}

func TestStore_ListOpenInstancesOldestFirst(t *testing.T) {
	s, ctx := setupTestStore(t)

	older := testInstance("inv-1")
	older.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	newer := testInstance("inv-2")
	newer.CreatedAt = time.Now().UTC().Add(-time.Hour)

	closed := testInstance("inv-3")
	closed.State = models.StateCompleted

	require.NoError(t, s.CreateInstance(ctx, newer))
	require.NoError(t, s.CreateInstance(ctx, older))
	require.NoError(t, s.CreateInstance(ctx, closed))

	open, err := s.ListOpenInstances(ctx, "tenant-1", models.KindReviewRequest)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, older.ID, open[0].ID)
	assert.Equal(t, newer.ID, open[1].ID)
}

func TestStore_TenantPreferencesUpsert(t *testing.T) {
	s, ctx := setupTestStore(t)

	_, err := s.TenantPreferences(ctx, "tenant-1")
	require.ErrorIs(t, err, store.ErrPreferencesNotFound)

	require.NoError(t, s.SaveTenantPreferences(ctx, &models.TenantPreferences{
		TenantID:      "tenant-1",
		DisabledKinds: []models.Kind{models.KindPostRequest},
		Locale:        "en-US",
	}))

	require.NoError(t, s.SaveTenantPreferences(ctx, &models.TenantPreferences{
		TenantID:      "tenant-1",
		DisabledKinds: []models.Kind{models.KindPostRequest, models.KindPhotoRequest},
		Locale:        "fr-FR",
	}))

	prefs, err := s.TenantPreferences(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "fr-FR", prefs.Locale)
	assert.False(t, prefs.KindEnabled(models.KindPhotoRequest))
}

func TestStore_CampaignScheduleUpsert(t *testing.T) {
	s, ctx := setupTestStore(t)

	schedule, err := models.NewCampaignSchedule(uuid.New().String(), "tenant-1",
		models.KindPhotoRequest, "0 9 1 * *", map[string]any{models.PayloadRecipient: "+15550001111"})
	require.NoError(t, err)

	require.NoError(t, s.SaveCampaignSchedule(ctx, schedule))

	require.NoError(t, schedule.UpdateNextDueAt())
	require.NoError(t, s.SaveCampaignSchedule(ctx, schedule))

	schedules, err := s.CampaignSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Equal(t, schedule.ID, schedules[0].ID)
	assert.Equal(t, "0 9 1 * *", schedules[0].CronExpression)
	assert.Equal(t, "+15550001111", schedules[0].Payload[models.PayloadRecipient])
}

func TestStore_HealthCheck(t *testing.T) {
	s, ctx := setupTestStore(t)

	assert.NoError(t, s.HealthCheck(ctx))
}
