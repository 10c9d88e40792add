package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relancehq/relance/pkg/engine"
	"github.com/relancehq/relance/pkg/models"
	storemem "github.com/relancehq/relance/pkg/store/memory"
)

// recordingStarter captures start requests and can be primed to fail.
type recordingStarter struct {
	mu       sync.Mutex
	requests []models.StartRequest
	failWith error
}

func (s *recordingStarter) Start(_ context.Context, req models.StartRequest) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return nil, s.failWith
	}

	s.requests = append(s.requests, req)

	return &models.Instance{ID: "inst-" + req.DedupKey, State: models.StateAwaitingResponse}, nil
}

func (s *recordingStarter) started() []models.StartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := make([]models.StartRequest, len(s.requests))
	copy(requests, s.requests)

	return requests
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dueSchedule(t *testing.T, s *storemem.Store, id string, kind models.Kind) *models.CampaignSchedule {
	t.Helper()

	schedule, err := models.NewCampaignSchedule(id, "tenant-1", kind, "0 9 1 * *",
		map[string]any{models.PayloadRecipient: "+15550001111"})
	require.NoError(t, err)

	schedule.NextDueAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.SaveCampaignSchedule(context.Background(), schedule))

	return schedule
}

func TestProcessDue_StartsDueSchedules(t *testing.T) {
	s := storemem.NewStore()
	starter := &recordingStarter{}
	runner := NewRunner(discardLogger(), s, starter)

	now := time.Now().UTC()
	schedule := dueSchedule(t, s, "camp-1", models.KindPhotoRequest)

	runner.ProcessDue(context.Background(), now)

	started := starter.started()
	require.Len(t, started, 1)
	assert.Equal(t, "tenant-1", started[0].TenantID)
	assert.Equal(t, models.KindPhotoRequest, started[0].Kind)
	assert.Equal(t, schedule.PeriodKey(schedule.NextDueAt), started[0].DedupKey)
	assert.Equal(t, "+15550001111", started[0].Payload[models.PayloadRecipient])

	// The schedule advanced past its old due time.
	saved, err := s.CampaignSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].NextDueAt.After(now))
}

func TestProcessDue_DailyCadencePeriodsGetDistinctKeys(t *testing.T) {
	s := storemem.NewStore()
	starter := &recordingStarter{}
	runner := NewRunner(discardLogger(), s, starter)
	ctx := context.Background()

	schedule, err := models.NewCampaignSchedule("camp-1", "tenant-1", models.KindPhotoRequest, "0 9 * * *",
		map[string]any{models.PayloadRecipient: "+15550001111"})
	require.NoError(t, err)

	dayOne := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	dayTwo := dayOne.Add(24 * time.Hour)

	schedule.NextDueAt = dayOne
	require.NoError(t, s.SaveCampaignSchedule(ctx, schedule))
	runner.ProcessDue(ctx, dayOne)

	// A day later the first period's instance is typically still open; the
	// second period must still start under its own dedup key.
	schedule.NextDueAt = dayTwo
	require.NoError(t, s.SaveCampaignSchedule(ctx, schedule))
	runner.ProcessDue(ctx, dayTwo)

	started := starter.started()
	require.Len(t, started, 2)
	assert.Equal(t, schedule.PeriodKey(dayOne), started[0].DedupKey)
	assert.Equal(t, schedule.PeriodKey(dayTwo), started[1].DedupKey)
	assert.NotEqual(t, started[0].DedupKey, started[1].DedupKey)
}

func TestProcessDue_SkipsNotYetDue(t *testing.T) {
	s := storemem.NewStore()
	starter := &recordingStarter{}
	runner := NewRunner(discardLogger(), s, starter)

	schedule, err := models.NewCampaignSchedule("camp-1", "tenant-1", models.KindPostRequest, "0 9 1 * *", nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveCampaignSchedule(context.Background(), schedule))

	runner.ProcessDue(context.Background(), time.Now().UTC())

	assert.Empty(t, starter.started())
}

func TestProcessDue_DuplicateActiveAdvancesSchedule(t *testing.T) {
	s := storemem.NewStore()
	starter := &recordingStarter{failWith: engine.ErrDuplicateActive}
	runner := NewRunner(discardLogger(), s, starter)

	now := time.Now().UTC()
	dueSchedule(t, s, "camp-1", models.KindPhotoRequest)

	// A second poll inside the same period hits the dedup key; the schedule
	// must still advance so it does not retry forever.
	runner.ProcessDue(context.Background(), now)

	saved, err := s.CampaignSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.True(t, saved[0].NextDueAt.After(now))
}

func TestProcessDue_StartFailureLeavesScheduleDue(t *testing.T) {
	s := storemem.NewStore()
	starter := &recordingStarter{failWith: errors.New("gateway down")}
	runner := NewRunner(discardLogger(), s, starter)

	now := time.Now().UTC()
	schedule := dueSchedule(t, s, "camp-1", models.KindPhotoRequest)

	runner.ProcessDue(context.Background(), now)

	saved, err := s.CampaignSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, schedule.NextDueAt.Unix(), saved[0].NextDueAt.Unix())
	assert.True(t, saved[0].IsDue(now))
}

func TestStartStop_Idempotent(t *testing.T) {
	runner := NewRunner(discardLogger(), storemem.NewStore(), &recordingStarter{})
	ctx := context.Background()

	require.NoError(t, runner.Start(ctx))
	require.NoError(t, runner.Start(ctx))
	require.NoError(t, runner.Stop(ctx))
	require.NoError(t, runner.Stop(ctx))
}
