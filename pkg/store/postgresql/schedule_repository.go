package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/relancehq/relance/pkg/models"
)

// CampaignScheduleRepository handles campaign-schedule database operations.
type CampaignScheduleRepository struct {
	db *sql.DB
}

// NewCampaignScheduleRepository creates a new campaign schedule repository.
func NewCampaignScheduleRepository(db *sql.DB) *CampaignScheduleRepository {
	return &CampaignScheduleRepository{db: db}
}

// GetAll returns all campaign schedules ordered by due time.
func (r *CampaignScheduleRepository) GetAll(ctx context.Context) ([]*models.CampaignSchedule, error) {
	query := `
		SELECT id, tenant_id, kind, cron_expression, next_due_at, payload, created_at
		FROM campaign_schedules
		ORDER BY next_due_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaign schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schedules := make([]*models.CampaignSchedule, 0)

	for rows.Next() {
		var (
			schedule    models.CampaignSchedule
			kind        string
			payloadJSON []byte
		)

		err := rows.Scan(
			&schedule.ID,
			&schedule.TenantID,
			&kind,
			&schedule.CronExpression,
			&schedule.NextDueAt,
			&payloadJSON,
			&schedule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign schedule: %w", err)
		}

		schedule.Kind = models.Kind(kind)

		if len(payloadJSON) > 0 {
			err = json.Unmarshal(payloadJSON, &schedule.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal schedule payload: %w", err)
			}
		}

		schedules = append(schedules, &schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating campaign schedules: %w", err)
	}

	return schedules, nil
}

// Save creates or replaces a campaign schedule.
func (r *CampaignScheduleRepository) Save(ctx context.Context, schedule *models.CampaignSchedule) error {
	payloadJSON, err := json.Marshal(schedule.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule payload: %w", err)
	}

	query := `
		INSERT INTO campaign_schedules (id, tenant_id, kind, cron_expression, next_due_at, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET cron_expression = EXCLUDED.cron_expression
		  , next_due_at = EXCLUDED.next_due_at
		  , payload = EXCLUDED.payload
	`

	_, err = r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.TenantID,
		string(schedule.Kind),
		schedule.CronExpression,
		schedule.NextDueAt,
		payloadJSON,
		schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save campaign schedule: %w", err)
	}

	return nil
}
