package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

const uniqueViolationCode = "23505"

const instanceColumns = `
	id
  , tenant_id
  , kind
  , dedup_key
  , state
  , step_index
  , payload
  , scheduled_job_key
  , created_at
  , last_step_at
  , completed_at
`

// InstanceRepository handles workflow-instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Create inserts a new instance. The partial unique index on the active
// dedup key turns a concurrent duplicate into ErrDuplicateActive.
func (r *InstanceRepository) Create(ctx context.Context, instance *models.Instance) error {
	payloadJSON, err := json.Marshal(instance.Payload)
	if err != nil {
		return store.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to marshal payload: %w", err))
	}

	query := `
		INSERT INTO workflow_instances (
			id, tenant_id, kind, dedup_key, state, step_index, payload,
			scheduled_job_key, created_at, last_step_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.TenantID,
		string(instance.Kind),
		instance.DedupKey,
		string(instance.State),
		instance.StepIndex,
		payloadJSON,
		instance.ScheduledJobKey,
		instance.CreatedAt,
		instance.LastStepAt,
		instance.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return store.NewInstanceError("Create", instance.ID, store.ErrDuplicateActive)
		}

		return store.NewInstanceError("Create", instance.ID, fmt.Errorf("failed to insert instance: %w", err))
	}

	return nil
}

// GetByID returns an instance by its identifier.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewInstanceError("GetByID", id, store.ErrInstanceNotFound)
		}

		return nil, store.NewInstanceError("GetByID", id, fmt.Errorf("failed to scan instance: %w", err))
	}

	return instance, nil
}

// ConditionalTransition performs a single-row compare-and-set: the UPDATE
// predicate includes the expected current state, so a concurrent caller that
// already advanced the instance makes this report ErrStateConflict instead
// of overwriting.
func (r *InstanceRepository) ConditionalTransition(ctx context.Context, id string, fromState, toState models.State, mutate func(*models.Instance)) (*models.Instance, error) {
	instance, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance.State != fromState {
		return nil, store.NewInstanceError("Transition", id, store.ErrStateConflict)
	}

	if mutate != nil {
		mutate(instance)
	}

	// The target state is not overridable by the mutator.
	instance.State = toState

	payloadJSON, err := json.Marshal(instance.Payload)
	if err != nil {
		return nil, store.NewInstanceError("Transition", id, fmt.Errorf("failed to marshal payload: %w", err))
	}

	query := `
		UPDATE workflow_instances
		SET state = $1
		  , step_index = $2
		  , payload = $3
		  , scheduled_job_key = $4
		  , last_step_at = $5
		  , completed_at = $6
		WHERE id = $7 AND state = $8
	`

	result, err := r.db.ExecContext(ctx, query,
		string(toState),
		instance.StepIndex,
		payloadJSON,
		instance.ScheduledJobKey,
		instance.LastStepAt,
		instance.CompletedAt,
		id,
		string(fromState),
	)
	if err != nil {
		return nil, store.NewInstanceError("Transition", id, fmt.Errorf("failed to update instance: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, store.NewInstanceError("Transition", id, fmt.Errorf("failed to read affected rows: %w", err))
	}

	if affected == 0 {
		return nil, store.NewInstanceError("Transition", id, store.ErrStateConflict)
	}

	return instance, nil
}

// FindActiveByDedupKey returns the single non-terminal instance for the key.
func (r *InstanceRepository) FindActiveByDedupKey(ctx context.Context, tenantID string, kind models.Kind, dedupKey string) (*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE tenant_id = $1
		  AND kind = $2
		  AND dedup_key = $3
		  AND state NOT IN ('completed', 'auto_resolved', 'expired', 'skipped')
	`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, tenantID, string(kind), dedupKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.InstanceError{Op: "FindActiveByDedupKey", DedupKey: dedupKey, Err: store.ErrInstanceNotFound}
		}

		return nil, &store.InstanceError{Op: "FindActiveByDedupKey", DedupKey: dedupKey, Err: fmt.Errorf("failed to scan instance: %w", err)}
	}

	return instance, nil
}

// ListOpen returns all non-terminal instances for a tenant and kind, oldest first.
func (r *InstanceRepository) ListOpen(ctx context.Context, tenantID string, kind models.Kind) ([]*models.Instance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE tenant_id = $1
		  AND kind = $2
		  AND state NOT IN ('completed', 'auto_resolved', 'expired', 'skipped')
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query open instances: %w", err)
	}

	defer func(ctx context.Context, r *InstanceRepository) {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}(ctx, r)

	instances := make([]*models.Instance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *InstanceRepository) scanInstance(row rowScanner) (*models.Instance, error) {
	var (
		instance    models.Instance
		kind        string
		state       string
		payloadJSON []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.TenantID,
		&kind,
		&instance.DedupKey,
		&state,
		&instance.StepIndex,
		&payloadJSON,
		&instance.ScheduledJobKey,
		&instance.CreatedAt,
		&instance.LastStepAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Kind = models.Kind(kind)
	instance.State = models.State(state)

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &instance.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &instance, nil
}
