package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/store"
)

// PreferenceRepository handles tenant-preference database operations.
type PreferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository creates a new preference repository.
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the preferences for a tenant.
func (r *PreferenceRepository) Get(ctx context.Context, tenantID string) (*models.TenantPreferences, error) {
	query := `
		SELECT tenant_id, disabled_kinds, locale, updated_at
		FROM tenant_preferences
		WHERE tenant_id = $1
	`

	var (
		prefs        models.TenantPreferences
		disabledJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&prefs.TenantID,
		&disabledJSON,
		&prefs.Locale,
		&prefs.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPreferencesNotFound
		}

		return nil, fmt.Errorf("failed to query tenant preferences: %w", err)
	}

	if len(disabledJSON) > 0 {
		err = json.Unmarshal(disabledJSON, &prefs.DisabledKinds)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal disabled kinds: %w", err)
		}
	}

	return &prefs, nil
}

// Save creates or replaces the preferences for a tenant.
func (r *PreferenceRepository) Save(ctx context.Context, prefs *models.TenantPreferences) error {
	disabledJSON, err := json.Marshal(prefs.DisabledKinds)
	if err != nil {
		return fmt.Errorf("failed to marshal disabled kinds: %w", err)
	}

	query := `
		INSERT INTO tenant_preferences (tenant_id, disabled_kinds, locale, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET disabled_kinds = EXCLUDED.disabled_kinds
		  , locale = EXCLUDED.locale
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query, prefs.TenantID, disabledJSON, prefs.Locale, prefs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save tenant preferences: %w", err)
	}

	return nil
}
