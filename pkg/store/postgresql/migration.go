package postgresql

// migrations returns the ordered schema migrations for the store.
//
// The partial unique index on workflow_instances enforces the active dedup
// invariant at the storage layer: at most one non-terminal instance per
// (tenant, kind, dedup key), while terminal instances are retained for audit.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_instances (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				dedup_key TEXT NOT NULL,
				state TEXT NOT NULL,
				step_index INTEGER NOT NULL DEFAULT 0,
				payload JSONB NOT NULL DEFAULT '{}',
				scheduled_job_key TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_step_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_workflow_instances_active_dedup
				ON workflow_instances (tenant_id, kind, dedup_key)
				WHERE state NOT IN ('completed', 'auto_resolved', 'expired', 'skipped');

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_open
				ON workflow_instances (tenant_id, kind, created_at)
				WHERE state NOT IN ('completed', 'auto_resolved', 'expired', 'skipped');
		`,
		2: `
			CREATE TABLE IF NOT EXISTS tenant_preferences (
				tenant_id TEXT PRIMARY KEY,
				disabled_kinds JSONB NOT NULL DEFAULT '[]',
				locale TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		3: `
			CREATE TABLE IF NOT EXISTS campaign_schedules (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				cron_expression TEXT NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_campaign_schedules_due
				ON campaign_schedules (next_due_at);
		`,
	}
}
