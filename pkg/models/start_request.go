package models

// StartRequest asks the engine to create and start a workflow instance.
type StartRequest struct {
	TenantID string         `json:"tenant_id" validate:"required"`
	Kind     Kind           `json:"kind"      validate:"required"`
	DedupKey string         `json:"dedup_key" validate:"required"`
	Payload  map[string]any `json:"payload"`
}
