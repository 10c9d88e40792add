package policy

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relancehq/relance/pkg/models"
)

// payloadSchemas validates the kind-specific payload handed to the engine at
// start time. Recipient is intentionally not required here: a missing
// recipient is a runtime precondition failure that skips the instance, not a
// malformed request.
var payloadSchemas = map[models.Kind]map[string]any{
	models.KindReviewRequest: {
		"type": "object",
		"properties": map[string]any{
			"recipient":  map[string]any{"type": "string"},
			"name":       map[string]any{"type": "string"},
			"invoice_id": map[string]any{"type": "string"},
		},
	},
	models.KindReviewReplyApproval: {
		"type": "object",
		"properties": map[string]any{
			"recipient":   map[string]any{"type": "string"},
			"review_id":   map[string]any{"type": "string"},
			"draft_reply": map[string]any{"type": "string"},
		},
		"required": []any{"review_id", "draft_reply"},
	},
	models.KindLeadOutreach: {
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{"type": "string"},
			"name":      map[string]any{"type": "string"},
			"call_id":   map[string]any{"type": "string"},
		},
	},
	models.KindPhotoRequest: {
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{"type": "string"},
			"name":      map[string]any{"type": "string"},
		},
	},
	models.KindPostRequest: {
		"type": "object",
		"properties": map[string]any{
			"recipient":     map[string]any{"type": "string"},
			"name":          map[string]any{"type": "string"},
			"draft_content": map[string]any{"type": "string"},
		},
	},
}

// ValidatePayload checks a start payload against the kind's JSON schema.
func ValidatePayload(kind models.Kind, payload map[string]any) error {
	schema, ok := payloadSchemas[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if payload == nil {
		payload = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate payload: %w", err)
	}

	if !result.Valid() {
		var details []string
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}

		return fmt.Errorf("payload validation failed for kind %s: %s", kind, strings.Join(details, "; "))
	}

	return nil
}
