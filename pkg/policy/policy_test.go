package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relancehq/relance/pkg/models"
)

func TestForKind_EveryKindHasACompletePolicy(t *testing.T) {
	kinds := []models.Kind{
		models.KindReviewRequest,
		models.KindReviewReplyApproval,
		models.KindLeadOutreach,
		models.KindPhotoRequest,
		models.KindPostRequest,
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			pol, err := ForKind(kind)
			require.NoError(t, err)

			assert.Equal(t, kind, pol.Kind)
			assert.NotEmpty(t, pol.InitialTemplateID)
			assert.NotEmpty(t, pol.ReminderTemplateID)
			assert.Positive(t, pol.ReminderDelay)
			assert.Positive(t, pol.TerminalDelay)
			assert.Positive(t, pol.ResponseWindow)

			if pol.Terminal == ActionAutoResolve {
				assert.NotEmpty(t, pol.TerminalTemplateID)
			} else {
				assert.Empty(t, pol.TerminalTemplateID)
			}

			// The response window must cover the full escalation timeline,
			// otherwise the detector stops correlating before the workflow ends.
			assert.GreaterOrEqual(t, pol.ResponseWindow, pol.ReminderDelay+pol.TerminalDelay)
		})
	}
}

func TestForKind_UnknownKind(t *testing.T) {
	_, err := ForKind(models.Kind("newsletter"))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestForKind_TerminalActions(t *testing.T) {
	expire := []models.Kind{models.KindReviewRequest, models.KindLeadOutreach, models.KindPhotoRequest}
	autoResolve := []models.Kind{models.KindReviewReplyApproval, models.KindPostRequest}

	for _, kind := range expire {
		pol, err := ForKind(kind)
		require.NoError(t, err)
		assert.Equal(t, ActionExpire, pol.Terminal, "kind %s", kind)
	}

	for _, kind := range autoResolve {
		pol, err := ForKind(kind)
		require.NoError(t, err)
		assert.Equal(t, ActionAutoResolve, pol.Terminal, "kind %s", kind)
	}
}

func TestStepDelay(t *testing.T) {
	pol, err := ForKind(models.KindReviewRequest)
	require.NoError(t, err)

	reminder, err := pol.StepDelay(1)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, reminder)

	terminal, err := pol.StepDelay(2)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, terminal)

	_, err = pol.StepDelay(3)
	require.Error(t, err)
}

func TestValidatePayload_AcceptsWellFormedPayloads(t *testing.T) {
	testCases := []struct {
		name    string
		kind    models.Kind
		payload map[string]any
	}{
		{
			name: "review request",
			kind: models.KindReviewRequest,
			payload: map[string]any{
				"recipient":  "+15550001111",
				"name":       "Dana",
				"invoice_id": "inv-42",
			},
		},
		{
			name: "reply approval",
			kind: models.KindReviewReplyApproval,
			payload: map[string]any{
				"review_id":   "rev-9",
				"draft_reply": "Thanks for the kind words!",
			},
		},
		{
			name:    "lead outreach with empty payload",
			kind:    models.KindLeadOutreach,
			payload: map[string]any{},
		},
		{
			name:    "photo request with nil payload",
			kind:    models.KindPhotoRequest,
			payload: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, ValidatePayload(tc.kind, tc.payload))
		})
	}
}

func TestValidatePayload_RejectsMalformedPayloads(t *testing.T) {
	testCases := []struct {
		name    string
		kind    models.Kind
		payload map[string]any
	}{
		{
			name:    "reply approval missing draft",
			kind:    models.KindReviewReplyApproval,
			payload: map[string]any{"review_id": "rev-9"},
		},
		{
			name:    "recipient is not a string",
			kind:    models.KindReviewRequest,
			payload: map[string]any{"recipient": 15550001111},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidatePayload(tc.kind, tc.payload))
		})
	}
}

func TestValidatePayload_UnknownKind(t *testing.T) {
	err := ValidatePayload(models.Kind("newsletter"), map[string]any{})
	require.ErrorIs(t, err, ErrUnknownKind)
}
