// Package models defines the core domain models for outreach escalation workflows.
package models

import (
	"strconv"
	"time"
)

// Kind selects the escalation policy applied to a workflow instance.
type Kind string

const (
	KindReviewRequest       Kind = "review_request"        // Ask a customer for a review after a purchase
	KindReviewReplyApproval Kind = "review_reply_approval" // Owner approval of a drafted review reply
	KindLeadOutreach        Kind = "lead_outreach"         // Chase a missed-call lead
	KindPhotoRequest        Kind = "photo_request"         // Ask the owner for fresh photos
	KindPostRequest         Kind = "post_request"          // Ask the owner to publish a post
)

// Kinds lists every supported workflow kind.
var Kinds = []Kind{
	KindReviewRequest,
	KindReviewReplyApproval,
	KindLeadOutreach,
	KindPhotoRequest,
	KindPostRequest,
}

// Valid reports whether the kind is one of the supported workflow kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}

	return false
}

// State represents the lifecycle state of a workflow instance.
type State string

const (
	StateInitiated        State = "initiated"         // Created, initial message not yet confirmed sent
	StateAwaitingResponse State = "awaiting_response" // Initial message sent, reminder scheduled
	StateReminded         State = "reminded"          // Reminder sent, terminal step scheduled
	StateCompleted        State = "completed"         // Awaited external result observed
	StateAutoResolved     State = "auto_resolved"     // Terminal step performed the safe default action
	StateExpired          State = "expired"           // Terminal step gave up with no action
	StateSkipped          State = "skipped"           // Precondition failed, nothing sent
)

// IsTerminal reports whether no further steps may execute for this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateAutoResolved, StateExpired, StateSkipped:
		return true
	case StateInitiated, StateAwaitingResponse, StateReminded:
		return false
	}

	return false
}

// Well-known payload keys shared by all kinds.
const (
	PayloadRecipient = "recipient" // Destination address (phone number) for outbound messages
	PayloadName      = "name"      // Display name of the person being contacted
)

// Instance is one occurrence of an escalation sequence for one tenant and subject.
//
// It is mutated exclusively through the store's conditional transition, so
// every state change is a compare-and-set against the previous state.
type Instance struct {
	ID       string `json:"id"        validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Kind     Kind   `json:"kind"      validate:"required"`

	// DedupKey is the caller-supplied natural key (invoice id, missed-call id,
	// calendar period). At most one non-terminal instance exists per
	// (tenant, kind, dedup key).
	DedupKey string `json:"dedup_key" validate:"required"`

	State State `json:"state"`

	// StepIndex counts executed policy steps. 0 means only the initial
	// message has run; the reminder is step 1 and the terminal step is 2.
	StepIndex int `json:"step_index"`

	// Payload carries kind-specific data used to render messages and perform
	// the terminal action.
	Payload map[string]any `json:"payload"`

	// ScheduledJobKey is the key of the outstanding scheduled step, empty
	// when no step is pending.
	ScheduledJobKey string `json:"scheduled_job_key,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	LastStepAt  time.Time  `json:"last_step_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Recipient returns the outbound address from the payload, if present.
func (i *Instance) Recipient() (string, bool) {
	recipient, ok := i.Payload[PayloadRecipient].(string)

	return recipient, ok && recipient != ""
}

// ContactName returns the contact display name from the payload, if present.
func (i *Instance) ContactName() (string, bool) {
	name, ok := i.Payload[PayloadName].(string)

	return name, ok && name != ""
}

// StepJobKey builds the scheduler key for a step of an instance. The key is
// deterministic so a re-scheduled step replaces its predecessor.
func StepJobKey(instanceID string, stepIndex int) string {
	return instanceID + ":" + strconv.Itoa(stepIndex)
}

// Outcome describes the external result that completed an instance.
type Outcome struct {
	// Result names what was observed ("review_posted", "reply_approved",
	// "lead_engaged", "media_uploaded", "post_published").
	Result string `json:"result"`

	// ObservedAt is when the external system reported the result.
	ObservedAt time.Time `json:"observed_at"`

	// Evidence carries correlation data from the completion event, retained
	// for audit.
	Evidence map[string]any `json:"evidence,omitempty"`
}
