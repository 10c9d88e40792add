// Package policy defines the static escalation timeline for each workflow kind.
//
// A policy is pure data: delays, template identifiers and the terminal
// action. The engine is the only component that interprets it against the
// scheduler and the outreach channel.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/relancehq/relance/pkg/models"
)

var ErrUnknownKind = errors.New("unknown workflow kind")

// TerminalAction is what the terminal step does when no response ever arrived.
type TerminalAction string

const (
	// ActionExpire stops asking with no further action.
	ActionExpire TerminalAction = "expire"

	// ActionAutoResolve performs the safe default action (auto-post the
	// drafted reply, auto-publish the prepared content).
	ActionAutoResolve TerminalAction = "auto_resolve"
)

// Policy describes the full step timeline for one workflow kind.
//
// Delays are measured from the previous step's execution time, not from
// instance creation, so a late-firing step never compresses the remaining
// schedule.
type Policy struct {
	Kind models.Kind

	// InitialTemplateID renders the step-0 message.
	InitialTemplateID string

	// ReminderDelay is how long after the initial message the reminder fires.
	ReminderDelay time.Duration

	// ReminderTemplateID renders the reminder message.
	ReminderTemplateID string

	// TerminalDelay is how long after the reminder the terminal step fires.
	TerminalDelay time.Duration

	// Terminal selects expiry or the safe default action.
	Terminal TerminalAction

	// TerminalTemplateID renders the auto-resolve message. Empty for expire
	// policies.
	TerminalTemplateID string

	// ResponseWindow bounds the completion detector's time correlation: an
	// uncorrelated result observed within this window of the instance's
	// creation may be attributed to it.
	ResponseWindow time.Duration
}

// StepCount is the number of scheduled steps every policy defines beyond the
// initial message: one reminder and one terminal step.
const StepCount = 2

var policies = map[models.Kind]Policy{
	models.KindReviewRequest: {
		Kind:               models.KindReviewRequest,
		InitialTemplateID:  "review_request_initial",
		ReminderDelay:      24 * time.Hour,
		ReminderTemplateID: "review_request_reminder",
		TerminalDelay:      72 * time.Hour,
		Terminal:           ActionExpire,
		ResponseWindow:     96 * time.Hour,
	},
	models.KindReviewReplyApproval: {
		Kind:               models.KindReviewReplyApproval,
		InitialTemplateID:  "reply_approval_initial",
		ReminderDelay:      12 * time.Hour,
		ReminderTemplateID: "reply_approval_reminder",
		TerminalDelay:      24 * time.Hour,
		Terminal:           ActionAutoResolve,
		TerminalTemplateID: "reply_approval_autopost",
		ResponseWindow:     36 * time.Hour,
	},
	models.KindLeadOutreach: {
		Kind:               models.KindLeadOutreach,
		InitialTemplateID:  "lead_outreach_initial",
		ReminderDelay:      4 * time.Hour,
		ReminderTemplateID: "lead_outreach_reminder",
		TerminalDelay:      24 * time.Hour,
		Terminal:           ActionExpire,
		ResponseWindow:     48 * time.Hour,
	},
	models.KindPhotoRequest: {
		Kind:               models.KindPhotoRequest,
		InitialTemplateID:  "photo_request_initial",
		ReminderDelay:      48 * time.Hour,
		ReminderTemplateID: "photo_request_reminder",
		TerminalDelay:      120 * time.Hour,
		Terminal:           ActionExpire,
		ResponseWindow:     168 * time.Hour,
	},
	models.KindPostRequest: {
		Kind:               models.KindPostRequest,
		InitialTemplateID:  "post_request_initial",
		ReminderDelay:      48 * time.Hour,
		ReminderTemplateID: "post_request_reminder",
		TerminalDelay:      72 * time.Hour,
		Terminal:           ActionAutoResolve,
		TerminalTemplateID: "post_request_autopublish",
		ResponseWindow:     120 * time.Hour,
	},
}

// ForKind returns the escalation policy for a workflow kind.
func ForKind(kind models.Kind) (Policy, error) {
	p, ok := policies[kind]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return p, nil
}

// StepDelay returns the delay before the given step index fires, measured
// from the previous step.
func (p Policy) StepDelay(stepIndex int) (time.Duration, error) {
	switch stepIndex {
	case 1:
		return p.ReminderDelay, nil
	case 2:
		return p.TerminalDelay, nil
	}

	return 0, fmt.Errorf("policy for kind %s has no step %d", p.Kind, stepIndex)
}
