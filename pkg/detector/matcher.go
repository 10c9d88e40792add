package detector

import (
	"strings"
	"time"

	"github.com/relancehq/relance/pkg/events"
	"github.com/relancehq/relance/pkg/models"
	"github.com/relancehq/relance/pkg/policy"
)

// phoneSuffixLen is how many trailing digits two phone numbers must share to
// be considered the same line. Suffix comparison survives country-code and
// formatting differences between the workflow payload and the provider feed.
const phoneSuffixLen = 7

// matchInstance decides whether a completion event plausibly belongs to an
// open instance. Matching is best-effort by design: the external feed does
// not carry the workflow's dedup key, so over- and under-matching are both
// possible and accepted.
func matchInstance(instance *models.Instance, event *events.CompletionObserved, pol policy.Policy) bool {
	if event.Phone != "" {
		if recipient, ok := instance.Recipient(); ok {
			return phoneSuffixMatch(recipient, event.Phone)
		}
	}

	if event.Name != "" {
		if name, ok := instance.ContactName(); ok {
			return nameMatch(name, event.Name)
		}
	}

	// No correlation fields at all (a review appeared with no usable author
	// data): attribute it to any instance still inside its response window.
	return withinResponseWindow(instance, event.OccurredAt, pol)
}

// phoneSuffixMatch compares the trailing digits of two phone numbers.
func phoneSuffixMatch(a, b string) bool {
	digitsA := normalizePhone(a)
	digitsB := normalizePhone(b)

	if len(digitsA) < phoneSuffixLen || len(digitsB) < phoneSuffixLen {
		return digitsA != "" && digitsA == digitsB
	}

	return digitsA[len(digitsA)-phoneSuffixLen:] == digitsB[len(digitsB)-phoneSuffixLen:]
}

// normalizePhone strips everything but digits.
func normalizePhone(phone string) string {
	var builder strings.Builder

	for _, r := range phone {
		if r >= '0' && r <= '9' {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

// nameMatch is a case-insensitive substring comparison in both directions,
// so "Dana" matches "Dana Levi" and vice versa.
func nameMatch(a, b string) bool {
	left := strings.ToLower(strings.TrimSpace(a))
	right := strings.ToLower(strings.TrimSpace(b))

	if left == "" || right == "" {
		return false
	}

	return strings.Contains(left, right) || strings.Contains(right, left)
}

// withinResponseWindow reports whether the observation time falls inside the
// policy's expected response window for the instance.
func withinResponseWindow(instance *models.Instance, observedAt time.Time, pol policy.Policy) bool {
	if observedAt.Before(instance.CreatedAt) {
		return false
	}

	return observedAt.Sub(instance.CreatedAt) <= pol.ResponseWindow
}
