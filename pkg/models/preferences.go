package models

import "time"

// TenantPreferences holds per-tenant outreach settings consulted before a
// step sends anything.
type TenantPreferences struct {
	TenantID string `json:"tenant_id" validate:"required"`

	// DisabledKinds lists workflow kinds the tenant has switched off. A
	// start or step against a disabled kind skips the instance instead of
	// sending.
	DisabledKinds []Kind `json:"disabled_kinds,omitempty"`

	// Locale selects the message template language.
	Locale string `json:"locale,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// KindEnabled reports whether outreach of the given kind is allowed for the
// tenant.
func (p *TenantPreferences) KindEnabled(kind Kind) bool {
	if p == nil {
		return true
	}

	for _, disabled := range p.DisabledKinds {
		if disabled == kind {
			return false
		}
	}

	return true
}
