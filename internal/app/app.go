// Package app is the root package of all domain related packages.
//
// All entity types are defined in this package.
package app

import (
	"time"
)

// Default formats and sizes
const (
	DateTimeFormat    = "2006.01.02 15:04"
	LogoPixelSize     = 128
	PortraitPixelSize = 512
)

// ReasonCodePrefix is the prefix of all reason codes issued by this platform.
// Inbound wallet journal entries with a reason starting with this prefix count as revenue.
const ReasonCodePrefix = "PX-"

// PersonalTransactionReason is shown for journal entries without a reason.
const PersonalTransactionReason = "Personal Transaction"

// BillingPeriod is the fixed distance from confirmation to the next billing date.
const BillingPeriod = 30 * 24 * time.Hour

// Scopes returns the ESI scopes requested during SSO login.
func Scopes() []string {
	return []string{
		"publicData",
		"esi-wallet.read_character_wallet.v1",
	}
}
