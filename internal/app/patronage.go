package app

import (
	"regexp"
	"time"
)

var reasonCodeRx = regexp.MustCompile(`^PX-\d{6}$`)

// IsReasonCode reports whether s is a well formed reason code.
func IsReasonCode(s string) bool {
	return reasonCodeRx.MatchString(s)
}

// Tier is a support tier offered by a creator.
type Tier struct {
	Name string
	Cost int64 // ISK in millions
}

// Creator is a content creator who can be supported by patrons.
type Creator struct {
	ID    int32
	Name  string
	Tiers []Tier
}

// Tier returns the tier at idx and reports whether it exists.
func (c Creator) Tier(idx int) (Tier, bool) {
	if idx < 0 || idx >= len(c.Tiers) {
		return Tier{}, false
	}
	return c.Tiers[idx], true
}

// PatronageIntent represents the commitment of a patron to support a creator with a tier.
// It is immutable once created.
type PatronageIntent struct {
	CreatorID   int32
	CreatorName string
	TierIndex   int
	TierName    string
	TierCost    int64 // ISK in millions
	ReasonCode  string
	IssuedAt    time.Time
}

// Subscription is created after a patronage intent was verified against the wallet journal.
type Subscription struct {
	CreatorID       int32
	CreatorName     string
	TierName        string
	Cost            int64 // ISK in millions
	ReasonCode      string
	TransactionID   int64
	ConfirmedAt     time.Time
	NextBillingDate time.Time
}

// VerificationStatus is the state of a single verification attempt.
type VerificationStatus uint

const (
	AwaitingPayment VerificationStatus = iota
	Verifying
	Confirmed
	StillAwaiting
)

func (s VerificationStatus) String() string {
	switch s {
	case AwaitingPayment:
		return "awaiting payment"
	case Verifying:
		return "verifying"
	case Confirmed:
		return "confirmed"
	case StillAwaiting:
		return "still awaiting"
	}
	return "?"
}

// VerificationResult is the outcome of a verification attempt.
type VerificationResult struct {
	Status         VerificationStatus
	Intent         PatronageIntent
	Subscription   *Subscription // only set when confirmed
	Elapsed        time.Duration
	CheckedEntries int
}
