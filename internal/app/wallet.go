package app

import (
	"strings"
	"time"
)

// Direction is the direction of a wallet transaction from the perspective of the character.
type Direction uint

const (
	DirectionOut Direction = iota
	DirectionIn
)

func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DirectionFromAmount returns the direction for an amount. Only positive amounts are inbound.
func DirectionFromAmount(amount int64) Direction {
	if amount > 0 {
		return DirectionIn
	}
	return DirectionOut
}

// WalletTransaction is an immutable entry of a character's wallet journal.
type WalletTransaction struct {
	ID           int64
	Date         time.Time
	Amount       int64 // ISK, truncated toward zero
	Reason       string
	Direction    Direction
	FirstPartyID int32
}

// IsPlatformRevenue reports whether t is an inbound payment with a platform reason code.
func (t WalletTransaction) IsPlatformRevenue() bool {
	return t.Direction == DirectionIn && strings.HasPrefix(t.Reason, ReasonCodePrefix)
}

// Reconciliation is the result of a pass over a character's wallet journal.
type Reconciliation struct {
	CharacterID  int32
	Transactions []WalletTransaction
	Balance      int64
	Revenue      int64
	// Number of platform revenue transactions. Repeat payers are counted repeatedly.
	MatchedCount int
	// Number of distinct payers among platform revenue transactions.
	UniquePayers int
	FetchedAt    time.Time
	Elapsed      time.Duration
}
