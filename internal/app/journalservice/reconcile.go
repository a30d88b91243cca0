package journalservice

import (
	"time"

	"github.com/ErikKalkoken/go-set"

	"github.com/jp-673/isktreon/internal/app"
)

// Summarize returns a reconciliation for transactions with the revenue aggregates.
//
// Revenue is the sum of all inbound transactions with a platform reason code.
// MatchedCount is the number of those transactions, so repeat payers are counted repeatedly.
func Summarize(characterID int32, transactions []app.WalletTransaction) app.Reconciliation {
	r := app.Reconciliation{
		CharacterID:  characterID,
		Transactions: transactions,
	}
	var payers set.Set[int32]
	for _, t := range transactions {
		if !t.IsPlatformRevenue() {
			continue
		}
		r.Revenue += t.Amount
		r.MatchedCount++
		payers.Add(t.FirstPartyID)
	}
	r.UniquePayers = payers.Size()
	return r
}

// Verify reports whether the payment for an intent is visible in transactions
// and returns the resulting subscription confirmed at now.
//
// A payment matches when it is inbound and it's reason is exactly the reason code of the intent.
// No match is not an error, because payments can take a while to appear in the journal.
func Verify(intent app.PatronageIntent, transactions []app.WalletTransaction, now time.Time) (app.Subscription, bool) {
	for _, t := range transactions {
		if t.Direction != app.DirectionIn || t.Reason != intent.ReasonCode {
			continue
		}
		s := app.Subscription{
			CreatorID:       intent.CreatorID,
			CreatorName:     intent.CreatorName,
			TierName:        intent.TierName,
			Cost:            intent.TierCost,
			ReasonCode:      intent.ReasonCode,
			TransactionID:   t.ID,
			ConfirmedAt:     now,
			NextBillingDate: now.Add(app.BillingPeriod),
		}
		return s, true
	}
	return app.Subscription{}, false
}
