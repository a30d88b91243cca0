// Package journalservice reconciles the wallet journal of a character with issued reason codes.
package journalservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/antihax/goesi"
	"github.com/antihax/goesi/esi"
	esioptional "github.com/antihax/goesi/optional"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/xesi"
)

const (
	rescanIntervalDefault = 5 * time.Second
	timeoutDefault        = 15 * time.Second
)

// JournalService fetches wallet journals from the ESI ledger and reconciles them.
type JournalService struct {
	// Now returns the current time. Tests can replace it.
	Now func() time.Time

	concurrencyLimit int
	esiClient        *goesi.APIClient
	limiter          *rate.Limiter
	timeout          time.Duration
}

type Params struct {
	ESIClient *goesi.APIClient
	// optional
	ConcurrencyLimit int           // max number of pages fetched concurrently
	RescanInterval   time.Duration // minimum distance between throttled reconciliations
	Timeout          time.Duration // limit for a complete reconciliation
}

// New returns a new JournalService.
func New(arg Params) *JournalService {
	if arg.ESIClient == nil {
		panic("journalservice: missing ESI client")
	}
	s := &JournalService{
		Now:              time.Now,
		concurrencyLimit: arg.ConcurrencyLimit,
		esiClient:        arg.ESIClient,
		timeout:          arg.Timeout,
	}
	interval := arg.RescanInterval
	if interval <= 0 {
		interval = rescanIntervalDefault
	}
	s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	if s.timeout <= 0 {
		s.timeout = timeoutDefault
	}
	return s
}

// ReconcileThrottled is like [JournalService.Reconcile], but waits until the rescan limit allows it.
// Use it for reconciliations triggered by users.
func (s *JournalService) ReconcileThrottled(ctx context.Context, characterID int32, accessToken string) (app.Reconciliation, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return app.Reconciliation{}, fmt.Errorf("%w: rescan limit: %w", app.ErrReconcileFailed, err)
	}
	return s.Reconcile(ctx, characterID, accessToken)
}

// Reconcile fetches the wallet journal and balance of a character and returns the reconciliation.
// The access token is attached to ctx, which therefore must not carry one already.
// Errors wrap [app.ErrReconcileFailed].
func (s *JournalService) Reconcile(ctx context.Context, characterID int32, accessToken string) (app.Reconciliation, error) {
	if accessToken == "" {
		return app.Reconciliation{}, fmt.Errorf("%w: %w", app.ErrReconcileFailed, app.ErrNotAuthenticated)
	}
	if xesi.ContextHasAccessToken(ctx) {
		// the journal must be fetched with the token of characterID only
		return app.Reconciliation{}, fmt.Errorf("%w: context already carries an access token: %w", app.ErrReconcileFailed, app.ErrInvalid)
	}
	start := s.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = xesi.NewContextWithAccessToken(ctx, accessToken)
	var entries []esi.GetCharactersCharacterIdWalletJournal200Ok
	var balance float64
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.fetchJournal(ctx, characterID)
		if err != nil {
			return fmt.Errorf("wallet journal: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		balance, _, err = s.esiClient.ESI.WalletApi.GetCharactersCharacterIdWallet(ctx, characterID, nil)
		if err != nil {
			return fmt.Errorf("wallet balance: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Warn("Failed to reconcile wallet journal", "characterID", characterID, "error", err)
		return app.Reconciliation{}, fmt.Errorf("%w: character %d: %w", app.ErrReconcileFailed, characterID, err)
	}
	r := Summarize(characterID, mapEntries(entries))
	r.Balance = int64(balance)
	r.FetchedAt = s.Now()
	r.Elapsed = r.FetchedAt.Sub(start)
	slog.Info(
		"Reconciled wallet journal",
		"characterID", characterID,
		"entries", len(r.Transactions),
		"revenue", humanize.Comma(r.Revenue),
		"matched", r.MatchedCount,
		"elapsed", r.Elapsed,
	)
	return r, nil
}

func (s *JournalService) fetchJournal(ctx context.Context, characterID int32) ([]esi.GetCharactersCharacterIdWalletJournal200Ok, error) {
	return xesi.FetchWithPaging(
		ctx,
		s.concurrencyLimit,
		func(ctx context.Context, page int) ([]esi.GetCharactersCharacterIdWalletJournal200Ok, *http.Response, error) {
			arg := &esi.GetCharactersCharacterIdWalletJournalOpts{
				Page: esioptional.NewInt32(int32(page)),
			}
			return s.esiClient.ESI.WalletApi.GetCharactersCharacterIdWalletJournal(ctx, characterID, arg)
		})
}

// mapEntries converts raw journal entries into transactions, newest first.
func mapEntries(entries []esi.GetCharactersCharacterIdWalletJournal200Ok) []app.WalletTransaction {
	oo := make([]app.WalletTransaction, 0, len(entries))
	for _, e := range entries {
		amount := int64(e.Amount) // truncates toward zero
		reason := e.Reason
		if reason == "" {
			reason = app.PersonalTransactionReason
		}
		oo = append(oo, app.WalletTransaction{
			ID:           e.Id,
			Date:         e.Date,
			Amount:       amount,
			Reason:       reason,
			Direction:    app.DirectionFromAmount(amount),
			FirstPartyID: e.FirstPartyId,
		})
	}
	slices.SortStableFunc(oo, func(a, b app.WalletTransaction) int {
		return cmp.Or(b.Date.Compare(a.Date), cmp.Compare(b.ID, a.ID))
	})
	return oo
}
