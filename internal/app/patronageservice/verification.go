package patronageservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ErikKalkoken/go-set"
	"github.com/dustin/go-humanize"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/journalservice"
)

// Rescan verifies the payment for an outstanding intent against a fresh wallet journal.
//
// When no payment is found the result has status [app.StillAwaiting], which is not an error.
// When the intent was discarded while the journal was fetched, the result is ignored
// and [app.ErrNotFound] is returned.
func (s *PatronageService) Rescan(ctx context.Context, code string) (app.VerificationResult, error) {
	start := s.Now()
	intent, previous, err := s.startVerifying(code)
	if err != nil {
		return app.VerificationResult{}, err
	}
	r, err := s.reconcile(ctx, true)
	if err != nil {
		s.setStatus(code, previous)
		return app.VerificationResult{Status: previous, Intent: intent}, err
	}
	result := app.VerificationResult{
		Intent:         intent,
		CheckedEntries: len(r.Transactions),
	}
	sub, ok := journalservice.Verify(intent, r.Transactions, s.Now())
	if ok {
		if !s.consume(code, sub) {
			return app.VerificationResult{}, fmt.Errorf("intent %s was discarded: %w", code, app.ErrNotFound)
		}
		s.SubscriptionConfirmed.Emit(ctx, sub)
		result.Status = app.Confirmed
		result.Subscription = &sub
	} else {
		if !s.setStatus(code, app.StillAwaiting) {
			return app.VerificationResult{}, fmt.Errorf("intent %s was discarded: %w", code, app.ErrNotFound)
		}
		result.Status = app.StillAwaiting
	}
	result.Elapsed = s.Now().Sub(start)
	slog.Info("Verified patronage intent", "reasonCode", code, "status", result.Status, "elapsed", result.Elapsed)
	return result, nil
}

// RescanAll verifies all outstanding intents against one fresh wallet journal.
// It returns the results for all intents which were outstanding when the rescan started.
func (s *PatronageService) RescanAll(ctx context.Context) ([]app.VerificationResult, error) {
	start := s.Now()
	intents := s.List()
	if len(intents) == 0 {
		return nil, nil
	}
	r, err := s.reconcile(ctx, false)
	if err != nil {
		return nil, err
	}
	var confirmed set.Set[string]
	results := make([]app.VerificationResult, 0, len(intents))
	for _, intent := range intents {
		result := app.VerificationResult{
			Intent:         intent,
			CheckedEntries: len(r.Transactions),
		}
		sub, ok := journalservice.Verify(intent, r.Transactions, s.Now())
		switch {
		case ok && s.consume(intent.ReasonCode, sub):
			s.SubscriptionConfirmed.Emit(ctx, sub)
			result.Status = app.Confirmed
			result.Subscription = &sub
			confirmed.Add(intent.ReasonCode)
		case ok:
			continue // discarded in the meantime
		default:
			s.markStillAwaiting(intent.ReasonCode)
			result.Status = app.StillAwaiting
		}
		result.Elapsed = s.Now().Sub(start)
		results = append(results, result)
	}
	slog.Info(
		"Verified outstanding patronage intents",
		"intents", len(intents),
		"confirmed", slices.Sorted(confirmed.All()),
		"revenue", humanize.Comma(r.Revenue),
	)
	return results, nil
}

func (s *PatronageService) reconcile(ctx context.Context, throttled bool) (app.Reconciliation, error) {
	if s.auth == nil || s.journal == nil {
		return app.Reconciliation{}, fmt.Errorf("patronage service: %w", app.ErrNotAuthenticated)
	}
	characterID, token, err := s.auth.Credentials()
	if err != nil {
		return app.Reconciliation{}, err
	}
	if throttled {
		return s.journal.ReconcileThrottled(ctx, characterID, token)
	}
	return s.journal.Reconcile(ctx, characterID, token)
}

// startVerifying moves an intent into verifying state and returns it with it's previous status.
func (s *PatronageService) startVerifying(code string) (app.PatronageIntent, app.VerificationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, found := s.intents[code]
	if !found {
		return app.PatronageIntent{}, 0, fmt.Errorf("intent %s: %w", code, app.ErrNotFound)
	}
	if x.status == app.Verifying {
		return app.PatronageIntent{}, 0, fmt.Errorf("intent %s is already verifying: %w", code, app.ErrInvalid)
	}
	previous := x.status
	x.status = app.Verifying
	return x.intent, previous, nil
}

// setStatus updates the status of an outstanding intent and reports whether it was found.
func (s *PatronageService) setStatus(code string, status app.VerificationStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, found := s.intents[code]
	if found {
		x.status = status
	}
	return found
}

// markStillAwaiting records a failed verification unless another verification is in flight.
func (s *PatronageService) markStillAwaiting(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if x, found := s.intents[code]; found && x.status != app.Verifying {
		x.status = app.StillAwaiting
	}
}

// consume replaces an outstanding intent with it's subscription.
// It reports whether the intent was still outstanding.
func (s *PatronageService) consume(code string, sub app.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.intents[code]; !found {
		return false
	}
	delete(s.intents, code)
	s.subscriptions = append(s.subscriptions, sub)
	return true
}
