// Package patronageservice issues reason codes for patronage intents and verifies their payment.
package patronageservice

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/maniartech/signals"

	"github.com/jp-673/isktreon/internal/app"
)

// Maximum number of attempts to find a reason code which is not outstanding.
const maxIssueAttempts = 100

// Credentials provides the credentials of the authenticated character.
type Credentials interface {
	Credentials() (int32, string, error)
}

// Reconciler reconciles the wallet journal of a character.
type Reconciler interface {
	Reconcile(ctx context.Context, characterID int32, accessToken string) (app.Reconciliation, error)
	ReconcileThrottled(ctx context.Context, characterID int32, accessToken string) (app.Reconciliation, error)
}

// PatronageService manages outstanding patronage intents and the subscriptions created from them.
// It is safe for concurrent use.
type PatronageService struct {
	// Now returns the current time. Tests can replace it.
	Now func() time.Time
	// SubscriptionConfirmed is emitted for every new subscription.
	SubscriptionConfirmed signals.Signal[app.Subscription]

	auth     Credentials
	creators []app.Creator
	journal  Reconciler
	randIntN func(n int) int

	mu            sync.Mutex
	intents       map[string]*outstandingIntent // by reason code
	subscriptions []app.Subscription
}

type outstandingIntent struct {
	intent app.PatronageIntent
	status app.VerificationStatus
}

type Params struct {
	Auth     Credentials
	Creators []app.Creator
	Journal  Reconciler
	// optional
	RandIntN func(n int) int // source for reason codes
}

// New returns a new PatronageService.
func New(arg Params) *PatronageService {
	s := &PatronageService{
		Now:                   time.Now,
		SubscriptionConfirmed: signals.NewSync[app.Subscription](),
		auth:                  arg.Auth,
		creators:              slices.Clone(arg.Creators),
		intents:               make(map[string]*outstandingIntent),
		journal:               arg.Journal,
		randIntN:              arg.RandIntN,
	}
	if s.randIntN == nil {
		s.randIntN = rand.IntN
	}
	return s
}

// Creators returns the catalog of creators.
func (s *PatronageService) Creators() []app.Creator {
	return slices.Clone(s.creators)
}

// Creator returns a creator from the catalog or [app.ErrNotFound].
func (s *PatronageService) Creator(id int32) (app.Creator, error) {
	i := slices.IndexFunc(s.creators, func(c app.Creator) bool {
		return c.ID == id
	})
	if i == -1 {
		return app.Creator{}, fmt.Errorf("creator %d: %w", id, app.ErrNotFound)
	}
	return s.creators[i], nil
}

// IssueForCreator is like [PatronageService.Issue] for a creator from the catalog.
func (s *PatronageService) IssueForCreator(creatorID int32, tierIndex int) (app.PatronageIntent, error) {
	c, err := s.Creator(creatorID)
	if err != nil {
		return app.PatronageIntent{}, err
	}
	return s.Issue(c, tierIndex)
}

// Issue creates a new patronage intent for a tier of a creator and returns it.
// The reason code is unique among all outstanding intents and confirmed subscriptions.
// It returns [app.ErrInvalidTier] when the creator has no tier at tierIndex.
func (s *PatronageService) Issue(creator app.Creator, tierIndex int) (app.PatronageIntent, error) {
	tier, ok := creator.Tier(tierIndex)
	if !ok {
		return app.PatronageIntent{}, fmt.Errorf("creator %d tier %d: %w", creator.ID, tierIndex, app.ErrInvalidTier)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var code string
	for range maxIssueAttempts {
		c := fmt.Sprintf("%s%06d", app.ReasonCodePrefix, s.randIntN(1_000_000))
		if !s.isCodeTaken(c) {
			code = c
			break
		}
	}
	if code == "" {
		return app.PatronageIntent{}, fmt.Errorf("issue reason code: no free code found: %w", app.ErrInvalid)
	}
	o := app.PatronageIntent{
		CreatorID:   creator.ID,
		CreatorName: creator.Name,
		TierIndex:   tierIndex,
		TierName:    tier.Name,
		TierCost:    tier.Cost,
		ReasonCode:  code,
		IssuedAt:    s.Now(),
	}
	s.intents[code] = &outstandingIntent{intent: o, status: app.AwaitingPayment}
	slog.Info("Issued patronage intent", "creatorID", creator.ID, "tier", tier.Name, "reasonCode", code)
	return o, nil
}

// isCodeTaken reports whether a reason code is used by an intent or a subscription.
// A consumed code must never be reissued, because it's payment would confirm the new intent.
// Callers must hold the lock.
func (s *PatronageService) isCodeTaken(code string) bool {
	if _, found := s.intents[code]; found {
		return true
	}
	return slices.ContainsFunc(s.subscriptions, func(x app.Subscription) bool {
		return x.ReasonCode == code
	})
}

// Discard cancels an outstanding intent.
// Results of verifications which are still in flight for it are ignored.
func (s *PatronageService) Discard(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.intents[code]; !found {
		return fmt.Errorf("intent %s: %w", code, app.ErrNotFound)
	}
	delete(s.intents, code)
	slog.Info("Discarded patronage intent", "reasonCode", code)
	return nil
}

// Intent returns an outstanding intent with it's verification status.
func (s *PatronageService) Intent(code string) (app.PatronageIntent, app.VerificationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	x, found := s.intents[code]
	if !found {
		return app.PatronageIntent{}, 0, fmt.Errorf("intent %s: %w", code, app.ErrNotFound)
	}
	return x.intent, x.status, nil
}

// List returns all outstanding intents, oldest first.
func (s *PatronageService) List() []app.PatronageIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	oo := make([]app.PatronageIntent, 0, len(s.intents))
	for _, x := range s.intents {
		oo = append(oo, x.intent)
	}
	slices.SortFunc(oo, func(a, b app.PatronageIntent) int {
		return cmp.Or(a.IssuedAt.Compare(b.IssuedAt), cmp.Compare(a.ReasonCode, b.ReasonCode))
	})
	return oo
}

// Subscriptions returns all subscriptions confirmed by this service, oldest first.
func (s *PatronageService) Subscriptions() []app.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.subscriptions)
}

// HasOutstanding reports whether there are intents waiting for payment.
func (s *PatronageService) HasOutstanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intents) > 0
}
