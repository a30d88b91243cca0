package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jp-673/isktreon/internal/app"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFromError returns the HTTP status code for an error.
// More specific kinds must be checked before the kinds which wrap them.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidTier), errors.Is(err, app.ErrMissingVerifier):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrInvalid), errors.Is(err, app.ErrExchangeInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, app.ErrTokenExchangeFailed),
		errors.Is(err, app.ErrProfileFetchFailed),
		errors.Is(err, app.ErrReconcileFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type profileResponse struct {
	CharacterID     int32   `json:"characterId"`
	CharacterName   string  `json:"characterName"`
	CorporationID   int32   `json:"corporationId"`
	CorporationName string  `json:"corporationName"`
	PortraitURL     string  `json:"portraitUrl"`
	CorporationLogo string  `json:"corporationLogoUrl,omitempty"`
	SecurityStatus  float64 `json:"securityStatus"`
}

// sessionResponse is the public view of a session. It never contains the bearer token.
type sessionResponse struct {
	State         string           `json:"state"`
	CharacterID   int32            `json:"characterId,omitempty"`
	CharacterName string           `json:"characterName,omitempty"`
	ExpiresAt     *time.Time       `json:"expiresAt,omitempty"`
	Profile       *profileResponse `json:"profile,omitempty"`
	Scopes        []string         `json:"scopes,omitempty"`
	LastError     string           `json:"lastError,omitempty"`
}

func newSessionResponse(x app.AuthSession) sessionResponse {
	o := sessionResponse{
		State:         x.State.String(),
		CharacterID:   x.CharacterID,
		CharacterName: x.CharacterName,
		Scopes:        x.Scopes,
		LastError:     x.LastError,
	}
	if !x.ExpiresAt.IsZero() {
		t := x.ExpiresAt
		o.ExpiresAt = &t
	}
	if p := x.Profile; p != nil {
		o.Profile = &profileResponse{
			CharacterID:     p.CharacterID,
			CharacterName:   p.CharacterName,
			CorporationID:   p.CorporationID,
			CorporationName: p.CorporationName,
			PortraitURL:     p.PortraitURL,
			CorporationLogo: p.CorporationLogo,
			SecurityStatus:  p.SecurityStatus,
		}
	}
	return o
}

type tierResponse struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Cost  int64  `json:"cost"`
}

type creatorResponse struct {
	ID    int32          `json:"id"`
	Name  string         `json:"name"`
	Tiers []tierResponse `json:"tiers"`
}

func newCreatorResponse(x app.Creator) creatorResponse {
	o := creatorResponse{ID: x.ID, Name: x.Name, Tiers: make([]tierResponse, 0, len(x.Tiers))}
	for i, t := range x.Tiers {
		o.Tiers = append(o.Tiers, tierResponse{Index: i, Name: t.Name, Cost: t.Cost})
	}
	return o
}

type intentResponse struct {
	CreatorID   int32     `json:"creatorId"`
	CreatorName string    `json:"creatorName"`
	TierIndex   int       `json:"tierIndex"`
	TierName    string    `json:"tierName"`
	TierCost    int64     `json:"tierCost"`
	ReasonCode  string    `json:"reasonCode"`
	IssuedAt    time.Time `json:"issuedAt"`
	Status      string    `json:"status,omitempty"`
}

func newIntentResponse(x app.PatronageIntent) intentResponse {
	return intentResponse{
		CreatorID:   x.CreatorID,
		CreatorName: x.CreatorName,
		TierIndex:   x.TierIndex,
		TierName:    x.TierName,
		TierCost:    x.TierCost,
		ReasonCode:  x.ReasonCode,
		IssuedAt:    x.IssuedAt,
	}
}

type subscriptionResponse struct {
	CreatorID       int32     `json:"creatorId"`
	CreatorName     string    `json:"creatorName"`
	TierName        string    `json:"tierName"`
	Cost            int64     `json:"cost"`
	ReasonCode      string    `json:"reasonCode"`
	TransactionID   int64     `json:"transactionId"`
	ConfirmedAt     time.Time `json:"confirmedAt"`
	NextBillingDate time.Time `json:"nextBillingDate"`
}

func newSubscriptionResponse(x app.Subscription) subscriptionResponse {
	return subscriptionResponse{
		CreatorID:       x.CreatorID,
		CreatorName:     x.CreatorName,
		TierName:        x.TierName,
		Cost:            x.Cost,
		ReasonCode:      x.ReasonCode,
		TransactionID:   x.TransactionID,
		ConfirmedAt:     x.ConfirmedAt,
		NextBillingDate: x.NextBillingDate,
	}
}

type verificationResponse struct {
	Status         string                `json:"status"`
	Intent         intentResponse        `json:"intent"`
	Subscription   *subscriptionResponse `json:"subscription,omitempty"`
	ElapsedMS      int64                 `json:"elapsedMs"`
	CheckedEntries int                   `json:"checkedEntries"`
}

func newVerificationResponse(x app.VerificationResult) verificationResponse {
	o := verificationResponse{
		Status:         x.Status.String(),
		Intent:         newIntentResponse(x.Intent),
		ElapsedMS:      x.Elapsed.Milliseconds(),
		CheckedEntries: x.CheckedEntries,
	}
	if x.Subscription != nil {
		s := newSubscriptionResponse(*x.Subscription)
		o.Subscription = &s
	}
	return o
}

type transactionResponse struct {
	ID        int64         `json:"id"`
	Date      time.Time     `json:"date"`
	Amount    int64         `json:"amount"`
	Reason    string        `json:"reason"`
	Direction app.Direction `json:"direction"`
}

type journalResponse struct {
	CharacterID  int32                 `json:"characterId"`
	Balance      int64                 `json:"balance"`
	Revenue      int64                 `json:"revenue"`
	MatchedCount int                   `json:"matchedCount"`
	UniquePayers int                   `json:"uniquePayers"`
	Transactions []transactionResponse `json:"transactions"`
	FetchedAt    time.Time             `json:"fetchedAt"`
	ElapsedMS    int64                 `json:"elapsedMs"`
}

func newJournalResponse(x app.Reconciliation) journalResponse {
	o := journalResponse{
		CharacterID:  x.CharacterID,
		Balance:      x.Balance,
		Revenue:      x.Revenue,
		MatchedCount: x.MatchedCount,
		UniquePayers: x.UniquePayers,
		Transactions: make([]transactionResponse, 0, len(x.Transactions)),
		FetchedAt:    x.FetchedAt,
		ElapsedMS:    x.Elapsed.Milliseconds(),
	}
	for _, t := range x.Transactions {
		o.Transactions = append(o.Transactions, transactionResponse{
			ID:        t.ID,
			Date:      t.Date,
			Amount:    t.Amount,
			Reason:    t.Reason,
			Direction: t.Direction,
		})
	}
	return o
}
