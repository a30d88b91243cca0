package webserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/authservice"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	u, err := s.auth.StartLogin(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, err := s.auth.CompleteLogin(r.Context(), authservice.Callback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	// The session is authenticated even when the profile could not be fetched.
	if err != nil && !errors.Is(err, app.ErrProfileFetchFailed) {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(s.auth.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionResponse(s.auth.Snapshot()))
}

func (s *Server) handleRefreshProfile(w http.ResponseWriter, r *http.Request) {
	x, err := s.auth.RefreshProfile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(x))
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	characterID, token, err := s.auth.Credentials()
	if err != nil {
		writeError(w, r, err)
		return
	}
	x, err := s.journal.ReconcileThrottled(r.Context(), characterID, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJournalResponse(x))
}

func (s *Server) handleGetCreators(w http.ResponseWriter, r *http.Request) {
	oo := make([]creatorResponse, 0)
	for _, c := range s.patronage.Creators() {
		oo = append(oo, newCreatorResponse(c))
	}
	writeJSON(w, http.StatusOK, oo)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	oo := make([]intentResponse, 0)
	for _, x := range s.patronage.List() {
		o := newIntentResponse(x)
		if _, status, err := s.patronage.Intent(x.ReasonCode); err == nil {
			o.Status = status.String()
		}
		oo = append(oo, o)
	}
	writeJSON(w, http.StatusOK, oo)
}

type issueRequest struct {
	CreatorID int32 `json:"creatorId"`
	TierIndex int   `json:"tierIndex"`
}

func (s *Server) handleIssueIntent(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %s", err)})
		return
	}
	x, err := s.patronage.IssueForCreator(req.CreatorID, req.TierIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o := newIntentResponse(x)
	o.Status = app.AwaitingPayment.String()
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	code, ok := reasonCodeParam(w, r)
	if !ok {
		return
	}
	x, status, err := s.patronage.Intent(code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o := newIntentResponse(x)
	o.Status = status.String()
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleDiscardIntent(w http.ResponseWriter, r *http.Request) {
	code, ok := reasonCodeParam(w, r)
	if !ok {
		return
	}
	if err := s.patronage.Discard(code); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyIntent(w http.ResponseWriter, r *http.Request) {
	code, ok := reasonCodeParam(w, r)
	if !ok {
		return
	}
	x, err := s.patronage.Rescan(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newVerificationResponse(x))
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	oo := make([]subscriptionResponse, 0)
	for _, x := range s.patronage.Subscriptions() {
		oo = append(oo, newSubscriptionResponse(x))
	}
	slices.SortFunc(oo, func(a, b subscriptionResponse) int {
		return b.ConfirmedAt.Compare(a.ConfirmedAt)
	})
	writeJSON(w, http.StatusOK, oo)
}

// reasonCodeParam returns the reason code from the URL path.
// It responds with bad request and reports false when the code is malformed.
func reasonCodeParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := chi.URLParam(r, "code")
	if !app.IsReasonCode(code) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid reason code: %q", code)})
		return "", false
	}
	return code, true
}
