package authservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/eveimage"
)

// Callback contains the query parameters of the return navigation from the SSO server.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CompleteLogin completes a login with the authorization code from the callback.
//
// Only one exchange can be in flight at a time.
// Concurrent calls return [app.ErrExchangeInProgress] without any side effects.
//
// When the profile can not be fetched the session is still authenticated
// and the returned error wraps [app.ErrProfileFetchFailed].
func (s *AuthService) CompleteLogin(ctx context.Context, cb Callback) (app.AuthSession, error) {
	var ss app.AuthSession
	aborted, err := s.exchange.Do(exchangeKey, func() error {
		var err error
		ss, err = s.completeLogin(ctx, cb)
		return err
	})
	if aborted {
		return s.Snapshot(), app.ErrExchangeInProgress
	}
	return ss, err
}

func (s *AuthService) completeLogin(ctx context.Context, cb Callback) (app.AuthSession, error) {
	s.mu.RLock()
	current := s.session.State
	gen := s.generation
	s.mu.RUnlock()
	if current == app.AuthAuthenticated {
		return s.Snapshot(), fmt.Errorf("complete login: already authenticated: %w", app.ErrInvalid)
	}
	if cb.Error != "" {
		err := fmt.Errorf("%w: authorization denied: %s: %s", app.ErrTokenExchangeFailed, cb.Error, cb.ErrorDescription)
		if err2 := s.clearVerifier(ctx); err2 != nil {
			s.logger.Error("Failed to clear verifier", "error", err2)
		}
		return s.failWith(gen, err)
	}
	if cb.Code == "" {
		return s.Snapshot(), fmt.Errorf("complete login: missing authorization code: %w", app.ErrInvalid)
	}
	r, err := s.loadVerifier(ctx)
	if err != nil {
		return s.failWith(gen, err)
	}
	if cb.State != "" && cb.State != r.State {
		// the persisted verifier belongs to a different login
		return s.failWith(gen, fmt.Errorf("state does not match: %w", app.ErrMissingVerifier))
	}
	token, err := s.exchangeCode(ctx, cb.Code, r.Verifier)
	if err2 := s.clearVerifier(ctx); err2 != nil {
		s.logger.Error("Failed to clear verifier", "error", err2)
	}
	if err != nil {
		return s.failWith(gen, err)
	}
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return s.abandoned()
	}
	s.session.State = app.AuthExchanging
	s.session.AccessToken = token.AccessToken
	s.mu.Unlock()

	c, err := s.verifyToken(ctx, token.AccessToken)
	if err != nil {
		return s.failWith(gen, err)
	}
	expiresAt := c.expiresAt()
	if expiresAt.IsZero() {
		expiresAt = token.Expiry
	}
	profile, profileErr := s.resolveProfile(ctx, c.CharacterID, token.AccessToken)
	if profileErr != nil {
		profile = fallbackProfile(c.CharacterID, c.CharacterName)
	}
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return s.abandoned()
	}
	s.session = app.AuthSession{
		State:         app.AuthAuthenticated,
		AccessToken:   token.AccessToken,
		ExpiresAt:     expiresAt,
		CharacterID:   c.CharacterID,
		CharacterName: c.CharacterName,
		Profile:       &profile,
		Scopes:        grantedScopes(c.Scopes, token.AccessToken),
	}
	if profileErr != nil {
		s.session.LastError = profileErr.Error()
	}
	ss := copySession(s.session)
	s.mu.Unlock()
	s.logger.Info("SSO authentication successful", "characterID", c.CharacterID, "characterName", c.CharacterName)
	return ss, profileErr
}

// failWith moves the session into failed state unless it was ended during the exchange.
func (s *AuthService) failWith(gen uint64, err error) (app.AuthSession, error) {
	s.logger.Warn("SSO login failed", "error", err)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.fail(err)
	}
	return copySession(s.session), err
}

// abandoned reports an exchange whose session was ended while it was in flight.
// The results of such an exchange are discarded.
func (s *AuthService) abandoned() (app.AuthSession, error) {
	s.logger.Info("SSO login discarded, because the session ended during the exchange")
	return s.Snapshot(), fmt.Errorf("complete login: session ended during exchange: %w", app.ErrInvalid)
}

// exchangeCode exchanges an authorization code for a new token.
func (s *AuthService) exchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %s: %s", app.ErrTokenExchangeFailed, re.ErrorCode, re.ErrorDescription)
		}
		return nil, fmt.Errorf("%w: %w", app.ErrTokenExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access token in response", app.ErrTokenExchangeFailed)
	}
	return token, nil
}

// verifyResponse is the payload returned by the SSO verify endpoint.
type verifyResponse struct {
	CharacterID        int32  `json:"CharacterID"`
	CharacterName      string `json:"CharacterName"`
	ExpiresOn          string `json:"ExpiresOn"`
	Scopes             string `json:"Scopes"`
	TokenType          string `json:"TokenType"`
	CharacterOwnerHash string `json:"CharacterOwnerHash"`
}

// expiresAt returns the expiry of the token or the zero time when unknown.
// The SSO server reports UTC times without a zone designator.
func (r verifyResponse) expiresAt() time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339} {
		t, err := time.ParseInLocation(layout, r.ExpiresOn, time.UTC)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// verifyToken identifies the character an access token belongs to.
func (s *AuthService) verifyToken(ctx context.Context, accessToken string) (verifyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.verifyURL, nil)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("%w: %w", app.ErrTokenExchangeFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("%w: verify: %w", app.ErrTokenExchangeFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("%w: verify: %w", app.ErrTokenExchangeFailed, err)
	}
	if resp.StatusCode >= 400 {
		return verifyResponse{}, fmt.Errorf("%w: verify: %s", app.ErrTokenExchangeFailed, resp.Status)
	}
	var v verifyResponse
	if err := json.Unmarshal(body, &v); err != nil {
		return verifyResponse{}, fmt.Errorf("%w: verify: %w", app.ErrTokenExchangeFailed, err)
	}
	if v.CharacterID == 0 {
		return verifyResponse{}, fmt.Errorf("%w: verify: no character in response", app.ErrTokenExchangeFailed)
	}
	return v, nil
}

// fallbackProfile returns a profile with the information known without the directory.
func fallbackProfile(characterID int32, characterName string) app.PublicProfile {
	p := app.PublicProfile{
		CharacterID:   characterID,
		CharacterName: characterName,
	}
	if u, err := eveimage.CharacterPortraitURL(characterID, app.PortraitPixelSize); err == nil {
		p.PortraitURL = u
	}
	return p
}
