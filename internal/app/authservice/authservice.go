// Package authservice drives the Eve Online SSO login of a single character.
//
// The login is an OAuth 2.0 authorization code flow with PKCE.
// It is split in two steps, because the process may be restarted between them:
// [AuthService.StartLogin] returns the URL the browser must be sent to
// and [AuthService.CompleteLogin] finishes the login when the browser returns to the callback URL.
package authservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/pkce"
	"github.com/jp-673/isktreon/internal/singleinstance"
)

const (
	authorizeURLDefault = "https://login.eveonline.com/v2/oauth/authorize"
	tokenURLDefault     = "https://login.eveonline.com/v2/oauth/token"
	verifyURLDefault    = "https://login.eveonline.com/oauth/verify"
	timeoutDefault      = 15 * time.Second
	stateBytes          = 16
	exchangeKey         = "exchange"
)

// IdentityResolver resolves the public profile of a character.
type IdentityResolver interface {
	Resolve(ctx context.Context, characterID int32, accessToken string) (app.PublicProfile, error)
}

// Storage is the durable local storage for the PKCE verifier.
type Storage interface {
	GetDictEntry(ctx context.Context, key string) ([]byte, bool, error)
	SetDictEntry(ctx context.Context, key string, value []byte) error
	DeleteDictEntry(ctx context.Context, key string) error
}

// LeveledLogger is a logger with levels. It is satisfied by [slog.Logger].
type LeveledLogger interface {
	Error(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

// AuthService owns the session of the authenticated character.
// It is safe for concurrent use.
type AuthService struct {
	// Now returns the current time. Tests can replace it.
	Now func() time.Time

	exchange   singleinstance.Group
	httpClient *http.Client
	identity   IdentityResolver
	logger     LeveledLogger
	oauth      *oauth2.Config
	pkce       pkce.Generator
	st         Storage
	timeout    time.Duration
	verifyURL  string

	mu         sync.RWMutex
	generation uint64 // incremented whenever a session is started or ended
	session    app.AuthSession
}

type Params struct {
	CallbackURL string
	ClientID    string
	Identity    IdentityResolver
	Storage     Storage
	// optional
	AuthorizeURL string
	HTTPClient   *http.Client
	Logger       LeveledLogger
	Random       io.Reader
	Scopes       []string
	Timeout      time.Duration // limit for each call to the SSO server
	TokenURL     string
	VerifyURL    string
}

// New returns a new AuthService in idle state.
// Optional parameters which are not set will be given a default.
func New(arg Params) *AuthService {
	if arg.Identity == nil {
		panic("authservice: missing identity resolver")
	}
	if arg.Storage == nil {
		panic("authservice: missing storage")
	}
	s := &AuthService{
		Now:        time.Now,
		httpClient: arg.HTTPClient,
		identity:   arg.Identity,
		logger:     arg.Logger,
		pkce:       pkce.Generator{Random: arg.Random},
		st:         arg.Storage,
		timeout:    arg.Timeout,
		verifyURL:  arg.VerifyURL,
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = timeoutDefault
	}
	if s.verifyURL == "" {
		s.verifyURL = verifyURLDefault
	}
	authorizeURL := arg.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = authorizeURLDefault
	}
	tokenURL := arg.TokenURL
	if tokenURL == "" {
		tokenURL = tokenURLDefault
	}
	scopes := arg.Scopes
	if len(scopes) == 0 {
		scopes = app.Scopes()
	}
	s.oauth = &oauth2.Config{
		ClientID: arg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: arg.CallbackURL,
		Scopes:      scopes,
	}
	return s
}

// StartLogin starts a new login and returns the authorization URL the user must be sent to.
//
// The code verifier is persisted before the URL is returned, so that
// the login can be completed even after a restart of the process.
// A new login can be started from idle state, after a failed login and to replace a pending login.
func (s *AuthService) StartLogin(ctx context.Context) (string, error) {
	if s.exchange.IsRunning(exchangeKey) {
		return "", app.ErrExchangeInProgress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.session.State {
	case app.AuthExchanging, app.AuthAuthenticated:
		return "", fmt.Errorf("start login in state %s: %w", s.session.State, app.ErrInvalid)
	}
	pair, err := s.pkce.Generate()
	if err != nil {
		s.fail(err)
		return "", err
	}
	state, err := s.pkce.RandomString(stateBytes)
	if err != nil {
		s.fail(err)
		return "", err
	}
	r := verifierRecord{Verifier: pair.Verifier, State: state, CreatedAt: s.Now().UTC()}
	if err := s.saveVerifier(ctx, r); err != nil {
		return "", err
	}
	u := s.oauth.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	)
	s.generation++
	s.session = app.AuthSession{
		State:              app.AuthRedirecting,
		CodeChallenge:      pair.Challenge,
		AuthorizationState: state,
	}
	s.logger.Info("SSO login started")
	return u, nil
}

// Logout ends the current session and clears the persisted verifier.
// It is available from any state and always returns the service to idle state.
func (s *AuthService) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	characterID := s.session.CharacterID
	s.generation++
	s.session = app.AuthSession{}
	if err := s.clearVerifier(ctx); err != nil {
		return err
	}
	s.logger.Info("Logged out", "characterID", characterID)
	return nil
}

// Snapshot returns a copy of the current session.
func (s *AuthService) Snapshot() app.AuthSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session)
}

// Credentials returns the character ID and access token of the authenticated character.
//
// It returns [app.ErrNotAuthenticated] when no character is authenticated.
// An expired session is ended, since tokens are never refreshed.
func (s *AuthService) Credentials() (int32, string, error) {
	s.mu.RLock()
	ss := s.session
	s.mu.RUnlock()
	if ss.State != app.AuthAuthenticated || ss.AccessToken == "" {
		return 0, "", app.ErrNotAuthenticated
	}
	if ss.IsExpired(s.Now()) {
		s.mu.Lock()
		if s.session.AccessToken == ss.AccessToken {
			s.generation++
			s.session = app.AuthSession{LastError: "session expired"}
		}
		s.mu.Unlock()
		s.logger.Info("Session expired", "characterID", ss.CharacterID)
		return 0, "", fmt.Errorf("session expired: %w", app.ErrNotAuthenticated)
	}
	return ss.CharacterID, ss.AccessToken, nil
}

// RefreshProfile fetches the public profile of the authenticated character again.
// This allows recovering from a failed profile fetch without a new login.
func (s *AuthService) RefreshProfile(ctx context.Context) (app.AuthSession, error) {
	characterID, token, err := s.Credentials()
	if err != nil {
		return s.Snapshot(), err
	}
	p, err := s.resolveProfile(ctx, characterID, token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session.AccessToken != token {
		return copySession(s.session), fmt.Errorf("refresh profile: session changed: %w", app.ErrNotAuthenticated)
	}
	if err != nil {
		s.session.LastError = err.Error()
		return copySession(s.session), err
	}
	s.session.Profile = &p
	s.session.LastError = ""
	return copySession(s.session), nil
}

// fail moves the session into failed state. Caller must hold the lock.
func (s *AuthService) fail(err error) {
	s.session = app.AuthSession{State: app.AuthFailed, LastError: err.Error()}
}

func (s *AuthService) resolveProfile(ctx context.Context, characterID int32, token string) (app.PublicProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	p, err := s.identity.Resolve(ctx, characterID, token)
	if err != nil {
		s.logger.Warn("Failed to fetch profile", "characterID", characterID, "error", err)
		if !errors.Is(err, app.ErrProfileFetchFailed) {
			err = fmt.Errorf("%w: %w", app.ErrProfileFetchFailed, err)
		}
		return app.PublicProfile{}, err
	}
	return p, nil
}

func copySession(x app.AuthSession) app.AuthSession {
	if x.Profile != nil {
		p := *x.Profile
		x.Profile = &p
	}
	x.Scopes = slices.Clone(x.Scopes)
	return x
}
