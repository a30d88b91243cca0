package authservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jp-673/isktreon/internal/app"
	"github.com/jp-673/isktreon/internal/app/authservice"
	"github.com/jp-673/isktreon/internal/app/pkce"
	"github.com/jp-673/isktreon/internal/app/storage"
	"github.com/jp-673/isktreon/internal/app/storage/testutil"
)

const (
	clientID      = "client-123"
	callbackURL   = "http://localhost:8000/callback"
	characterID   = 90000001
	characterName = "Bruce Wayne"
)

type fakeIdentity struct {
	err   error
	calls atomic.Int32
}

func (f *fakeIdentity) Resolve(ctx context.Context, id int32, token string) (app.PublicProfile, error) {
	f.calls.Add(1)
	if f.err != nil {
		return app.PublicProfile{}, f.err
	}
	return app.PublicProfile{
		CharacterID:     id,
		CharacterName:   characterName,
		CorporationID:   98000001,
		CorporationName: "Wayne Enterprises",
		SecurityStatus:  -1.3,
	}, nil
}

// fakeSSO simulates the token and verify endpoints of the SSO server.
type fakeSSO struct {
	srv *httptest.Server

	mu          sync.Mutex
	tokenForm   url.Values
	tokenCalls  int
	tokenStatus int
	verifyFail  bool
	// when set token requests are signaled on started and wait for block to be closed
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSSO) TokenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls
}

func (f *fakeSSO) TokenForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenForm
}

func (f *fakeSSO) Set(fn func(f *fakeSSO)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newFakeSSO(t *testing.T) *fakeSSO {
	f := &fakeSSO{tokenStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		block, started := f.block, f.started
		f.mu.Unlock()
		if block != nil {
			close(started)
			<-block
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.tokenForm = r.PostForm
		f.tokenCalls++
		status := f.tokenStatus
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"Authorization code is invalid."}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"access-token-1","expires_in":1199,"token_type":"Bearer","refresh_token":"refresh-1"}`)
	})
	mux.HandleFunc("GET /oauth/verify", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		verifyFail := f.verifyFail
		f.mu.Unlock()
		if verifyFail || r.Header.Get("Authorization") != "Bearer access-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"CharacterID":%d,"CharacterName":%q,"ExpiresOn":"2030-06-01T12:20:00","Scopes":"publicData","TokenType":"Character"}`, characterID, characterName)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newService(sso *fakeSSO, st authservice.Storage, identity authservice.IdentityResolver) *authservice.AuthService {
	s := authservice.New(authservice.Params{
		AuthorizeURL: "https://login.eveonline.com/v2/oauth/authorize",
		CallbackURL:  callbackURL,
		ClientID:     clientID,
		HTTPClient:   sso.srv.Client(),
		Identity:     identity,
		Storage:      st,
		Timeout:      5 * time.Second,
		TokenURL:     sso.srv.URL + "/v2/oauth/token",
		VerifyURL:    sso.srv.URL + "/oauth/verify",
	})
	s.Now = func() time.Time {
		return time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func startLogin(t *testing.T, s *authservice.AuthService) url.Values {
	u, err := s.StartLogin(context.Background())
	require.NoError(t, err)
	x, err := url.Parse(u)
	require.NoError(t, err)
	return x.Query()
}

func TestStartLogin(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should build authorization URL and persist verifier", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		// when
		u, err := s.StartLogin(ctx)
		// then
		require.NoError(t, err)
		x, err := url.Parse(u)
		require.NoError(t, err)
		assert.Equal(t, "login.eveonline.com", x.Host)
		assert.Equal(t, "/v2/oauth/authorize", x.Path)
		q := x.Query()
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, clientID, q.Get("client_id"))
		assert.Equal(t, callbackURL, q.Get("redirect_uri"))
		assert.Equal(t, "publicData esi-wallet.read_character_wallet.v1", q.Get("scope"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("state"))
		assert.False(t, q.Has("code_verifier"))
		ss := s.Snapshot()
		assert.Equal(t, app.AuthRedirecting, ss.State)
		assert.Equal(t, q.Get("code_challenge"), ss.CodeChallenge)
		assert.Equal(t, q.Get("state"), ss.AuthorizationState)
		data, found, err := st.GetDictEntry(ctx, authservice.VerifierKey)
		require.NoError(t, err)
		require.True(t, found)
		var r struct {
			Verifier string `json:"verifier"`
			State    string `json:"state"`
		}
		require.NoError(t, json.Unmarshal(data, &r))
		assert.Len(t, r.Verifier, 43)
		assert.Equal(t, pkce.Challenge(r.Verifier), q.Get("code_challenge"))
		assert.Equal(t, q.Get("state"), r.State)
		assert.NotContains(t, u, r.Verifier)
	})
	t.Run("should replace pending login", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		q1 := startLogin(t, s)
		// when
		q2 := startLogin(t, s)
		// then
		assert.NotEqual(t, q1.Get("state"), q2.Get("state"))
		assert.Equal(t, q2.Get("state"), s.Snapshot().AuthorizationState)
	})
	t.Run("should fail when entropy source is unavailable", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := authservice.New(authservice.Params{
			ClientID:    clientID,
			CallbackURL: callbackURL,
			Identity:    &fakeIdentity{},
			Storage:     st,
			Random:      iotest.ErrReader(errors.New("no entropy")),
		})
		// when
		_, err := s.StartLogin(ctx)
		// then
		assert.ErrorIs(t, err, app.ErrEntropySourceUnavailable)
		assert.Equal(t, app.AuthFailed, s.Snapshot().State)
		_, found, err := st.GetDictEntry(ctx, authservice.VerifierKey)
		require.NoError(t, err)
		assert.False(t, found)
	})
	t.Run("should not start login when authenticated", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.NoError(t, err)
		// when
		_, err = s.StartLogin(ctx)
		// then
		assert.ErrorIs(t, err, app.ErrInvalid)
	})
}

func TestCompleteLogin(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should authenticate character", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		identity := &fakeIdentity{}
		s := newService(sso, st, identity)
		q := startLogin(t, s)
		data, _, err := st.GetDictEntry(ctx, authservice.VerifierKey)
		require.NoError(t, err)
		var r struct {
			Verifier string `json:"verifier"`
		}
		require.NoError(t, json.Unmarshal(data, &r))
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		// then
		require.NoError(t, err)
		assert.Equal(t, app.AuthAuthenticated, ss.State)
		assert.EqualValues(t, characterID, ss.CharacterID)
		assert.Equal(t, characterName, ss.CharacterName)
		assert.Equal(t, "access-token-1", ss.AccessToken)
		assert.Equal(t, time.Date(2030, 6, 1, 12, 20, 0, 0, time.UTC), ss.ExpiresAt)
		assert.Equal(t, []string{"publicData"}, ss.Scopes)
		if assert.NotNil(t, ss.Profile) {
			assert.Equal(t, "Wayne Enterprises", ss.Profile.CorporationName)
		}
		assert.Empty(t, ss.LastError)
		assert.Equal(t, "authorization_code", sso.TokenForm().Get("grant_type"))
		assert.Equal(t, clientID, sso.TokenForm().Get("client_id"))
		assert.Equal(t, "code-1", sso.TokenForm().Get("code"))
		assert.Equal(t, r.Verifier, sso.TokenForm().Get("code_verifier"))
		assert.Equal(t, callbackURL, sso.TokenForm().Get("redirect_uri"))
		_, found, err := st.GetDictEntry(ctx, authservice.VerifierKey)
		require.NoError(t, err)
		assert.False(t, found, "verifier must be read only once")
		id, token, err := s.Credentials()
		require.NoError(t, err)
		assert.EqualValues(t, characterID, id)
		assert.Equal(t, "access-token-1", token)
	})
	t.Run("should complete login with a new service instance after restart", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		q := startLogin(t, newService(sso, st, &fakeIdentity{}))
		s := newService(sso, st, &fakeIdentity{})
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		// then
		require.NoError(t, err)
		assert.Equal(t, app.AuthAuthenticated, ss.State)
	})
	t.Run("should report missing verifier when nothing was persisted", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		s := newService(sso, st, &fakeIdentity{})
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1"})
		// then
		assert.ErrorIs(t, err, app.ErrMissingVerifier)
		assert.Equal(t, app.AuthFailed, ss.State)
		assert.Zero(t, sso.TokenCalls())
	})
	t.Run("should report missing verifier when state does not match", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		s := newService(sso, st, &fakeIdentity{})
		startLogin(t, s)
		// when
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: "other"})
		// then
		assert.ErrorIs(t, err, app.ErrMissingVerifier)
		assert.Zero(t, sso.TokenCalls())
		_, _, err = s.Credentials()
		assert.ErrorIs(t, err, app.ErrNotAuthenticated)
	})
	t.Run("should report missing verifier when record is corrupt", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		require.NoError(t, st.SetDictEntry(ctx, authservice.VerifierKey, []byte("{")))
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1"})
		assert.ErrorIs(t, err, app.ErrMissingVerifier)
	})
	t.Run("should fail when token endpoint rejects code", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		sso.Set(func(f *fakeSSO) { f.tokenStatus = http.StatusBadRequest })
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		// then
		assert.ErrorIs(t, err, app.ErrTokenExchangeFailed)
		assert.Equal(t, app.AuthFailed, ss.State)
		assert.NotEmpty(t, ss.LastError)
		assert.Empty(t, ss.AccessToken)
	})
	t.Run("should allow new login after failure", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		sso.Set(func(f *fakeSSO) { f.tokenStatus = http.StatusBadRequest })
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.ErrorIs(t, err, app.ErrTokenExchangeFailed)
		sso.Set(func(f *fakeSSO) { f.tokenStatus = http.StatusOK })
		// when
		q = startLogin(t, s)
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-2", State: q.Get("state")})
		// then
		require.NoError(t, err)
		assert.Equal(t, app.AuthAuthenticated, ss.State)
	})
	t.Run("should fail when token can not be verified", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		sso.Set(func(f *fakeSSO) { f.verifyFail = true })
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		assert.ErrorIs(t, err, app.ErrTokenExchangeFailed)
		assert.Equal(t, app.AuthFailed, ss.State)
	})
	t.Run("should fail when the SSO server can not be reached", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		sso.srv.Close()
		// when
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		// then
		assert.ErrorIs(t, err, app.ErrTokenExchangeFailed)
	})
	t.Run("should fail when authorization was denied", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		s := newService(sso, st, &fakeIdentity{})
		startLogin(t, s)
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Error: "access_denied", ErrorDescription: "user canceled"})
		// then
		assert.ErrorIs(t, err, app.ErrTokenExchangeFailed)
		assert.Equal(t, app.AuthFailed, ss.State)
		assert.Contains(t, ss.LastError, "access_denied")
		assert.Zero(t, sso.TokenCalls())
	})
	t.Run("should reject callback without code", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{})
		assert.ErrorIs(t, err, app.ErrInvalid)
		assert.Equal(t, app.AuthRedirecting, s.Snapshot().State)
	})
	t.Run("should keep token when profile fetch failed", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		identity := &fakeIdentity{err: errors.New("directory down")}
		s := newService(newFakeSSO(t), st, identity)
		q := startLogin(t, s)
		// when
		ss, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		// then
		assert.ErrorIs(t, err, app.ErrProfileFetchFailed)
		assert.Equal(t, app.AuthAuthenticated, ss.State)
		assert.Equal(t, "access-token-1", ss.AccessToken)
		assert.NotEmpty(t, ss.LastError)
		if assert.NotNil(t, ss.Profile) {
			assert.Equal(t, characterName, ss.Profile.CharacterName)
			assert.Equal(t, "https://images.evetech.net/characters/90000001/portrait?size=512", ss.Profile.PortraitURL)
			assert.Empty(t, ss.Profile.CorporationName)
		}
	})
	t.Run("should ignore second exchange while first is in flight", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		block, started := make(chan struct{}), make(chan struct{})
		sso.Set(func(f *fakeSSO) {
			f.block = block
			f.started = started
		})
		s := newService(sso, st, &fakeIdentity{})
		q := startLogin(t, s)
		cb := authservice.Callback{Code: "code-1", State: q.Get("state")}
		var wg sync.WaitGroup
		var firstErr error
		wg.Go(func() {
			_, firstErr = s.CompleteLogin(ctx, cb)
		})
		<-started
		// when
		_, err := s.CompleteLogin(ctx, cb)
		_, startErr := s.StartLogin(ctx)
		close(block)
		wg.Wait()
		// then
		assert.ErrorIs(t, err, app.ErrExchangeInProgress)
		assert.ErrorIs(t, startErr, app.ErrExchangeInProgress)
		assert.NoError(t, firstErr)
		assert.Equal(t, 1, sso.TokenCalls())
		assert.Equal(t, app.AuthAuthenticated, s.Snapshot().State)
	})
	t.Run("should discard exchange result when logged out while in flight", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		sso := newFakeSSO(t)
		block, started := make(chan struct{}), make(chan struct{})
		sso.Set(func(f *fakeSSO) {
			f.block = block
			f.started = started
		})
		identity := &fakeIdentity{}
		s := newService(sso, st, identity)
		q := startLogin(t, s)
		var wg sync.WaitGroup
		var exchangeErr error
		wg.Go(func() {
			_, exchangeErr = s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		})
		<-started
		// when
		err := s.Logout(ctx)
		close(block)
		wg.Wait()
		// then
		require.NoError(t, err)
		assert.ErrorIs(t, exchangeErr, app.ErrInvalid)
		ss := s.Snapshot()
		assert.Equal(t, app.AuthIdle, ss.State)
		assert.Empty(t, ss.AccessToken)
		assert.Zero(t, ss.CharacterID)
		assert.Nil(t, ss.Profile)
		assert.EqualValues(t, 0, identity.calls.Load())
		_, _, err = s.Credentials()
		assert.ErrorIs(t, err, app.ErrNotAuthenticated)
	})
}

func TestLogout(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should clear session and verifier", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.NoError(t, err)
		startLoginErr := func() error { _, err := s.StartLogin(ctx); return err }
		require.ErrorIs(t, startLoginErr(), app.ErrInvalid)
		// when
		err = s.Logout(ctx)
		// then
		require.NoError(t, err)
		assert.Equal(t, app.AuthSession{}, s.Snapshot())
		_, _, err = s.Credentials()
		assert.ErrorIs(t, err, app.ErrNotAuthenticated)
	})
	t.Run("should clear pending login", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		startLogin(t, s)
		// when
		err := s.Logout(ctx)
		// then
		require.NoError(t, err)
		_, found, err := st.GetDictEntry(ctx, authservice.VerifierKey)
		require.NoError(t, err)
		assert.False(t, found)
		_, err = s.CompleteLogin(ctx, authservice.Callback{Code: "code-1"})
		assert.ErrorIs(t, err, app.ErrMissingVerifier)
	})
	t.Run("should work from idle state", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		assert.NoError(t, s.Logout(ctx))
		assert.Equal(t, app.AuthIdle, s.Snapshot().State)
	})
}

func TestCredentials(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should end expired session", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.NoError(t, err)
		s.Now = func() time.Time {
			return time.Date(2030, 6, 1, 12, 20, 0, 0, time.UTC)
		}
		// when
		_, _, err = s.Credentials()
		// then
		assert.ErrorIs(t, err, app.ErrNotAuthenticated)
		assert.Equal(t, app.AuthIdle, s.Snapshot().State)
	})
}

func TestRefreshProfile(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should recover from failed profile fetch", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		identity := &fakeIdentity{err: errors.New("directory down")}
		s := newService(newFakeSSO(t), st, identity)
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.ErrorIs(t, err, app.ErrProfileFetchFailed)
		identity.err = nil
		// when
		ss, err := s.RefreshProfile(ctx)
		// then
		require.NoError(t, err)
		assert.Empty(t, ss.LastError)
		assert.Equal(t, "Wayne Enterprises", ss.Profile.CorporationName)
		assert.EqualValues(t, 2, identity.calls.Load())
	})
	t.Run("should report error when not authenticated", func(t *testing.T) {
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		_, err := s.RefreshProfile(ctx)
		assert.ErrorIs(t, err, app.ErrNotAuthenticated)
	})
}

func TestSnapshot(t *testing.T) {
	db, st := testutil.NewDBInMemory()
	defer db.Close()
	ctx := context.Background()
	t.Run("should return independent copy", func(t *testing.T) {
		// given
		testutil.MustTruncateTables(db)
		s := newService(newFakeSSO(t), st, &fakeIdentity{})
		q := startLogin(t, s)
		_, err := s.CompleteLogin(ctx, authservice.Callback{Code: "code-1", State: q.Get("state")})
		require.NoError(t, err)
		// when
		ss := s.Snapshot()
		ss.Profile.CorporationName = "changed"
		// then
		assert.Equal(t, "Wayne Enterprises", s.Snapshot().Profile.CorporationName)
	})
}

var _ authservice.Storage = (*storage.Storage)(nil)
