package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hublink/hublink/internal/config"
	"github.com/hublink/hublink/internal/flow"
	"github.com/hublink/hublink/internal/integrations/hubspot"
	"github.com/hublink/hublink/internal/notify"
	"github.com/hublink/hublink/internal/server"
	"github.com/hublink/hublink/internal/session"
	"github.com/hublink/hublink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler  http.Handler
	sessions *session.Manager
	store    *store.MemoryStore

	tokenStatus atomic.Int32 // response status of the fake token endpoint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{}
	f.tokenStatus.Store(http.StatusOK)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/token":
			w.Header().Set("Content-Type", "application/json")
			status := int(f.tokenStatus.Load())
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":1800}`))
		case "/crm/v3/objects/contacts":
			if r.Header.Get("Authorization") != "Bearer abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"results":[{"id":"1","properties":{"firstname":"Jane","lastname":"Doe"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "localhost",
			Port:         8000,
			AllowOrigins: []string{"http://localhost:3000"},
		},
		HubSpot: config.HubSpotConfig{
			ClientID:     "client-1",
			ClientSecret: "secret-1",
			RedirectURI:  "http://localhost:8000/integrations/hubspot/callback",
			Scopes:       []string{"crm.objects.contacts.read"},
			AuthURL:      upstream.URL + "/oauth/authorize",
			TokenURL:     upstream.URL + "/oauth/v1/token",
			APIBaseURL:   upstream.URL,
		},
		Session: config.SessionConfig{Secret: "test-secret", TTL: time.Hour},
		Flow:    config.FlowConfig{StateTTL: 10 * time.Minute, CredentialTTL: 10 * time.Minute},
	}

	f.store = store.NewMemoryStore(0)
	t.Cleanup(func() { _ = f.store.Close() })

	f.sessions = session.NewManager(cfg.Session.Secret, cfg.Session.TTL)

	srv := server.NewServer(
		cfg,
		hubspot.NewProvider(&cfg.HubSpot),
		flow.NewStateManager(f.store, cfg.Flow.StateTTL),
		flow.NewCredentialVault(f.store, cfg.Flow.CredentialTTL),
		f.sessions,
		notify.NewNotifier(cfg.Flow.CredentialTTL),
	)
	f.handler = srv.Routes()
	return f
}

func (f *fixture) sessionToken(t *testing.T, userID, orgID string) string {
	t.Helper()

	token, err := f.sessions.Issue(flow.Identity{UserID: userID, OrgID: orgID})
	require.NoError(t, err)
	return token
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// authorize runs the authorize endpoint and returns the state value
// embedded in the returned authorization URL.
func (f *fixture) authorize(t *testing.T, sessionToken string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/authorize", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var authURL string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &authURL))

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func (f *fixture) callback(code, state string) *httptest.ResponseRecorder {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/callback?"+q.Encode(), nil)
	return f.do(req)
}

func (f *fixture) fetchCredentials(t *testing.T, sessionToken string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/credentials", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	return f.do(req)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ping":"pong"}`, rec.Body.String())
}

func TestSessionMinting(t *testing.T) {
	f := newFixture(t)

	body := strings.NewReader("user_id=u1&org_id=o1")
	req := httptest.NewRequest(http.MethodPost, "/session", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	identity, err := f.sessions.Verify(resp["token"])
	require.NoError(t, err)
	assert.Equal(t, flow.Identity{UserID: "u1", OrgID: "o1"}, identity)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSessionMintingMissingFields(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader("user_id=u1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeRequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/integrations/hubspot/authorize", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/authorize", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorizeReturnsProviderURL(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/authorize", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var authURL string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &authURL))

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "crm.objects.contacts.read", q.Get("scope"))

	// The embedded state decodes back to the session's identity
	payload, err := flow.DecodeState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, flow.Identity{UserID: "u1", OrgID: "o1"}, payload.Identity())
}

func TestFullFlow(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	state := f.authorize(t, token)

	rec := f.callback("auth-code-1", state)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "window.close()")
	assert.NotContains(t, rec.Body.String(), "abc", "no credential data in the popup response")

	// First fetch returns the stored payload
	rec = f.fetchCredentials(t, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var cred hubspot.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cred))
	assert.Equal(t, "abc", cred.AccessToken)
	assert.Equal(t, int64(1800), cred.ExpiresIn)

	// Second fetch observes nothing
	rec = f.fetchCredentials(t, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestCallbackMissingParams(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.callback("", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback("code-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.callback("", "some-state").Code)
}

func TestCallbackProviderDenied(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	state := f.authorize(t, token)

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/callback?error=access_denied", nil)
	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_exchange_failed")

	// The denial consumed nothing; the original state still validates
	rec = f.callback("auth-code-1", state)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackReplayFails(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	state := f.authorize(t, token)

	require.Equal(t, http.StatusOK, f.callback("auth-code-1", state).Code)

	rec := f.callback("auth-code-2", state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestCallbackUnknownState(t *testing.T) {
	f := newFixture(t)

	forged, err := flow.StatePayload{Token: "tok", UserID: "u9", OrgID: "o9"}.Encode()
	require.NoError(t, err)

	rec := f.callback("auth-code-1", forged)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestCallbackSessionIdentityMismatch(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	state := f.authorize(t, token)

	otherToken := f.sessionToken(t, "u2", "o1")

	q := url.Values{"code": {"auth-code-1"}, "state": {state}}
	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: otherToken})
	rec := f.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	state := f.authorize(t, token)

	f.tokenStatus.Store(http.StatusBadRequest)

	rec := f.callback("used-code", state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_exchange_failed")

	// No credential was stored for the failed exchange
	rec = f.fetchCredentials(t, token)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestStatusBeforeAndAfterCompletion(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"completed":false}`, rec.Body.String())

	state := f.authorize(t, token)
	require.Equal(t, http.StatusOK, f.callback("auth-code-1", state).Code)

	req = httptest.NewRequest(http.MethodGet, "/integrations/hubspot/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"completed":true}`, rec.Body.String())
}

func TestStatusWaitWakesOnCompletion(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	state := f.authorize(t, token)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/status?wait=5s", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		done <- f.do(req)
	}()

	// Give the status request a moment to start waiting
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, http.StatusOK, f.callback("auth-code-1", state).Code)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"completed":true}`, rec.Body.String())
	case <-time.After(5 * time.Second):
		t.Fatal("status request did not return after completion")
	}
}

func TestStatusFreshFlowAfterUnclaimedCredentialExpires(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")
	identity := flow.Identity{UserID: "u1", OrgID: "o1"}

	// First flow completes but the credential is never fetched
	state := f.authorize(t, token)
	require.Equal(t, http.StatusOK, f.callback("auth-code-1", state).Code)

	// The unclaimed credential expires out of the store
	require.NoError(t, f.store.Delete(context.Background(), identity.CredentialKey()))

	// A second flow starts; its status must not report the stale
	// completion from the first attempt
	f.authorize(t, token)

	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/status?wait=100ms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"completed":false}`, rec.Body.String())

	rec = f.fetchCredentials(t, token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
}

func TestStatusWaitTimesOut(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	start := time.Now()
	req := httptest.NewRequest(http.MethodGet, "/integrations/hubspot/status?wait=100ms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"completed":false}`, rec.Body.String())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLoadContacts(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	body := strings.NewReader(url.Values{
		"credentials": {`{"access_token":"abc","token_type":"bearer"}`},
	}.Encode())
	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/load", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []hubspot.IntegrationItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Jane Doe", items[0].Name)
	assert.Equal(t, "HubSpot Contact", items[0].Type)
}

func TestLoadContactsBadCredentials(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	tests := []struct {
		name string
		body string
	}{
		{name: "missing credentials", body: ""},
		{name: "not json", body: "credentials=nope"},
		{name: "missing access token", body: "credentials=" + url.QueryEscape(`{"token_type":"bearer"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/load", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("Authorization", "Bearer "+token)
			rec := f.do(req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLoadContactsUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	token := f.sessionToken(t, "u1", "o1")

	body := strings.NewReader("credentials=" + url.QueryEscape(`{"access_token":"stale"}`))
	req := httptest.NewRequest(http.MethodPost, "/integrations/hubspot/load", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "crm_request_failed")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/integrations/hubspot/authorize", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := f.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardNeverSendsCredentials(t *testing.T) {
	handler := server.CORSWithOrigins([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "http://anywhere.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := f.do(req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
