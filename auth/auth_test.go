package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tokenServer fakes Google's token endpoint.
type tokenServer struct {
	srv      *httptest.Server
	requests atomic.Int32
	fail     bool
	lastForm url.Values
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)
		_ = r.ParseForm()
		ts.lastForm = r.PostForm
		if ts.fail {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"access-%d","token_type":"Bearer","refresh_token":"refresh-token","expires_in":3600}`, n)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func writeSecrets(t *testing.T, dir, tokenURL string) string {
	t.Helper()
	path := filepath.Join(dir, "client_secret.json")
	body := fmt.Sprintf(`{"installed":{"client_id":"client-id","client_secret":"client-secret","auth_uri":"https://accounts.example.com/auth","token_uri":%q,"redirect_uris":["http://localhost"]}}`, tokenURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestAuthenticator(t *testing.T, ts *tokenServer) (*Authenticator, string) {
	t.Helper()
	dir := t.TempDir()
	secrets := writeSecrets(t, dir, ts.srv.URL+"/token")
	tokenFile := filepath.Join(dir, "token.json")

	a, err := New(Config{ClientSecretsFile: secrets, TokenFile: tokenFile, Scopes: []string{"scope-a"}}, discardLogger())
	require.NoError(t, err)
	a.LoginTimeout = 5 * time.Second
	a.Notify = func(string) { t.Fatal("consent flow should not run") }
	return a, tokenFile
}

// completeConsent plays the browser: it follows the consent URL's redirect
// back to the loopback listener with a code.
func completeConsent(t *testing.T) func(string) {
	return func(authURL string) {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.Equal(t, "offline", q.Get("access_type"))

		resp, err := http.Get(q.Get("redirect_uri") + "?code=the-code&state=" + url.QueryEscape(q.Get("state")))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestNew_MissingSecrets(t *testing.T) {
	_, err := New(Config{ClientSecretsFile: filepath.Join(t.TempDir(), "nope.json")}, discardLogger())
	require.ErrorIs(t, err, ErrClientSecretsMissing)
}

func TestNew_MalformedSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client_secret.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := New(Config{ClientSecretsFile: path}, discardLogger())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClientSecretsMissing)
}

func TestSaveLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "token.json")
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}

	require.NoError(t, SaveToken(path, tok))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Equal(t, "r", got.RefreshToken)
	assert.True(t, got.Expiry.Equal(expiry))
}

func TestToken_CachedValid(t *testing.T) {
	ts := newTokenServer(t)
	a, tokenFile := newTestAuthenticator(t, ts)
	require.NoError(t, SaveToken(tokenFile, &oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)}))

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
	assert.Zero(t, ts.requests.Load())
}

func TestToken_RefreshesExpired(t *testing.T) {
	ts := newTokenServer(t)
	a, tokenFile := newTestAuthenticator(t, ts)
	require.NoError(t, SaveToken(tokenFile, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "refresh_token", ts.lastForm.Get("grant_type"))

	saved, err := LoadToken(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "access-1", saved.AccessToken)
}

func TestToken_ConsentWhenMissing(t *testing.T) {
	ts := newTokenServer(t)
	a, tokenFile := newTestAuthenticator(t, ts)
	a.Notify = completeConsent(t)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "authorization_code", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "the-code", ts.lastForm.Get("code"))
	assert.NotEmpty(t, ts.lastForm.Get("code_verifier"))

	saved, err := LoadToken(tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", saved.RefreshToken)
}

func TestToken_ConsentWhenRefreshFails(t *testing.T) {
	ts := newTokenServer(t)
	a, tokenFile := newTestAuthenticator(t, ts)
	require.NoError(t, SaveToken(tokenFile, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts.fail = true
	a.Notify = func(authURL string) {
		ts.fail = false
		completeConsent(t)(authURL)
	}

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "authorization_code", ts.lastForm.Get("grant_type"))
	assert.NotEqual(t, "stale", tok.AccessToken)
}

func TestLogin_StateMismatch(t *testing.T) {
	ts := newTokenServer(t)
	a, _ := newTestAuthenticator(t, ts)
	a.Notify = func(authURL string) {
		u, _ := url.Parse(authURL)
		resp, err := http.Get(u.Query().Get("redirect_uri") + "?code=x&state=forged")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	_, err := a.Login(context.Background())
	require.ErrorContains(t, err, "state mismatch")
	assert.Zero(t, ts.requests.Load())
}

func TestLogin_IgnoresStrayRequests(t *testing.T) {
	ts := newTokenServer(t)
	a, _ := newTestAuthenticator(t, ts)
	a.Notify = func(authURL string) {
		u, _ := url.Parse(authURL)
		redirect := u.Query().Get("redirect_uri")
		for _, stray := range []string{"favicon.ico", "", "?foo=bar"} {
			resp, err := http.Get(redirect + stray)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, "request %q", stray)
		}
		completeConsent(t)(authURL)
	}

	tok, err := a.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
}

func TestLogin_Timeout(t *testing.T) {
	ts := newTokenServer(t)
	a, _ := newTestAuthenticator(t, ts)
	a.Notify = func(string) {}
	a.LoginTimeout = 50 * time.Millisecond

	_, err := a.Login(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_AuthorizesRequests(t *testing.T) {
	ts := newTokenServer(t)
	a, tokenFile := newTestAuthenticator(t, ts)
	require.NoError(t, SaveToken(tokenFile, &oauth2.Token{
		AccessToken:  "cached",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(time.Hour),
	}))

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer api.Close()

	client, err := a.Client(context.Background())
	require.NoError(t, err)
	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer cached", gotAuth)
	assert.Zero(t, ts.requests.Load())
}

// sequenceSource hands out the given tokens in order, repeating the last.
type sequenceSource struct {
	tokens []*oauth2.Token
	n      int
}

func (s *sequenceSource) Token() (*oauth2.Token, error) {
	tok := s.tokens[min(s.n, len(s.tokens)-1)]
	s.n++
	return tok, nil
}

func TestPersistingTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	src := &persistingTokenSource{
		base: &sequenceSource{tokens: []*oauth2.Token{
			{AccessToken: "first"},
			{AccessToken: "rotated", RefreshToken: "r"},
		}},
		path:   path,
		last:   "first",
		logger: discardLogger(),
	}

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "first", tok.AccessToken)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist, "unchanged token is not rewritten")

	tok, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok.AccessToken)

	saved, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "rotated", saved.AccessToken)
	assert.Equal(t, "r", saved.RefreshToken)
}
