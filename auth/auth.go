// Package auth obtains an authenticated HTTP client for the YouTube Data API
// using Google's OAuth 2.0 installed-app flow, with the token cached on disk.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrClientSecretsMissing is returned when the OAuth client secrets file does
// not exist.
var ErrClientSecretsMissing = errors.New("auth: client secrets file not found")

// Config describes where credentials live.
type Config struct {
	// ClientSecretsFile is the OAuth client JSON downloaded from Google Cloud Console.
	ClientSecretsFile string
	// TokenFile caches the user's token between runs.
	TokenFile string
	// Scopes requested during consent.
	Scopes []string
}

// Authenticator loads, refreshes and obtains OAuth tokens.
type Authenticator struct {
	oauth     *oauth2.Config
	tokenFile string
	logger    *slog.Logger

	// Notify is called with the consent URL during Login. The default prints
	// it to stderr.
	Notify func(authURL string)
	// LoginTimeout bounds how long Login waits for the consent redirect.
	LoginTimeout time.Duration
}

// New reads the client secrets file. A missing file yields an error wrapping
// ErrClientSecretsMissing.
func New(cfg Config, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(cfg.ClientSecretsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s (download OAuth 2.0 credentials from Google Cloud Console)", ErrClientSecretsMissing, cfg.ClientSecretsFile)
		}
		return nil, fmt.Errorf("read client secrets: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(data, cfg.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	return &Authenticator{
		oauth:     oauthCfg,
		tokenFile: cfg.TokenFile,
		logger:    logger.With("component", "auth"),
		Notify: func(authURL string) {
			fmt.Fprintf(os.Stderr, "Open this URL in your browser to authorize autochatter:\n\n  %s\n\n", authURL)
		},
		LoginTimeout: 5 * time.Minute,
	}, nil
}

// Client returns an HTTP client that authorizes every request. The cached
// token is used when valid, refreshed when expired, and replaced by a fresh
// consent flow when missing or unrefreshable. Tokens obtained later by
// automatic refresh are written back to the token file.
//
// Requests (including token refreshes) go through the *http.Client stored
// in ctx under oauth2.HTTPClient, if any.
func (a *Authenticator) Client(ctx context.Context) (*http.Client, error) {
	tok, err := a.Token(ctx)
	if err != nil {
		return nil, err
	}
	ts := &persistingTokenSource{
		base:   a.oauth.TokenSource(ctx, tok),
		path:   a.tokenFile,
		last:   tok.AccessToken,
		logger: a.logger,
	}
	a.logger.Info("youtube API client authorized")
	return oauth2.NewClient(ctx, ts), nil
}

// Token returns a usable token, running the consent flow if needed.
func (a *Authenticator) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := LoadToken(a.tokenFile)
	switch {
	case err == nil:
		a.logger.Info("loaded credentials from token file", "path", a.tokenFile)
	case errors.Is(err, os.ErrNotExist):
		a.logger.Info("no cached credentials", "path", a.tokenFile)
	default:
		a.logger.Error("error loading credentials", "path", a.tokenFile, "error", err)
	}

	if tok != nil && !tok.Valid() {
		if tok.RefreshToken == "" {
			tok = nil
		} else {
			refreshed, err := a.oauth.TokenSource(ctx, tok).Token()
			if err != nil {
				a.logger.Error("error refreshing credentials", "error", err)
				tok = nil
			} else {
				a.logger.Info("refreshed expired credentials")
				tok = refreshed
				a.save(tok)
			}
		}
	}

	if tok == nil {
		tok, err = a.Login(ctx)
		if err != nil {
			return nil, err
		}
	}
	return tok, nil
}

// Login runs the installed-app consent flow: it listens on a loopback port,
// hands the consent URL to Notify, waits for Google's redirect and exchanges
// the code (with PKCE) for a token, which is saved to the token file.
func (a *Authenticator) Login(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}

	cfg := *a.oauth
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			// Browsers also ask for /favicon.ico and the like.
			if r.URL.Path != "/" || !q.Has("state") {
				http.NotFound(w, r)
				return
			}
			var res result
			switch {
			case q.Get("state") != state:
				res.err = errors.New("auth: state mismatch in OAuth callback")
			case q.Get("error") != "":
				res.err = fmt.Errorf("auth: consent denied: %s", q.Get("error"))
			case q.Get("code") == "":
				res.err = errors.New("auth: OAuth callback without code")
			default:
				res.code = q.Get("code")
			}
			if res.err != nil {
				http.Error(w, res.err.Error(), http.StatusBadRequest)
			} else {
				io.WriteString(w, "Authorization complete. You can close this window.\n")
			}
			select {
			case results <- res:
			default:
			}
		}),
	}
	go srv.Serve(ln)
	defer srv.Close()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
	a.logger.Info("waiting for OAuth consent", "redirect_url", cfg.RedirectURL)
	if a.Notify != nil {
		a.Notify(authURL)
	}

	timeout := a.LoginTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res result
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("auth: waiting for consent: %w", waitCtx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("auth: exchange code: %w", err)
	}
	a.logger.Info("completed OAuth authentication flow")
	a.save(tok)
	return tok, nil
}

func (a *Authenticator) save(tok *oauth2.Token) {
	if err := SaveToken(a.tokenFile, tok); err != nil {
		a.logger.Error("error saving credentials", "path", a.tokenFile, "error", err)
		return
	}
	a.logger.Info("saved credentials to token file", "path", a.tokenFile)
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return &tok, nil
}

// SaveToken writes tok to path, readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// persistingTokenSource saves every newly minted token to disk.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Error("error saving refreshed credentials", "path", s.path, "error", err)
		} else {
			s.logger.Debug("saved refreshed credentials", "path", s.path)
		}
	}
	return tok, nil
}
