package airbyte

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenSource supplies bearer tokens for upstream API calls.
type TokenSource interface {
	// Token returns a valid access token, refreshing it when absent
	// or within the configured margin of expiry.
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token so the next Token call
	// performs a fresh grant. Called when upstream rejects a token.
	Invalidate()
}

type tokenSource struct {
	log       logrus.FieldLogger
	cfg       Config
	http      *http.Client
	now       func() time.Time
	onRefresh func()

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a TokenSource performing the
// client_credentials grant against the Airbyte token endpoint.
// onRefresh, if non-nil, is invoked once per upstream token request.
func NewTokenSource(
	log logrus.FieldLogger,
	cfg Config,
	onRefresh func(),
) TokenSource {
	cfg.ApplyDefaults()

	return &tokenSource{
		log: log.WithField("component", "token_source"),
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		now:       time.Now,
		onRefresh: onRefresh,
	}
}

// Token returns the cached token when it is still more than the expiry
// margin away from expiring. The mutex is held across the refresh
// request so concurrent callers block on the in-flight grant and share
// its result instead of issuing duplicates.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" &&
		t.now().Before(t.expiresAt.Add(-t.cfg.TokenExpiryMargin)) {
		return t.token, nil
	}

	if err := t.refresh(ctx); err != nil {
		return "", err
	}

	return t.token, nil
}

func (t *tokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

// refresh performs the client_credentials grant. Caller holds t.mu.
func (t *tokenSource) refresh(ctx context.Context) error {
	if t.onRefresh != nil {
		t.onRefresh()
	}

	form := url.Values{
		"client_id":     {t.cfg.ClientID},
		"client_secret": {t.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}

	endpoint := t.cfg.BaseURL + "/applications/token"

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("creating token request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return &AuthError{Err: fmt.Errorf("executing token request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &AuthError{
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return &AuthError{Err: fmt.Errorf("decoding token response: %w", err)}
	}

	if grant.AccessToken == "" {
		return &AuthError{Err: fmt.Errorf("token response missing access_token")}
	}

	t.token = grant.AccessToken
	t.expiresAt = t.now().Add(time.Duration(grant.ExpiresIn) * time.Second)

	t.log.WithField("expires_at", t.expiresAt).
		Debug("Fetched new access token")

	return nil
}
