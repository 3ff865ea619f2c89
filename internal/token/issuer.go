package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source supplies bearer tokens to the upstream HTTP client.
type Source interface {
	// Bearer returns the cached token, fetching a fresh one from the issuer
	// if the slot is empty or expired.
	Bearer(ctx context.Context) (*Token, error)
	// Refresh discards the cached token and fetches a fresh one. Concurrent
	// refreshes coalesce onto a single issuer call.
	Refresh(ctx context.Context) (*Token, error)
}

// Issuer fetches tokens from an OAuth client-credentials endpoint and caches
// them in a Cache. It implements Source.
type Issuer struct {
	url          string
	clientID     string
	clientSecret string
	client       *http.Client
	cache        *Cache
	logger       *slog.Logger

	sf singleflight.Group

	// OnRefresh, when set, fires after every successful issuer call.
	OnRefresh func()

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewIssuer creates an Issuer for the given token endpoint. Client credentials
// may be empty when the issuer does not require them.
func NewIssuer(tokenURL, clientID, clientSecret string, client *http.Client, logger *slog.Logger) *Issuer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		url:          tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
		cache:        NewCache(),
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Cache exposes the underlying token slot.
func (i *Issuer) Cache() *Cache { return i.cache }

// Bearer returns the cached token or fetches one when the slot is empty or
// the token has expired.
func (i *Issuer) Bearer(ctx context.Context) (*Token, error) {
	if tok := i.cache.Get(); tok != nil && !tok.Expired(i.nowFunc()) {
		return tok, nil
	}
	return i.fetch(ctx)
}

// Refresh clears the slot and fetches a fresh token. A burst of concurrent
// callers (e.g. several workers seeing 401 at once) shares one issuer call.
func (i *Issuer) Refresh(ctx context.Context) (*Token, error) {
	i.cache.Clear()
	return i.fetch(ctx)
}

func (i *Issuer) fetch(ctx context.Context) (*Token, error) {
	v, err, shared := i.sf.Do("token", func() (any, error) {
		// Another caller may have completed a refresh while we waited.
		if tok := i.cache.Get(); tok != nil && !tok.Expired(i.nowFunc()) {
			return tok, nil
		}
		tok, err := i.request(ctx)
		if err != nil {
			return nil, err
		}
		i.cache.Set(tok)
		if i.OnRefresh != nil {
			i.OnRefresh()
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		i.logger.Debug("token refresh coalesced")
	}
	return v.(*Token), nil
}

// issuerResponse is the wire shape returned by the token endpoint.
type issuerResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (i *Issuer) request(ctx context.Context) (*Token, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	if i.clientID != "" {
		form.Set("client_id", i.clientID)
		form.Set("client_secret", i.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token issuer returned status %d", resp.StatusCode)
	}

	var ir issuerResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if ir.AccessToken == "" {
		return nil, fmt.Errorf("token issuer returned empty access_token")
	}

	tok := &Token{
		AccessToken: ir.AccessToken,
		IDToken:     ir.IDToken,
	}
	if ir.ExpiresIn > 0 {
		tok.ExpiresAt = i.nowFunc().Add(time.Duration(ir.ExpiresIn) * time.Second)
	}
	i.logger.Info("token refreshed", slog.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}
