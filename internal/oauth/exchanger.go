// Package oauth exchanges signed JWT assertions for short-lived access
// tokens at the service account's token endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GrantType is the fixed OAuth2 grant used for service-account exchanges.
const GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Token is an opaque bearer credential with an absolute expiry. Immutable
// once constructed; superseded wholesale on refresh.
type Token struct {
	AccessToken string
	Expiry      time.Time
}

// ExchangeError reports a failed token exchange. Status and Body are set
// when the endpoint answered; Err is set for transport-level failures.
type ExchangeError struct {
	Status int
	Body   string
	Err    error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("token exchange: status=%d body=%s", e.Status, e.Body)
	}
	return fmt.Sprintf("token exchange: status=%d", e.Status)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Exchanger performs the OAuth token exchange.
type Exchanger interface {
	Exchange(ctx context.Context, assertion string) (Token, error)
}

// HTTPExchanger is the default HTTP implementation.
type HTTPExchanger struct {
	httpClient *http.Client
	tokenURL   string
}

// NewHTTPExchanger constructs an exchanger for the given token endpoint.
func NewHTTPExchanger(client *http.Client, tokenURL string) *HTTPExchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPExchanger{httpClient: client, tokenURL: tokenURL}
}

// Exchange posts the assertion and returns the granted token. The expiry is
// computed from the request time, so the granted lifetime is never optimistic
// about time spent on the wire.
func (c *HTTPExchanger) Exchange(ctx context.Context, assertion string) (Token, error) {
	data := url.Values{}
	data.Set("grant_type", GrantType)
	data.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	requestedAt := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
		return Token{}, &ExchangeError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, &ExchangeError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 300 {
		return Token{}, &ExchangeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return Token{}, &ExchangeError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if grant.AccessToken == "" || grant.ExpiresIn == 0 {
		return Token{}, &ExchangeError{Status: resp.StatusCode, Err: fmt.Errorf("response missing access_token or expires_in")}
	}

	return Token{
		AccessToken: grant.AccessToken,
		Expiry:      requestedAt.Add(time.Duration(grant.ExpiresIn) * time.Second),
	}, nil
}
