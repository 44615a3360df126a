// Package identity talks to the hosted identity provider: password and
// federated sign-in over its REST API, the per-request auth session, and
// verification of the ID tokens it issues.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"persona-chat/internal/domain"
)

const defaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

// Account is the provider's answer to a successful sign-in or sign-up.
type Account struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (a Account) Identity() domain.Identity {
	return domain.Identity{ID: a.LocalID, DisplayName: a.DisplayName, Email: a.Email}
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the provider's account endpoints with the project's web API key.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = resty.NewWithClient(hc)
		}
	}
}

func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("identity: api key must not be empty")
	}
	c := &Client{
		http:    resty.New().SetTimeout(10 * time.Second),
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetHeader("Content-Type", "application/json")
	return c, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Account, error) {
	return c.post(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

func (c *Client) SignUp(ctx context.Context, email, password string) (Account, error) {
	return c.post(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithIdp exchanges an ID token from a federated provider (for example
// "google.com") for a session with this project.
func (c *Client) SignInWithIdp(ctx context.Context, providerID, providerIDToken string) (Account, error) {
	postBody := url.Values{}
	postBody.Set("id_token", providerIDToken)
	postBody.Set("providerId", providerID)
	return c.post(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	})
}

// post calls one account endpoint. Provider rejections come back as a
// *domain.Error with code AUTH_ERROR carrying the provider's message.
func (c *Client) post(ctx context.Context, endpoint string, body map[string]any) (Account, error) {
	var (
		result Account
		failed apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetBody(body).
		SetResult(&result).
		SetError(&failed).
		Post(c.baseURL + "/" + endpoint)
	if err != nil {
		return Account{}, fmt.Errorf("identity: %s: %w", endpoint, err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(failed.Error.Message)
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode())
		}
		return Account{}, domain.NewError(domain.ErrorAuth, msg, &HTTPStatusError{StatusCode: resp.StatusCode(), Endpoint: endpoint})
	}
	if result.LocalID == "" {
		return Account{}, fmt.Errorf("identity: %s: response has no account id", endpoint)
	}
	return result, nil
}

// HTTPStatusError records the status of a rejected provider call.
type HTTPStatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("identity: unexpected status %d from %s", e.StatusCode, e.Endpoint)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}
