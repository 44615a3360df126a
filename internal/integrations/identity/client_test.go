package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
)

type recordedCall struct {
	path string
	key  string
	body map[string]any
}

func newProviderServer(t *testing.T, status int, resp string, calls *[]recordedCall) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		*calls = append(*calls, recordedCall{path: r.URL.Path, key: r.URL.Query().Get("key"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const accountJSON = `{"localId":"u1","email":"riley@example.com","displayName":"Riley","idToken":"tok","refreshToken":"ref","expiresIn":"3600"}`

func TestNewClient_EmptyKey(t *testing.T) {
	_, err := NewClient(" ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "api key")
}

func TestClient_SignInWithPassword(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusOK, accountJSON, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL+"/v1/"))
	require.NoError(t, err)

	acct, err := c.SignInWithPassword(context.Background(), "riley@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, domain.Identity{ID: "u1", DisplayName: "Riley", Email: "riley@example.com"}, acct.Identity())
	require.Equal(t, "tok", acct.IDToken)

	require.Len(t, calls, 1)
	require.Equal(t, "/v1/accounts:signInWithPassword", calls[0].path)
	require.Equal(t, "web-key", calls[0].key)
	require.Equal(t, "riley@example.com", calls[0].body["email"])
	require.Equal(t, true, calls[0].body["returnSecureToken"])
}

func TestClient_SignUp(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusOK, accountJSON, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.SignUp(context.Background(), "riley@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "/accounts:signUp", calls[0].path)
}

func TestClient_SignInWithIdp(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusOK, accountJSON, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: time.Second}))
	require.NoError(t, err)

	_, err = c.SignInWithIdp(context.Background(), "google.com", "google-id-token")
	require.NoError(t, err)
	require.Equal(t, "/accounts:signInWithIdp", calls[0].path)

	postBody, err := url.ParseQuery(calls[0].body["postBody"].(string))
	require.NoError(t, err)
	require.Equal(t, "google.com", postBody.Get("providerId"))
	require.Equal(t, "google-id-token", postBody.Get("id_token"))
}

func TestClient_ProviderRejectionSurfacesMessage(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusBadRequest, `{"error":{"code":400,"message":"INVALID_LOGIN_CREDENTIALS"}}`, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.SignInWithPassword(context.Background(), "riley@example.com", "wrong")
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, domain.ErrorAuth, de.Code)
	require.Equal(t, "INVALID_LOGIN_CREDENTIALS", de.Reason)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadRequest, statusErr.HTTPStatusCode())
}

func TestClient_RejectionWithoutMessage(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusServiceUnavailable, `oops`, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.SignUp(context.Background(), "riley@example.com", "pw")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, "unexpected status 503", de.Reason)
}

func TestClient_ResponseWithoutAccountID(t *testing.T) {
	var calls []recordedCall
	srv := newProviderServer(t, http.StatusOK, `{}`, &calls)
	c, err := NewClient("web-key", WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = c.SignInWithPassword(context.Background(), "riley@example.com", "pw")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no account id")
}
