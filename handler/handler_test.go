package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
	"persona-chat/internal/integrations/identity"
	"persona-chat/internal/persona"
	"persona-chat/internal/repository/memstore"
)

type stubAuth struct {
	acct identity.Account
	err  error
}

func (s *stubAuth) SignInWithPassword(context.Context, string, string) (identity.Account, error) {
	return s.acct, s.err
}

func (s *stubAuth) SignUp(context.Context, string, string) (identity.Account, error) {
	return s.acct, s.err
}

func (s *stubAuth) SignInWithIdp(context.Context, string, string) (identity.Account, error) {
	return s.acct, s.err
}

// stubVerifier accepts the tokens it knows.
type stubVerifier map[string]domain.Identity

func (s stubVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := s[token]
	if !ok {
		return domain.Identity{}, domain.NewError(domain.ErrorUnauthenticated, "invalid_token", nil)
	}
	return id, nil
}

type stubCompleter struct {
	reply   string
	err     error
	windows []domain.Window
}

func (s *stubCompleter) Complete(_ context.Context, w domain.Window) (string, error) {
	s.windows = append(s.windows, w)
	return s.reply, s.err
}

var riley = domain.Identity{ID: "u1", DisplayName: "Riley", Email: "riley@example.com"}

type fixture struct {
	h     *Handler
	store *memstore.Store
	llm   *stubCompleter
	auth  *stubAuth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		llm:   &stubCompleter{reply: "Happy to help!"},
		auth: &stubAuth{acct: identity.Account{
			LocalID: "u1", Email: "riley@example.com", DisplayName: "Riley", IDToken: "fresh-token",
		}},
	}
	h, err := NewHandler(Deps{
		Auth:           f.auth,
		Verifier:       stubVerifier{"good-token": riley},
		Messages:       f.store,
		Comments:       f.store,
		Completer:      f.llm,
		Logger:         zerolog.Nop(),
		ProtectedPages: []string{"/chat"},
		SignInPage:     "signin.html",
		HomePage:       "index.html",
	})
	require.NoError(t, err)
	f.h = h
	return f
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func signedIn(ev events.APIGatewayProxyRequest) events.APIGatewayProxyRequest {
	ev.Headers["Authorization"] = "Bearer good-token"
	return ev
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func (f *fixture) do(t *testing.T, ev events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	t.Helper()
	resp, err := f.h.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	return resp
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	full := Deps{
		Auth:      &stubAuth{},
		Verifier:  stubVerifier{},
		Messages:  memstore.New(),
		Comments:  memstore.New(),
		Completer: &stubCompleter{},
	}
	_, err := NewHandler(full)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Deps){
		"auth":      func(d *Deps) { d.Auth = nil },
		"verifier":  func(d *Deps) { d.Verifier = nil },
		"messages":  func(d *Deps) { d.Messages = nil },
		"comments":  func(d *Deps) { d.Comments = nil },
		"completer": func(d *Deps) { d.Completer = nil },
	} {
		t.Run(name, func(t *testing.T) {
			d := full
			mutate(&d)
			_, err := NewHandler(d)
			require.Error(t, err)
		})
	}
}

func TestHandle_UnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, makeEvent(http.MethodGet, "/ask", ""))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, string(domain.ErrorNotFound), parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ev := makeEvent(http.MethodGet, "/comments", "")
	ev.Headers["x-correlation-id"] = "corr-123"
	resp := f.do(t, ev)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_InvalidBody(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, signedIn(makeEvent(http.MethodPost, "/comments", `not-json`)))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(domain.ErrorInvalidInput), parseBody[errorResponse](t, resp.Body).Error)
}

func TestSignIn_GreetsAndRedirectsHome(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, makeEvent(http.MethodPost, "/auth/signin", `{"email":"riley@example.com","password":"pw"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[pageResponse](t, resp.Body)
	require.True(t, out.SignedIn)
	require.Equal(t, "Welcome, Riley", out.Greeting)
	require.Equal(t, "fresh-token", out.IDToken)
	require.Equal(t, "index.html", out.Redirect)
	require.Equal(t, &identityView{ID: "u1", Name: "Riley", Email: "riley@example.com"}, out.Identity)
}

func TestSignIn_ValidatesBody(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"email":"not-an-email","password":"pw"}`, `{"email":"riley@example.com"}`, ``} {
		resp := f.do(t, makeEvent(http.MethodPost, "/auth/signin", body))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestSignIn_ProviderRejection(t *testing.T) {
	f := newFixture(t)
	f.auth.err = domain.NewError(domain.ErrorAuth, "INVALID_LOGIN_CREDENTIALS", &identity.HTTPStatusError{StatusCode: http.StatusBadRequest})

	resp := f.do(t, makeEvent(http.MethodPost, "/auth/signin", `{"email":"riley@example.com","password":"wrong"}`))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(domain.ErrorAuth), out.Error)
	require.Equal(t, "INVALID_LOGIN_CREDENTIALS", out.Message)
}

func TestSignUp_RequiresBothFields(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, makeEvent(http.MethodPost, "/auth/signup", `{"email":" riley@example.com "}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Please fill in both email and password", parseBody[errorResponse](t, resp.Body).Message)

	resp = f.do(t, makeEvent(http.MethodPost, "/auth/signup", `{"email":"riley@example.com","password":"pw"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignInWithProvider(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, makeEvent(http.MethodPost, "/auth/provider", `{"providerId":"google.com"}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, makeEvent(http.MethodPost, "/auth/provider", `{"providerId":"google.com","idToken":"g-token"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "fresh-token", parseBody[pageResponse](t, resp.Body).IDToken)
}

func TestSignOut_FromProtectedPageRedirectsToSignIn(t *testing.T) {
	f := newFixture(t)
	ev := signedIn(makeEvent(http.MethodPost, "/auth/signout", ""))
	ev.QueryStringParameters = map[string]string{"page": "/chat"}

	resp := f.do(t, ev)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[pageResponse](t, resp.Body)
	require.False(t, out.SignedIn)
	require.Empty(t, out.Greeting)
	require.Equal(t, "signin.html", out.Redirect)
}

func TestLoadChat_SignedOutIsRedirected(t *testing.T) {
	f := newFixture(t)
	for _, ev := range []events.APIGatewayProxyRequest{
		makeEvent(http.MethodGet, "/chat/messages", ""),
		func() events.APIGatewayProxyRequest {
			ev := makeEvent(http.MethodGet, "/chat/messages", "")
			ev.Headers["Authorization"] = "Bearer forged"
			return ev
		}(),
	} {
		resp := f.do(t, ev)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "signin.html", parseBody[errorResponse](t, resp.Body).Redirect)
	}
}

func TestLoadChat_RendersWelcomeAndHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AppendMessage(context.Background(), domain.Message{Role: domain.RoleUser, Content: "earlier question", OwnerID: "u1"})
	require.NoError(t, err)
	_, err = f.store.AppendMessage(context.Background(), domain.Message{Role: domain.RoleUser, Content: "someone else", OwnerID: "u2"})
	require.NoError(t, err)

	resp := f.do(t, signedIn(makeEvent(http.MethodGet, "/chat/messages", "")))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[pageResponse](t, resp.Body)
	require.True(t, out.SignedIn)
	require.Len(t, out.Messages, 2)
	require.Equal(t, persona.Default().Welcome, out.Messages[0].Content)
	require.Equal(t, "earlier question", out.Messages[1].Content)
	require.NotEmpty(t, out.Messages[1].ID)
}

func TestSendMessage_RunsOneExchange(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, signedIn(makeEvent(http.MethodPost, "/chat/messages", `{"text":"  How do I start?  "}`)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[pageResponse](t, resp.Body)
	var got []string
	for _, m := range out.Messages {
		got = append(got, m.Role+":"+m.Content)
	}
	require.Equal(t, []string{
		"assistant:" + persona.Default().Welcome,
		"user:How do I start?",
		"assistant:Happy to help!",
	}, got)

	require.Len(t, f.llm.windows, 1)
	w := f.llm.windows[0]
	require.Equal(t, persona.Default().SystemPrompt, w.System)
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "How do I start?"}, w.Messages[len(w.Messages)-1])

	var stored []domain.Message
	unsubscribe, err := f.store.SubscribeMessages(context.Background(), "u1", func(m domain.Message) { stored = append(stored, m) })
	require.NoError(t, err)
	unsubscribe()
	require.Len(t, stored, 2)
}

func TestSendMessage_CompletionFailureRendersFallback(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("provider down")

	resp := f.do(t, signedIn(makeEvent(http.MethodPost, "/chat/messages", `{"text":"hello"}`)))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := parseBody[pageResponse](t, resp.Body)
	require.Equal(t, persona.Default().Fallback, out.Messages[len(out.Messages)-1].Content)
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, makeEvent(http.MethodPost, "/chat/messages", `{"text":"hello"}`))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, []string{"Please sign in to chat"}, out.Alerts)
	require.Equal(t, "signin.html", out.Redirect)

	resp = f.do(t, signedIn(makeEvent(http.MethodPost, "/chat/messages", `{"text":"   "}`)))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, []string{"Please enter a message"}, parseBody[errorResponse](t, resp.Body).Alerts)

	resp = f.do(t, signedIn(makeEvent(http.MethodPost, "/chat/messages", fmt.Sprintf(`{"text":%q}`, strings.Repeat("a", 4001)))))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, f.llm.windows)
}

func TestComments_PostListAndLike(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, signedIn(makeEvent(http.MethodPost, "/comments", `{"text":"Great tutorial"}`)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := parseBody[pageResponse](t, resp.Body)
	require.Len(t, out.Comments, 1)
	c := out.Comments[0]
	require.Equal(t, "Great tutorial", c.Text)
	require.Equal(t, "Riley", c.AuthorName)
	require.NotEmpty(t, c.Timestamp)
	require.False(t, c.Liked)

	likePath := "/comments/" + c.ID + "/like"
	resp = f.do(t, signedIn(makeEvent(http.MethodPost, likePath, `{"liked":false}`)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = parseBody[pageResponse](t, resp.Body)
	require.Equal(t, 1, out.Comments[0].LikeCount)
	require.True(t, out.Comments[0].Liked)

	resp = f.do(t, makeEvent(http.MethodGet, "/comments", ""))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = parseBody[pageResponse](t, resp.Body)
	require.False(t, out.SignedIn)
	require.Equal(t, 1, out.Comments[0].LikeCount)
	require.False(t, out.Comments[0].Liked, "anonymous viewers never see a liked button")

	resp = f.do(t, signedIn(makeEvent(http.MethodPost, likePath, `{"liked":true}`)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = parseBody[pageResponse](t, resp.Body)
	require.Equal(t, 0, out.Comments[0].LikeCount)
	require.False(t, out.Comments[0].Liked)
}

func TestComments_SignedOutRejections(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, makeEvent(http.MethodPost, "/comments", `{"text":"hi"}`))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, []string{"Please sign in to post comments"}, parseBody[errorResponse](t, resp.Body).Alerts)

	resp = f.do(t, makeEvent(http.MethodPost, "/comments/c1/like", `{"liked":false}`))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, []string{"Please sign in to like comments"}, parseBody[errorResponse](t, resp.Body).Alerts)
}

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid input", domain.NewError(domain.ErrorInvalidInput, "x", nil), http.StatusBadRequest},
		{"unauthenticated", domain.NewError(domain.ErrorUnauthenticated, "x", nil), http.StatusUnauthorized},
		{"auth", domain.NewError(domain.ErrorAuth, "x", statusErr(http.StatusBadRequest)), http.StatusUnauthorized},
		{"auth throttled", domain.NewError(domain.ErrorAuth, "x", statusErr(http.StatusTooManyRequests)), http.StatusTooManyRequests},
		{"not found", domain.NewError(domain.ErrorNotFound, "x", nil), http.StatusNotFound},
		{"upstream", domain.NewError(domain.ErrorUpstream, "x", statusErr(http.StatusInternalServerError)), http.StatusBadGateway},
		{"upstream rate limited", domain.NewError(domain.ErrorUpstream, "x", statusErr(http.StatusTooManyRequests)), http.StatusTooManyRequests},
		{"internal", domain.NewError(domain.ErrorInternal, "x", nil), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.status, statusFor(tc.err))
		})
	}
}

func TestHandle_Base64Body(t *testing.T) {
	f := newFixture(t)
	ev := signedIn(makeEvent(http.MethodPost, "/comments", "eyJ0ZXh0IjoiaGkifQ=="))
	ev.IsBase64Encoded = true
	resp := f.do(t, ev)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", parseBody[pageResponse](t, resp.Body).Comments[0].Text)
}
