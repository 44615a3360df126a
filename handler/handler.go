// Package handler serves the widget's page events from API Gateway proxy
// requests. Each request gets its own auth session, session holder, view
// recorder and controller; the recorded view events are the response.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"persona-chat/internal/chat"
	"persona-chat/internal/comments"
	"persona-chat/internal/domain"
	"persona-chat/internal/integrations/identity"
	"persona-chat/internal/persona"
	"persona-chat/internal/render"
	"persona-chat/internal/session"
)

const correlationHeader = "X-Correlation-Id"

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

type PersonaSource interface {
	Load(ctx context.Context) (persona.Persona, error)
}

// Deps are the long-lived collaborators shared by every request.
type Deps struct {
	Auth      identity.Authenticator
	Verifier  TokenVerifier
	Messages  chat.MessageStore
	Comments  comments.Store
	Completer chat.Completer
	Persona   PersonaSource
	Logger    zerolog.Logger

	WindowSize     int
	AtomicLikes    bool
	ProtectedPages []string
	SignInPage     string
	HomePage       string
}

type Handler struct {
	deps     Deps
	validate *validator.Validate
}

func NewHandler(d Deps) (*Handler, error) {
	if d.Auth == nil {
		return nil, errors.New("handler: authenticator must not be nil")
	}
	if d.Verifier == nil {
		return nil, errors.New("handler: token verifier must not be nil")
	}
	if d.Messages == nil {
		return nil, errors.New("handler: message store must not be nil")
	}
	if d.Comments == nil {
		return nil, errors.New("handler: comment store must not be nil")
	}
	if d.Completer == nil {
		return nil, errors.New("handler: completer must not be nil")
	}
	if d.Persona == nil {
		d.Persona = persona.Static(persona.Default())
	}
	if d.WindowSize <= 0 {
		d.WindowSize = chat.WindowSize
	}
	if d.SignInPage == "" {
		d.SignInPage = "signin.html"
	}
	return &Handler{
		deps:     d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// request is the per-request state shared by the route handlers.
type request struct {
	ev      events.APIGatewayProxyRequest
	body    []byte
	log     zerolog.Logger
	session *identity.Session
	holder  *session.Holder
	view    *render.Recorder
}

func (h *Handler) Handle(ctx context.Context, ev events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(ev.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	method := strings.ToUpper(ev.HTTPMethod)
	segments := pathSegments(ev.Path)
	log := h.deps.Logger.With().
		Str("correlation_id", corrID).
		Str("method", method).
		Str("path", ev.Path).
		Logger()

	body, err := requestBody(ev)
	if err != nil {
		return h.respondError(corrID, nil, domain.NewError(domain.ErrorInvalidInput, "invalid_body_encoding", err)), nil
	}

	sess, err := identity.NewSession(h.deps.Auth)
	if err != nil {
		return h.respondError(corrID, nil, domain.NewError(domain.ErrorInternal, "session_error", err)), nil
	}
	if token := bearerToken(headerValue(ev.Headers, "Authorization")); token != "" {
		id, err := h.deps.Verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Msg("handler: ignoring invalid id token")
		} else {
			sess.Restore(id, token)
		}
	}

	view := render.NewRecorder()
	active := h.activePage(ev, segments)
	holder, err := session.NewHolder(sess,
		session.WithRefresh(view.Refresh),
		session.WithGuard(session.Guard{
			ActivePage:     func() string { return active },
			ProtectedPages: h.deps.ProtectedPages,
			SignInPage:     h.deps.SignInPage,
			HomePage:       h.deps.HomePage,
			Redirect:       view.Redirect,
		}),
	)
	if err != nil {
		return h.respondError(corrID, view, domain.NewError(domain.ErrorInternal, "session_error", err)), nil
	}
	defer holder.Close()

	r := &request{ev: ev, body: body, log: log, session: sess, holder: holder, view: view}

	var out pageResponse
	switch {
	case method == http.MethodPost && matches(segments, "auth", "signin"):
		out, err = h.signIn(ctx, r)
	case method == http.MethodPost && matches(segments, "auth", "signup"):
		out, err = h.signUp(ctx, r)
	case method == http.MethodPost && matches(segments, "auth", "provider"):
		out, err = h.signInWithProvider(ctx, r)
	case method == http.MethodPost && matches(segments, "auth", "signout"):
		out, err = h.signOut(ctx, r)
	case method == http.MethodGet && matches(segments, "chat", "messages"):
		out, err = h.loadChat(ctx, r)
	case method == http.MethodPost && matches(segments, "chat", "messages"):
		out, err = h.sendMessage(ctx, r)
	case method == http.MethodGet && matches(segments, "comments"):
		out, err = h.loadComments(ctx, r)
	case method == http.MethodPost && matches(segments, "comments"):
		out, err = h.submitComment(ctx, r)
	case method == http.MethodPost && len(segments) == 3 && segments[0] == "comments" && segments[2] == "like":
		out, err = h.toggleLike(ctx, r, commentID(ev, segments[1]))
	default:
		err = domain.NewError(domain.ErrorNotFound, "route_not_found", nil)
	}
	if err != nil {
		if code := domain.CodeOf(err); code == domain.ErrorInternal || code == domain.ErrorUpstream {
			log.Error().Err(err).Msg("handler: request failed")
		}
		return h.respondError(corrID, view, err), nil
	}
	return respondJSON(http.StatusOK, corrID, out), nil
}

// activePage is the page the request was made from. The page query parameter
// wins; otherwise auth calls come from the sign-in page and other routes from
// their own path.
func (h *Handler) activePage(ev events.APIGatewayProxyRequest, segments []string) string {
	if p := strings.TrimSpace(ev.QueryStringParameters["page"]); p != "" {
		return p
	}
	if len(segments) > 0 && segments[0] == "auth" && !matches(segments, "auth", "signout") {
		return h.deps.SignInPage
	}
	return ev.Path
}

// decode reads an optional JSON body into v and validates it.
func (h *Handler) decode(body []byte, v any) error {
	if err := decodeJSON(body, v); err != nil {
		return err
	}
	return h.check(v)
}

func (h *Handler) check(v any) error {
	if err := h.validate.Struct(v); err != nil {
		return domain.NewError(domain.ErrorInvalidInput, "invalid_request", err)
	}
	return nil
}

func decodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewError(domain.ErrorInvalidInput, "invalid_json", err)
	}
	return nil
}

func (h *Handler) persona(ctx context.Context, log zerolog.Logger) persona.Persona {
	p, err := h.deps.Persona.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("handler: persona load failed, using defaults")
		return persona.Default()
	}
	return p
}

func requestBody(ev events.APIGatewayProxyRequest) ([]byte, error) {
	if !ev.IsBase64Encoded {
		return []byte(ev.Body), nil
	}
	return base64.StdEncoding.DecodeString(ev.Body)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matches(segments []string, want ...string) bool {
	if len(segments) != len(want) {
		return false
	}
	for i := range want {
		if segments[i] != want[i] {
			return false
		}
	}
	return true
}

func commentID(ev events.APIGatewayProxyRequest, raw string) string {
	if id := ev.PathParameters["id"]; id != "" {
		raw = id
	}
	if id, err := url.PathUnescape(raw); err == nil {
		return id
	}
	return raw
}
