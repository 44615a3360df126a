package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"persona-chat/internal/domain"
	"persona-chat/internal/render"
)

type messageView struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// commentView leaves Timestamp empty for comments the store has not stamped
// yet; the page shows those as "Just now".
type commentView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AuthorName string `json:"authorName"`
	Timestamp  string `json:"timestamp,omitempty"`
	LikeCount  int    `json:"likeCount"`
	Liked      bool   `json:"liked"`
}

type identityView struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type pageResponse struct {
	SignedIn bool          `json:"signedIn"`
	Greeting string        `json:"greeting,omitempty"`
	Identity *identityView `json:"identity,omitempty"`
	IDToken  string        `json:"idToken,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
	Alerts   []string      `json:"alerts,omitempty"`
	Messages []messageView `json:"messages,omitempty"`
	Comments []commentView `json:"comments,omitempty"`
}

type errorResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message,omitempty"`
	Alerts   []string `json:"alerts,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

// httpStatusCoder is implemented by integration errors that carry the
// upstream HTTP status.
type httpStatusCoder interface {
	HTTPStatusCode() int
}

// page collects the view state recorded while serving r.
func page(r *request) pageResponse {
	out := pageResponse{
		Redirect: r.view.RedirectTarget(),
		Alerts:   r.view.Alerts(),
	}
	if greeting, ok := r.view.Greeting(); ok {
		out.SignedIn = true
		out.Greeting = greeting
	}
	if id := r.holder.CurrentIdentity(); id != nil {
		out.Identity = &identityView{ID: id.ID, Name: id.Name(), Email: id.Email}
	}
	return out
}

func messageViews(msgs []domain.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: formatTime(m.Timestamp),
		})
	}
	return out
}

func commentViews(items []domain.RenderedComment) []commentView {
	out := make([]commentView, 0, len(items))
	for _, c := range items {
		out = append(out, commentView{
			ID:         c.ID,
			Text:       c.Text,
			AuthorName: c.AuthorName,
			Timestamp:  formatTime(c.Timestamp),
			LikeCount:  c.LikeCount,
			Liked:      c.Liked,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func statusFor(err error) int {
	var sc httpStatusCoder
	upstreamStatus := 0
	if errors.As(err, &sc) {
		upstreamStatus = sc.HTTPStatusCode()
	}
	switch domain.CodeOf(err) {
	case domain.ErrorInvalidInput:
		return http.StatusBadRequest
	case domain.ErrorUnauthenticated, domain.ErrorAuth:
		if upstreamStatus == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case domain.ErrorNotFound:
		return http.StatusNotFound
	case domain.ErrorUpstream:
		if upstreamStatus == http.StatusTooManyRequests {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondError(corrID string, view *render.Recorder, err error) events.APIGatewayProxyResponse {
	out := errorResponse{Error: string(domain.CodeOf(err))}
	var de *domain.Error
	if errors.As(err, &de) && de.Code != domain.ErrorInternal {
		out.Message = de.Reason
	}
	if view != nil {
		out.Alerts = view.Alerts()
		out.Redirect = view.RedirectTarget()
	}
	return respondJSON(statusFor(err), corrID, out)
}

func respondJSON(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"` + string(domain.ErrorInternal) + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}
