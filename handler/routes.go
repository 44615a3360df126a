package handler

import (
	"context"
	"strings"

	"persona-chat/internal/chat"
	"persona-chat/internal/comments"
	"persona-chat/internal/domain"
)

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// signUpRequest leaves the both-fields check to the session so the user
// sees its message.
type signUpRequest struct {
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password"`
}

type providerRequest struct {
	ProviderID string `json:"providerId" validate:"required"`
	IDToken    string `json:"idToken" validate:"required"`
}

type textRequest struct {
	Text string `json:"text" validate:"max=4000"`
}

type likeRequest struct {
	// Liked is the state of the like button when it was clicked.
	Liked bool `json:"liked"`
}

func (h *Handler) signIn(ctx context.Context, r *request) (pageResponse, error) {
	var in signInRequest
	if err := h.decode(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	id, err := r.session.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		return pageResponse{}, err
	}
	return h.authResponse(r, id), nil
}

func (h *Handler) signUp(ctx context.Context, r *request) (pageResponse, error) {
	var in signUpRequest
	if err := decodeJSON(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	in.Email = strings.TrimSpace(in.Email)
	if err := h.check(&in); err != nil {
		return pageResponse{}, err
	}
	id, err := r.session.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		return pageResponse{}, err
	}
	return h.authResponse(r, id), nil
}

func (h *Handler) signInWithProvider(ctx context.Context, r *request) (pageResponse, error) {
	var in providerRequest
	if err := h.decode(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	id, err := r.session.SignInWithProvider(ctx, in.ProviderID, in.IDToken)
	if err != nil {
		return pageResponse{}, err
	}
	return h.authResponse(r, id), nil
}

func (h *Handler) signOut(ctx context.Context, r *request) (pageResponse, error) {
	if err := r.session.SignOut(ctx); err != nil {
		return pageResponse{}, domain.NewError(domain.ErrorInternal, "signout_error", err)
	}
	return page(r), nil
}

func (h *Handler) authResponse(r *request, id domain.Identity) pageResponse {
	out := page(r)
	out.IDToken = r.session.IDToken()
	r.log.Info().Str("identity", id.ID).Msg("handler: signed in")
	return out
}

func (h *Handler) newController(ctx context.Context, r *request) (*chat.Controller, error) {
	c, err := chat.NewController(r.holder, h.deps.Messages, h.deps.Completer, r.view, h.persona(ctx, r.log),
		chat.WithWindowSize(h.deps.WindowSize),
		chat.WithLogger(r.log),
	)
	if err != nil {
		return nil, domain.NewError(domain.ErrorInternal, "chat_setup_error", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// loadChat renders the welcome message and the stored conversation.
// Signed-out visitors are sent to the sign-in page.
func (h *Handler) loadChat(ctx context.Context, r *request) (pageResponse, error) {
	if !r.holder.IsAuthenticated() && r.view.RedirectTarget() != "" {
		return pageResponse{}, domain.NewError(domain.ErrorUnauthenticated, "signed_out", nil)
	}
	c, err := h.newController(ctx, r)
	if err != nil {
		return pageResponse{}, err
	}
	defer c.Close()

	out := page(r)
	out.Messages = messageViews(r.view.Messages())
	return out, nil
}

// sendMessage loads the conversation so the completion sees its history,
// then runs one exchange.
func (h *Handler) sendMessage(ctx context.Context, r *request) (pageResponse, error) {
	var in textRequest
	if err := h.decode(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	c, err := h.newController(ctx, r)
	if err != nil {
		return pageResponse{}, err
	}
	defer c.Close()

	if err := c.SendMessage(ctx, in.Text); err != nil {
		return pageResponse{}, err
	}
	out := page(r)
	out.Messages = messageViews(r.view.Messages())
	return out, nil
}

func (h *Handler) newPanel(r *request) (*comments.Panel, error) {
	p, err := comments.NewPanel(r.holder, h.deps.Comments, r.view,
		comments.WithAtomicLikes(h.deps.AtomicLikes),
		comments.WithLogger(r.log),
	)
	if err != nil {
		return nil, domain.NewError(domain.ErrorInternal, "comments_setup_error", err)
	}
	return p, nil
}

// renderComments loads the current list into the view and releases the
// subscription once the snapshot is in.
func (h *Handler) renderComments(ctx context.Context, r *request, p *comments.Panel) (pageResponse, error) {
	if err := p.LoadComments(ctx); err != nil {
		return pageResponse{}, err
	}
	p.Close()

	out := page(r)
	out.Comments = commentViews(r.view.Comments())
	return out, nil
}

func (h *Handler) loadComments(ctx context.Context, r *request) (pageResponse, error) {
	p, err := h.newPanel(r)
	if err != nil {
		return pageResponse{}, err
	}
	return h.renderComments(ctx, r, p)
}

func (h *Handler) submitComment(ctx context.Context, r *request) (pageResponse, error) {
	var in textRequest
	if err := h.decode(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	p, err := h.newPanel(r)
	if err != nil {
		return pageResponse{}, err
	}
	if err := p.SubmitComment(ctx, in.Text); err != nil {
		return pageResponse{}, err
	}
	return h.renderComments(ctx, r, p)
}

func (h *Handler) toggleLike(ctx context.Context, r *request, commentID string) (pageResponse, error) {
	var in likeRequest
	if err := h.decode(r.body, &in); err != nil {
		return pageResponse{}, err
	}
	p, err := h.newPanel(r)
	if err != nil {
		return pageResponse{}, err
	}
	r.view.SetLiked(commentID, in.Liked)
	if err := p.ToggleLike(ctx, commentID); err != nil {
		return pageResponse{}, err
	}
	return h.renderComments(ctx, r, p)
}
