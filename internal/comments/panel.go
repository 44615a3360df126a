// Package comments drives the community comment list: rendering, posting
// and like toggling.
package comments

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"persona-chat/internal/domain"
)

const (
	alertSignInPost = "Please sign in to post comments"
	alertSignInLike = "Please sign in to like comments"
	alertEmpty      = "Please enter a comment"
)

type IdentitySource interface {
	CurrentIdentity() *domain.Identity
}

// Store is the comment collection. SubscribeComments delivers the full
// collection, newest first, before it returns and again after every change.
type Store interface {
	AppendComment(ctx context.Context, c domain.Comment) (string, error)
	SubscribeComments(ctx context.Context, fn func([]domain.Comment)) (unsubscribe func(), err error)
	ReadComment(ctx context.Context, id string) (domain.Comment, bool, error)
	UpdateLikes(ctx context.Context, id string, u domain.LikeUpdate) error
	ToggleLikeAtomic(ctx context.Context, id, identityID string, like bool) error
}

type View interface {
	// RenderComments replaces the whole rendered list.
	RenderComments(items []domain.RenderedComment)
	SetSubmitting(submitting bool)
	ClearCommentInput()
	Alert(msg string)
	// LikedState reports whether the rendered like button for commentID is
	// in the liked state.
	LikedState(commentID string) bool
}

type Panel struct {
	session IdentitySource
	store   Store
	view    View
	log     zerolog.Logger
	atomic  bool

	mu          sync.Mutex
	unsubscribe func()
}

type Option func(*Panel)

// WithAtomicLikes switches ToggleLike from read-modify-write to a single
// conditional update that keeps the count equal to the set size under
// concurrent toggles.
func WithAtomicLikes(enabled bool) Option {
	return func(p *Panel) {
		p.atomic = enabled
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Panel) {
		p.log = log
	}
}

func NewPanel(s IdentitySource, store Store, v View, opts ...Option) (*Panel, error) {
	if s == nil {
		return nil, errors.New("comments: identity source must not be nil")
	}
	if store == nil {
		return nil, errors.New("comments: store must not be nil")
	}
	if v == nil {
		return nil, errors.New("comments: view must not be nil")
	}
	p := &Panel{session: s, store: store, view: v, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadComments subscribes to the collection and re-renders the full list on
// every snapshot.
func (p *Panel) LoadComments(ctx context.Context) error {
	unsubscribe, err := p.store.SubscribeComments(ctx, p.render)
	if err != nil {
		p.log.Warn().Err(err).Msg("comments: subscription failed")
		return domain.NewError(domain.ErrorInternal, "comments_subscribe_error", err)
	}
	p.mu.Lock()
	prev := p.unsubscribe
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Close releases the subscription.
func (p *Panel) Close() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (p *Panel) render(snapshot []domain.Comment) {
	viewer := ""
	if id := p.session.CurrentIdentity(); id != nil {
		viewer = id.ID
	}
	items := make([]domain.RenderedComment, 0, len(snapshot))
	for _, c := range snapshot {
		items = append(items, domain.RenderedComment{Comment: c, Liked: c.LikedBy(viewer)})
	}
	p.view.RenderComments(items)
}

// SubmitComment posts text as the current identity. A failed write is
// logged and dropped; the input is cleared either way.
func (p *Panel) SubmitComment(ctx context.Context, text string) error {
	id := p.session.CurrentIdentity()
	if id == nil {
		p.view.Alert(alertSignInPost)
		return domain.NewError(domain.ErrorUnauthenticated, "signed_out", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.view.Alert(alertEmpty)
		return domain.NewError(domain.ErrorInvalidInput, "empty_comment", nil)
	}

	p.view.SetSubmitting(true)
	defer p.view.SetSubmitting(false)

	_, err := p.store.AppendComment(ctx, domain.Comment{
		Text:        text,
		AuthorID:    id.ID,
		AuthorName:  id.Name(),
		AuthorEmail: id.Email,
		Likes:       []string{},
		LikeCount:   0,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("author", id.ID).Msg("comments: post failed")
	}
	p.view.ClearCommentInput()
	return nil
}

// ToggleLike flips the current identity's like on commentID, starting from
// the state of the rendered button. Store failures are logged and dropped.
func (p *Panel) ToggleLike(ctx context.Context, commentID string) error {
	id := p.session.CurrentIdentity()
	if id == nil {
		p.view.Alert(alertSignInLike)
		return domain.NewError(domain.ErrorUnauthenticated, "signed_out", nil)
	}
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return domain.NewError(domain.ErrorInvalidInput, "empty_comment_id", nil)
	}
	liked := p.view.LikedState(commentID)

	var err error
	if p.atomic {
		err = p.store.ToggleLikeAtomic(ctx, commentID, id.ID, !liked)
	} else {
		err = p.toggleReadModifyWrite(ctx, commentID, id.ID, liked)
	}
	if err != nil {
		p.log.Warn().Err(err).Str("comment", commentID).Str("identity", id.ID).Msg("comments: like toggle failed")
	}
	return nil
}

// toggleReadModifyWrite reads the count and writes the set change with the
// count derived from that read. Another viewer's toggle landing between the
// read and the write is lost from the count, leaving it out of step with
// the set.
func (p *Panel) toggleReadModifyWrite(ctx context.Context, commentID, identityID string, liked bool) error {
	count := p.likeCount(ctx, commentID)
	if liked {
		return p.store.UpdateLikes(ctx, commentID, domain.LikeUpdate{
			IdentityID: identityID,
			Add:        false,
			Count:      max(0, count-1),
		})
	}
	return p.store.UpdateLikes(ctx, commentID, domain.LikeUpdate{
		IdentityID: identityID,
		Add:        true,
		Count:      count + 1,
	})
}

// likeCount returns the stored count, or 0 when the read fails or the
// comment is absent.
func (p *Panel) likeCount(ctx context.Context, commentID string) int {
	c, ok, err := p.store.ReadComment(ctx, commentID)
	if err != nil {
		p.log.Debug().Err(err).Str("comment", commentID).Msg("comments: like count read failed")
		return 0
	}
	if !ok {
		return 0
	}
	return c.LikeCount
}
