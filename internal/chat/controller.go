// Package chat runs one persona conversation: optimistic rendering of the
// user's message, persistence, completion and merging of the stored history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"persona-chat/internal/domain"
	"persona-chat/internal/persona"
)

const (
	alertSignIn = "Please sign in to chat"
	alertEmpty  = "Please enter a message"
)

type IdentitySource interface {
	CurrentIdentity() *domain.Identity
}

// MessageStore is the append-only message collection scoped to one owner.
// Subscribe delivers the owner's existing messages in ascending timestamp
// order before it returns, then every later addition.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg domain.Message) (string, error)
	SubscribeMessages(ctx context.Context, ownerID string, fn func(domain.Message)) (unsubscribe func(), err error)
}

type Completer interface {
	Complete(ctx context.Context, w domain.Window) (string, error)
}

// View receives render events. Implementations must be safe for use from
// store subscription goroutines.
type View interface {
	RenderMessage(m domain.Message)
	// SetBusy disables (true) or enables (false) the input and send controls.
	SetBusy(busy bool)
	ClearInput()
	Alert(msg string)
}

type Controller struct {
	session IdentitySource
	store   MessageStore
	llm     Completer
	view    View
	persona persona.Persona
	log     zerolog.Logger
	window  int
	now     func() time.Time

	mu          sync.Mutex
	history     history
	unsubscribe func()
}

type Option func(*Controller)

// WithWindowSize overrides the number of history entries sent per completion.
func WithWindowSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.window = n
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithClock overrides the time source used to stamp local messages.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func NewController(s IdentitySource, store MessageStore, llm Completer, v View, p persona.Persona, opts ...Option) (*Controller, error) {
	if s == nil {
		return nil, errors.New("chat: identity source must not be nil")
	}
	if store == nil {
		return nil, errors.New("chat: message store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("chat: completer must not be nil")
	}
	if v == nil {
		return nil, errors.New("chat: view must not be nil")
	}
	c := &Controller{
		session: s,
		store:   store,
		llm:     llm,
		view:    v,
		persona: p,
		log:     zerolog.Nop(),
		window:  WindowSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start shows the welcome message and, when signed in, subscribes to the
// identity's stored messages. A failed subscription leaves history empty.
func (c *Controller) Start(ctx context.Context) error {
	welcome := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   c.persona.Welcome,
		Timestamp: c.now(),
	}
	c.view.RenderMessage(welcome)
	c.mu.Lock()
	c.history.append(welcome)
	c.mu.Unlock()

	id := c.session.CurrentIdentity()
	if id == nil {
		return nil
	}
	unsubscribe, err := c.store.SubscribeMessages(ctx, id.ID, c.receive)
	if err != nil {
		c.log.Warn().Err(err).Str("owner", id.ID).Msg("chat: history subscription failed")
		return nil
	}

	c.mu.Lock()
	prev := c.unsubscribe
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Close releases the history subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// History returns a copy of the conversation, oldest first.
func (c *Controller) History() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.snapshot()
}

func (c *Controller) receive(m domain.Message) {
	c.mu.Lock()
	added := c.history.merge(m)
	c.mu.Unlock()
	if added {
		c.view.RenderMessage(m)
	}
}

// SendMessage runs one exchange. Rejections alert the user and return a
// *domain.Error; a failed completion is answered with the persona's
// fallback message and returns nil.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	id := c.session.CurrentIdentity()
	if id == nil {
		c.view.Alert(alertSignIn)
		return domain.NewError(domain.ErrorUnauthenticated, "signed_out", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.view.Alert(alertEmpty)
		return domain.NewError(domain.ErrorInvalidInput, "empty_message", nil)
	}

	c.view.SetBusy(true)
	defer c.view.SetBusy(false)

	userMsg := domain.Message{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: c.now(),
		OwnerID:   id.ID,
	}
	c.view.RenderMessage(userMsg)
	c.mu.Lock()
	c.history.append(userMsg)
	c.mu.Unlock()
	c.view.ClearInput()

	c.persist(ctx, userMsg)

	c.mu.Lock()
	w := buildWindow(c.persona.SystemPrompt, c.history.entries, c.window)
	c.mu.Unlock()

	reply, err := c.complete(ctx, w)
	if err != nil {
		c.log.Error().Err(err).Str("owner", id.ID).Msg("chat: completion failed")
		c.view.RenderMessage(domain.Message{
			Role:      domain.RoleAssistant,
			Content:   c.persona.Fallback,
			Timestamp: c.now(),
		})
		return nil
	}

	assistantMsg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   reply,
		Timestamp: c.now(),
		OwnerID:   id.ID,
	}
	c.view.RenderMessage(assistantMsg)
	c.mu.Lock()
	c.history.append(assistantMsg)
	c.mu.Unlock()
	c.persist(ctx, assistantMsg)
	return nil
}

// complete converts a panic in the completer into an error so the exchange
// still settles.
func (c *Controller) complete(ctx context.Context, w domain.Window) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chat: completer panic: %v", r)
		}
	}()
	return c.llm.Complete(ctx, w)
}

func (c *Controller) persist(ctx context.Context, m domain.Message) {
	if _, err := c.store.AppendMessage(ctx, m); err != nil {
		c.log.Warn().Err(err).Str("owner", m.OwnerID).Str("role", string(m.Role)).Msg("chat: save message failed")
	}
}
