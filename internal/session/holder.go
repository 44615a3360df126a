// Package session holds the signed-in identity for one page session and
// keeps auth-gated UI state in step with the auth provider.
package session

import (
	"errors"
	"strings"
	"sync"

	"persona-chat/internal/domain"
)

// Notifier is the auth provider's state channel. The callback receives nil
// on sign-out. Implementations deliver the current state on subscribe and
// never run two callbacks at once.
type Notifier interface {
	OnAuthStateChanged(fn func(*domain.Identity)) (unsubscribe func())
}

// Guard describes the protected-route check run after every notification.
type Guard struct {
	// ActivePage returns the path of the page being served.
	ActivePage func() string
	// ProtectedPages are path fragments that require a signed-in identity.
	ProtectedPages []string
	SignInPage     string
	// HomePage, when set, is where a signed-in visitor of SignInPage is sent.
	HomePage string
	Redirect func(target string)
}

type Option func(*Holder)

// WithRefresh registers the UI refresh callback, called on every
// notification with the new identity (nil when signed out).
func WithRefresh(fn func(*domain.Identity)) Option {
	return func(h *Holder) {
		h.refresh = fn
	}
}

func WithGuard(g Guard) Option {
	return func(h *Holder) {
		h.guard = &g
	}
}

// Holder tracks the current identity.
type Holder struct {
	mu      sync.RWMutex
	current *domain.Identity

	refresh     func(*domain.Identity)
	guard       *Guard
	unsubscribe func()
}

// NewHolder subscribes to n. Because notifiers deliver the current state on
// subscribe, the refresh callback and guard run once before NewHolder
// returns.
func NewHolder(n Notifier, opts ...Option) (*Holder, error) {
	if n == nil {
		return nil, errors.New("session: notifier must not be nil")
	}
	h := &Holder{}
	for _, opt := range opts {
		opt(h)
	}
	h.unsubscribe = n.OnAuthStateChanged(h.handle)
	return h, nil
}

// CurrentIdentity returns a copy of the held identity, or nil.
func (h *Holder) CurrentIdentity() *domain.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil
	}
	id := *h.current
	return &id
}

func (h *Holder) IsAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current != nil
}

// Close releases the provider subscription.
func (h *Holder) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

func (h *Holder) handle(id *domain.Identity) {
	var held *domain.Identity
	if id != nil {
		cp := *id
		held = &cp
	}

	h.mu.Lock()
	h.current = held
	h.mu.Unlock()

	if h.refresh != nil {
		h.refresh(h.CurrentIdentity())
	}
	h.checkRoute(held != nil)
}

func (h *Holder) checkRoute(authenticated bool) {
	g := h.guard
	if g == nil || g.ActivePage == nil || g.Redirect == nil {
		return
	}
	page := g.ActivePage()

	if !authenticated && g.SignInPage != "" && g.isProtected(page) {
		g.Redirect(g.SignInPage)
		return
	}
	if authenticated && g.HomePage != "" && g.SignInPage != "" && strings.Contains(page, g.SignInPage) {
		g.Redirect(g.HomePage)
	}
}

func (g *Guard) isProtected(page string) bool {
	for _, p := range g.ProtectedPages {
		if p != "" && strings.Contains(page, p) {
			return true
		}
	}
	return false
}
