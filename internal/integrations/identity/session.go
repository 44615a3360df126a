package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"persona-chat/internal/domain"
)

const msgMissingCredentials = "Please fill in both email and password"

// Authenticator is the provider's account API.
type Authenticator interface {
	SignInWithPassword(ctx context.Context, email, password string) (Account, error)
	SignUp(ctx context.Context, email, password string) (Account, error)
	SignInWithIdp(ctx context.Context, providerID, providerIDToken string) (Account, error)
}

// Session is the auth state of one page session. It is the Notifier the
// session holder subscribes to.
type Session struct {
	auth Authenticator

	mu        sync.Mutex
	current   *domain.Identity
	idToken   string
	listeners map[int]func(*domain.Identity)
	nextID    int

	// notifyMu keeps at most one listener callback in flight.
	notifyMu sync.Mutex
}

func NewSession(auth Authenticator) (*Session, error) {
	if auth == nil {
		return nil, errors.New("identity: authenticator must not be nil")
	}
	return &Session{auth: auth, listeners: make(map[int]func(*domain.Identity))}, nil
}

// OnAuthStateChanged registers fn and calls it with the current state before
// returning. fn receives nil on sign-out.
func (s *Session) OnAuthStateChanged(fn func(*domain.Identity)) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := copyIdentity(s.current)
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn signs in with email and password.
func (s *Session) SignIn(ctx context.Context, email, password string) (domain.Identity, error) {
	acct, err := s.auth.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return domain.Identity{}, err
	}
	return s.establish(acct), nil
}

// SignUp creates an account and signs it in. Both fields are required.
func (s *Session) SignUp(ctx context.Context, email, password string) (domain.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.Identity{}, domain.NewError(domain.ErrorInvalidInput, msgMissingCredentials, nil)
	}
	acct, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return domain.Identity{}, err
	}
	return s.establish(acct), nil
}

// SignInWithProvider signs in with an ID token issued by a federated provider.
func (s *Session) SignInWithProvider(ctx context.Context, providerID, providerIDToken string) (domain.Identity, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" || strings.TrimSpace(providerIDToken) == "" {
		return domain.Identity{}, domain.NewError(domain.ErrorInvalidInput, "missing_provider_credentials", nil)
	}
	acct, err := s.auth.SignInWithIdp(ctx, providerID, providerIDToken)
	if err != nil {
		return domain.Identity{}, err
	}
	return s.establish(acct), nil
}

// SignOut clears the identity. The provider keeps no server-side session for
// ID tokens, so nothing is called remotely.
func (s *Session) SignOut(context.Context) error {
	s.set(nil, "")
	return nil
}

// Restore resumes a session from an identity recovered from a verified ID
// token.
func (s *Session) Restore(id domain.Identity, idToken string) {
	s.set(&id, idToken)
}

// CurrentIdentity returns a copy of the signed-in identity, or nil.
func (s *Session) CurrentIdentity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

// IDToken returns the provider token for the signed-in identity.
func (s *Session) IDToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idToken
}

func (s *Session) establish(acct Account) domain.Identity {
	id := acct.Identity()
	s.set(&id, acct.IDToken)
	return id
}

func (s *Session) set(id *domain.Identity, idToken string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.current = copyIdentity(id)
	s.idToken = idToken
	fns := make([]func(*domain.Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *domain.Identity) *domain.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
