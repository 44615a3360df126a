package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"persona-chat/internal/domain"
)

// DefaultJWKSURL serves the provider's ID token signing keys.
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// Claims are the ID token claims this service reads.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier checks ID tokens issued for one project.
type Verifier struct {
	keyfunc   jwt.Keyfunc
	projectID string
	jwks      *keyfunc.JWKS
}

// NewVerifier fetches the signing keys from jwksURL and refreshes them in the
// background until ctx is done.
func NewVerifier(ctx context.Context, jwksURL, projectID string, log zerolog.Logger) (*Verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		jwksURL = DefaultJWKSURL
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("identity: jwks refresh error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("identity: load jwks: %w", err)
	}
	v, err := NewVerifierWithKeyfunc(jwks.Keyfunc, projectID)
	if err != nil {
		jwks.EndBackground()
		return nil, err
	}
	v.jwks = jwks
	return v, nil
}

func NewVerifierWithKeyfunc(kf jwt.Keyfunc, projectID string) (*Verifier, error) {
	if kf == nil {
		return nil, errors.New("identity: keyfunc must not be nil")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("identity: project id must not be empty")
	}
	return &Verifier{keyfunc: kf, projectID: projectID}, nil
}

// Verify validates signature, issuer, audience and expiry and returns the
// identity the token was issued to.
func (v *Verifier) Verify(tokenString string) (domain.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return domain.Identity{}, domain.NewError(domain.ErrorUnauthenticated, "missing_token", nil)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithIssuer("https://securetoken.google.com/"+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return domain.Identity{}, domain.NewError(domain.ErrorUnauthenticated, "invalid_token", err)
	}
	if claims.Subject == "" {
		return domain.Identity{}, domain.NewError(domain.ErrorUnauthenticated, "invalid_token", errors.New("token has no subject"))
	}
	return domain.Identity{ID: claims.Subject, DisplayName: claims.Name, Email: claims.Email}, nil
}

// Close stops the background key refresh.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
