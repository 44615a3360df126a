package domain

// Identity is an authenticated user as issued by the auth provider.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

// Name returns the display name, falling back to the email.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Email
}
