package domain

import "time"

// User owns documents and API keys. Every document, chunk, and search is
// scoped to exactly one user.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// APIKey authenticates requests for a user. Only the SHA-256 hash of the
// token is stored.
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

func ValidateUser(u *User) error {
	if u.ID == "" {
		return NewDomainError(ErrCodeValidation, "user ID is required")
	}
	if u.Name == "" {
		return NewDomainError(ErrCodeValidation, "user name is required")
	}
	return nil
}

func ValidateAPIKey(k *APIKey) error {
	if k.ID == "" {
		return NewDomainError(ErrCodeValidation, "API key ID is required")
	}
	if k.UserID == "" {
		return NewDomainError(ErrCodeValidation, "API key user ID is required")
	}
	if k.KeyHash == "" {
		return NewDomainError(ErrCodeValidation, "API key hash is required")
	}
	return nil
}
