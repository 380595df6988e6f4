package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/google/uuid"
)

const apiKeyPrefix = "cpd_"

// UUIDGenerator generates unique identifiers
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

type AuthService struct {
	userRepo UserRepository
	keyRepo  APIKeyRepository
	uuidGen  UUIDGenerator
}

func NewAuthService(userRepo UserRepository, keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		keyRepo:  keyRepo,
		uuidGen:  uuidGen,
	}
}

func (s *AuthService) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "user name is required")
	}

	user := &domain.User{
		ID:        s.uuidGen.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	if err := domain.ValidateUser(user); err != nil {
		return nil, err
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// CreateAPIKey mints a new API key for a user and returns the token once.
// Only the hash is persisted.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID, name string) (string, error) {
	if userID == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}
	if name == "" {
		return "", domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}

	_, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	key := &domain.APIKey{
		ID:        s.uuidGen.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   hashToken(token),
		CreatedAt: time.Now().UTC(),
		RevokedAt: nil,
	}

	if err := domain.ValidateAPIKey(key); err != nil {
		return "", err
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return "", err
	}

	return token, nil
}

// ValidateAPIKey resolves a bearer token to the owning user ID.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if err == domain.ErrAPIKeyNotFound {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}

	return key.UserID, nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}

	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	if userID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}

	return s.keyRepo.GetByUserID(ctx, userID)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
