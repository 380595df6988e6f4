package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/corpora-labs/corpusd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockAPIKeyRepository is a mock implementation of APIKeyRepository
type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// fixedUUIDGenerator returns a predetermined sequence of IDs.
type fixedUUIDGenerator struct {
	ids []string
	pos int
}

func (g *fixedUUIDGenerator) NewString() string {
	id := g.ids[g.pos%len(g.ids)]
	g.pos++
	return id
}

func TestAuthService_CreateUser(t *testing.T) {
	userRepo := &MockUserRepository{}
	svc := NewAuthService(userRepo, &MockAPIKeyRepository{}, &fixedUUIDGenerator{ids: []string{"user-id-1"}})

	userRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
		return u.ID == "user-id-1" && u.Name == "alice"
	})).Return(nil)

	user, err := svc.CreateUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-id-1", user.ID)
	assert.Equal(t, "alice", user.Name)
	userRepo.AssertExpectations(t)
}

func TestAuthService_CreateUser_EmptyName(t *testing.T) {
	svc := NewAuthService(&MockUserRepository{}, &MockAPIKeyRepository{}, &DefaultUUIDGenerator{})

	_, err := svc.CreateUser(context.Background(), "")
	assert.Error(t, err)
}

func TestAuthService_CreateAPIKey(t *testing.T) {
	userRepo := &MockUserRepository{}
	keyRepo := &MockAPIKeyRepository{}
	svc := NewAuthService(userRepo, keyRepo, &DefaultUUIDGenerator{})

	userRepo.On("GetByID", mock.Anything, "user-1").Return(&domain.User{ID: "user-1", Name: "alice"}, nil)

	var storedHash string
	keyRepo.On("Create", mock.Anything, mock.MatchedBy(func(k *domain.APIKey) bool {
		storedHash = k.KeyHash
		return k.UserID == "user-1" && k.Name == "ci" && k.RevokedAt == nil
	})).Return(nil)

	token, err := svc.CreateAPIKey(context.Background(), "user-1", "ci")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, "cpd_"))
	assert.True(t, IsValidAPIToken(token))
	assert.Equal(t, hashToken(token), storedHash, "only the hash is persisted")
	assert.NotEqual(t, token, storedHash)
}

func TestAuthService_CreateAPIKey_UnknownUser(t *testing.T) {
	userRepo := &MockUserRepository{}
	svc := NewAuthService(userRepo, &MockAPIKeyRepository{}, &DefaultUUIDGenerator{})

	userRepo.On("GetByID", mock.Anything, "nope").Return(nil, domain.ErrUserNotFound)

	_, err := svc.CreateAPIKey(context.Background(), "nope", "ci")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestAuthService_ValidateAPIKey(t *testing.T) {
	keyRepo := &MockAPIKeyRepository{}
	svc := NewAuthService(&MockUserRepository{}, keyRepo, &DefaultUUIDGenerator{})

	token := "cpd_" + strings.Repeat("ab", 32)
	keyRepo.On("GetByHash", mock.Anything, hashToken(token)).Return(&domain.APIKey{
		ID:     "key-1",
		UserID: "user-1",
	}, nil)

	userID, err := svc.ValidateAPIKey(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAuthService_ValidateAPIKey_BadFormat(t *testing.T) {
	svc := NewAuthService(&MockUserRepository{}, &MockAPIKeyRepository{}, &DefaultUUIDGenerator{})

	for _, token := range []string{
		"",
		"nope",
		"cpd_short",
		"wrong_" + strings.Repeat("ab", 32),
		"cpd_" + strings.Repeat("zz", 32),
	} {
		_, err := svc.ValidateAPIKey(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey, "token %q", token)
	}
}

func TestAuthService_ValidateAPIKey_NotFound(t *testing.T) {
	keyRepo := &MockAPIKeyRepository{}
	svc := NewAuthService(&MockUserRepository{}, keyRepo, &DefaultUUIDGenerator{})

	token := "cpd_" + strings.Repeat("cd", 32)
	keyRepo.On("GetByHash", mock.Anything, mock.Anything).Return(nil, domain.ErrAPIKeyNotFound)

	_, err := svc.ValidateAPIKey(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey, "unknown keys are indistinguishable from malformed ones")
}

func TestAuthService_ValidateAPIKey_Revoked(t *testing.T) {
	keyRepo := &MockAPIKeyRepository{}
	svc := NewAuthService(&MockUserRepository{}, keyRepo, &DefaultUUIDGenerator{})

	revokedAt := time.Now().UTC()
	token := "cpd_" + strings.Repeat("ef", 32)
	keyRepo.On("GetByHash", mock.Anything, mock.Anything).Return(&domain.APIKey{
		ID:        "key-1",
		UserID:    "user-1",
		RevokedAt: &revokedAt,
	}, nil)

	_, err := svc.ValidateAPIKey(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrAPIKeyRevoked)
}

func TestAuthService_RevokeAPIKey(t *testing.T) {
	keyRepo := &MockAPIKeyRepository{}
	svc := NewAuthService(&MockUserRepository{}, keyRepo, &DefaultUUIDGenerator{})

	keyRepo.On("Revoke", mock.Anything, "key-1").Return(nil)
	assert.NoError(t, svc.RevokeAPIKey(context.Background(), "key-1"))

	assert.Error(t, svc.RevokeAPIKey(context.Background(), ""))
}

func TestIsValidAPIToken(t *testing.T) {
	valid := "cpd_" + strings.Repeat("0", 64)
	assert.True(t, IsValidAPIToken(valid))
	assert.True(t, IsValidAPIToken("cpd_"+strings.Repeat("A", 64)))
	assert.False(t, IsValidAPIToken("cpd_"+strings.Repeat("0", 63)))
	assert.False(t, IsValidAPIToken("cpd_"+strings.Repeat("g", 64)))
	assert.False(t, IsValidAPIToken(strings.Repeat("0", 68)))
}
