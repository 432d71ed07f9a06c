package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/example/hazardscan/internal/auth"
	"github.com/example/hazardscan/internal/repository"
)

// Account errors surfaced to the HTTP layer.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username or email already registered")
)

// UserRepository defines the persistence operations needed for accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
}

// AccountUseCase handles registration and credential verification.
type AccountUseCase struct {
	users       UserRepository
	jwtSecret   string
	jwtAudience string
	tokenTTL    time.Duration
	logger      *zap.Logger
}

// NewAccountUseCase constructs a new account use case.
func NewAccountUseCase(users UserRepository, jwtSecret, jwtAudience string, tokenTTL time.Duration, logger *zap.Logger) *AccountUseCase {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AccountUseCase{
		users:       users,
		jwtSecret:   jwtSecret,
		jwtAudience: jwtAudience,
		tokenTTL:    tokenTTL,
		logger:      logger.Named("account_usecase"),
	}
}

// Register creates an account and returns a signed bearer token for it.
func (uc *AccountUseCase) Register(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || len(password) < 8 {
		return "", ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	user := &repository.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", ErrUserExists
		}
		return "", err
	}

	uc.logger.Info("user registered", zap.String("user_id", user.ID))
	return auth.IssueToken(uc.jwtSecret, uc.jwtAudience, user.ID, uc.tokenTTL)
}

// Login verifies credentials and returns a signed bearer token.
func (uc *AccountUseCase) Login(ctx context.Context, username, password string) (string, error) {
	user, err := uc.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return auth.IssueToken(uc.jwtSecret, uc.jwtAudience, user.ID, uc.tokenTTL)
}
