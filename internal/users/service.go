package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates the id/secret pair did not verify.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrInvalidRegistration indicates a registration field failed validation.
	ErrInvalidRegistration = errors.New("users: invalid registration")

	errMissingStore = errors.New("users: store required")

	userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{4,20}$`)
)

const (
	displayNameMinLength = 2
	displayNameMaxLength = 20
	passwordMinLength    = 4
	// bcrypt silently truncates longer inputs.
	passwordMaxLength = 72
)

// ServiceConfig describes the dependencies of the user service.
type ServiceConfig struct {
	Store  *Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service handles registration and credential verification on top of the
// user store.
type Service struct {
	store  *Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, clock: clock, logger: logger}, nil
}

// RegistrationRequest carries the fields required to create a user record.
type RegistrationRequest struct {
	UserID      string
	DisplayName string
	Password    string
}

// Register validates the request, hashes the credential and creates the user
// record. Validation happens fully before any write; a duplicate user id or
// display name fails with ErrConflict and creates nothing.
func (s *Service) Register(ctx context.Context, req RegistrationRequest) (User, error) {
	if err := validateRegistration(req); err != nil {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		UserID:       req.UserID,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
	}
	if err := s.store.Create(ctx, user); err != nil {
		return User{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", user.UserID))
	return user, nil
}

// Authenticate verifies the supplied credential and returns the user record.
// Any failure, including an unknown user id, surfaces as ErrInvalidCredentials
// so callers never proceed anonymously.
func (s *Service) Authenticate(ctx context.Context, userID, secret string) (User, error) {
	ok, err := s.store.VerifyCredential(ctx, userID, secret)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	return s.store.FindByID(ctx, userID)
}

// EnsureAdmin creates the configured admin account when it does not exist yet.
// The admin id doubles as the display name.
func (s *Service) EnsureAdmin(ctx context.Context, adminID, adminPassword string) error {
	if strings.TrimSpace(adminID) == "" {
		return nil
	}
	_, err := s.store.FindByID(ctx, adminID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = s.Register(ctx, RegistrationRequest{
		UserID:      adminID,
		DisplayName: adminID,
		Password:    adminPassword,
	})
	if err != nil {
		return err
	}
	s.logger.Info("admin account created", zap.String("user_id", adminID))
	return nil
}

func validateRegistration(req RegistrationRequest) error {
	if !userIDPattern.MatchString(req.UserID) {
		return fmt.Errorf("%w: user id must be 4-20 alphanumeric characters", ErrInvalidRegistration)
	}
	nameLength := len([]rune(req.DisplayName))
	if nameLength < displayNameMinLength || nameLength > displayNameMaxLength {
		return fmt.Errorf("%w: display name must be %d-%d characters", ErrInvalidRegistration, displayNameMinLength, displayNameMaxLength)
	}
	if strings.ContainsAny(req.DisplayName, " \t\n\r") {
		return fmt.Errorf("%w: display name must not contain whitespace", ErrInvalidRegistration)
	}
	if len(req.Password) < passwordMinLength || len(req.Password) > passwordMaxLength {
		return fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidRegistration, passwordMinLength, passwordMaxLength)
	}
	return nil
}
