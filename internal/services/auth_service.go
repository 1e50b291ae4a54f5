package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoodocs/internal/auth"
	"github.com/yoockh/yoodocs/internal/models"
	pgrepo "github.com/yoockh/yoodocs/internal/repositories/postgres"
	"github.com/yoockh/yoodocs/internal/utils"
)

const resetTokenTTL = 30 * time.Minute

type AuthResult struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// ResetNotifier delivers password reset tokens to their owner.
type ResetNotifier interface {
	SendReset(ctx context.Context, u *models.User, token string) error
}

// LogNotifier writes reset tokens to the log, for environments without mail.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) SendReset(_ context.Context, u *models.User, token string) error {
	n.Logger.WithFields(logrus.Fields{"user_id": u.ID, "reset_token": token}).Info("password reset token issued")
	return nil
}

type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token, newPassword string) (*AuthResult, error)
}

type authService struct {
	users    pgrepo.UserRepository
	tokens   *auth.TokenIssuer
	notifier ResetNotifier
	log      *logrus.Logger
	now      func() time.Time
}

func NewAuthService(users pgrepo.UserRepository, tokens *auth.TokenIssuer, notifier ResetNotifier, log *logrus.Logger) AuthService {
	return &authService{users: users, tokens: tokens, notifier: notifier, log: log, now: time.Now}
}

func normalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *authService) issue(op string, u *models.User) (*AuthResult, error) {
	tok, exp, err := s.tokens.Issue(u.ID, string(u.Role))
	if err != nil {
		return nil, utils.E(utils.CodeConfiguration, op, "failed to issue token", err)
	}
	return &AuthResult{Token: tok, TokenType: "bearer", ExpiresAt: exp, User: u}, nil
}

func (s *authService) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	const op = "AuthService.Register"

	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "a valid email is required", nil)
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to hash password", err)
	}

	now := s.now().UTC()
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, utils.ErrDuplicate) {
			return nil, utils.E(utils.CodeConflict, op, "email already registered", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to create user", err)
	}
	s.log.WithField("user_id", u.ID).Info("user registered")
	return s.issue(op, u)
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	const op = "AuthService.Login"

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "email and password are required", nil)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeUnauthorized, op, "invalid email or password", nil)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load user", err)
	}
	if err := utils.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, utils.E(utils.CodeUnauthorized, op, "invalid email or password", nil)
	}
	return s.issue(op, u)
}

// ForgotPassword never reveals whether the email is registered.
func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	const op = "AuthService.ForgotPassword"

	email = normalizeEmail(email)
	if email == "" {
		return utils.E(utils.CodeInvalidArgument, op, "email is required", nil)
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil
		}
		return utils.E(utils.CodeInternal, op, "failed to load user", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to generate token", err)
	}
	token := hex.EncodeToString(buf)

	now := s.now().UTC()
	if err := s.users.CreateReset(ctx, &models.PasswordReset{
		TokenHash: hashToken(token),
		UserID:    u.ID,
		ExpiresAt: now.Add(resetTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store reset token", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendReset(ctx, u, token); err != nil {
			return utils.E(utils.CodeUnavailable, op, "failed to deliver reset token", err)
		}
	}
	return nil
}

func (s *authService) validReset(ctx context.Context, op, token string) (*models.PasswordReset, error) {
	if token == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "token is required", nil)
	}
	pr, err := s.users.GetReset(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeInvalidArgument, op, "invalid or expired token", nil)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load reset token", err)
	}
	if pr.UsedAt != nil || s.now().After(pr.ExpiresAt) {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid or expired token", nil)
	}
	return pr, nil
}

func (s *authService) VerifyResetToken(ctx context.Context, token string) error {
	_, err := s.validReset(ctx, "AuthService.VerifyResetToken", token)
	return err
}

func (s *authService) ResetPassword(ctx context.Context, token, newPassword string) (*AuthResult, error) {
	const op = "AuthService.ResetPassword"

	if err := utils.ValidatePassword(newPassword); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}
	pr, err := s.validReset(ctx, op, token)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByID(ctx, pr.UserID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "user not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load user", err)
	}

	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to hash password", err)
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to update password", err)
	}
	if err := s.users.MarkResetUsed(ctx, pr.TokenHash, s.now()); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("failed to mark reset token used")
	}
	u.PasswordHash = hash

	s.log.WithField("user_id", u.ID).Info("password reset")
	return s.issue(op, u)
}
