// Package staff manages tenant staff accounts: creation by an ADMIN,
// login, profile changes and the emailed reset and verification flows.
package staff

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/clock"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/internal/platform/notification"
	"github.com/ehr/medbridge/pkg/apperror"
)

// Mailer delivers a message without blocking the caller.
type Mailer interface {
	Send(ctx context.Context, addr, subject, body string)
}

// TokenSigner issues session tokens.
type TokenSigner interface {
	Issue(p auth.Principal) (string, time.Time, error)
}

// TenantNamer looks up a tenant's display name for outbound mail.
type TenantNamer interface {
	TenantName(ctx context.Context, tenantID uuid.UUID) (string, error)
}

type Service struct {
	users       Repository
	tokens      TokenRepository
	tx          db.TxRunner
	hasher      auth.PasswordHasher
	signer      TokenSigner
	mailer      Mailer
	templates   *notification.TemplateEngine
	tenants     TenantNamer
	clock       clock.Clock
	frontendURL string
	logger      zerolog.Logger
}

// Deps groups the collaborators of Service.
type Deps struct {
	Users       Repository
	Tokens      TokenRepository
	Tx          db.TxRunner
	Hasher      auth.PasswordHasher
	Signer      TokenSigner
	Mailer      Mailer
	Templates   *notification.TemplateEngine
	Tenants     TenantNamer
	Clock       clock.Clock
	FrontendURL string
	Logger      zerolog.Logger
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Templates == nil {
		d.Templates = notification.NewTemplateEngine()
	}
	return &Service{
		users:       d.Users,
		tokens:      d.Tokens,
		tx:          d.Tx,
		hasher:      d.Hasher,
		signer:      d.Signer,
		mailer:      d.Mailer,
		templates:   d.Templates,
		tenants:     d.Tenants,
		clock:       d.Clock,
		frontendURL: strings.TrimRight(d.FrontendURL, "/"),
		logger:      d.Logger,
	}
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// -- Accounts --

// CreateStaff adds a non-admin user to the admin's tenant and mails a
// verification link.
func (s *Service) CreateStaff(ctx context.Context, admin auth.Principal, in CreateStaffInput) (*User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apperror.Validation("full name is required")
	}
	if !validEmail(in.Email) {
		return nil, apperror.Validation("a valid email is required")
	}
	if !auth.ValidRole(in.Role) || in.Role == auth.RoleAdmin {
		return nil, apperror.Validation("role must be one of DOCTOR, NURSE, RECEPTIONIST, PHARMACIST")
	}

	exists, err := s.users.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, apperror.Validation("%s", err.Error())
		}
		return nil, err
	}

	u := &User{
		TenantID:       admin.TenantID,
		FullName:       strings.TrimSpace(in.FullName),
		Email:          in.Email,
		PasswordHash:   hash,
		Role:           in.Role,
		Department:     in.Department,
		Specialization: in.Specialization,
		Shift:          in.Shift,
		Phone:          in.Phone,
		Status:         StatusActive,
	}

	var secret string
	err = s.tx.RunInTx(ctx, "staff.create", func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		secret, err = s.issueToken(ctx, u.ID, PurposeVerify, VerifyTokenTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.sendWelcome(ctx, u)
	s.send(ctx, u.Email, notification.TemplateEmailVerification, map[string]string{
		"name":        u.FullName,
		"verify_link": s.frontendURL + "/verify-email?token=" + secret,
	})
	return u, nil
}

func (s *Service) sendWelcome(ctx context.Context, u *User) {
	hospital := "MedBridge"
	if s.tenants != nil {
		if name, err := s.tenants.TenantName(ctx, u.TenantID); err == nil {
			hospital = name
		}
	}
	s.send(ctx, u.Email, notification.TemplateStaffWelcome, map[string]string{
		"name":     u.FullName,
		"role":     u.Role,
		"hospital": hospital,
	})
}

func (s *Service) ListStaff(ctx context.Context, tenantID uuid.UUID, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, apperror.Validation("unknown role %q", role)
	}
	return s.users.ListByTenant(ctx, tenantID, role, limit, offset)
}

// SetStatus activates or deactivates a user of the admin's tenant.
func (s *Service) SetStatus(ctx context.Context, admin auth.Principal, userID uuid.UUID, status string) error {
	if status != StatusActive && status != StatusInactive {
		return apperror.Validation("status must be ACTIVE or INACTIVE")
	}
	if userID == admin.UserID && status == StatusInactive {
		return ErrSelfDeactivation
	}
	return s.users.UpdateStatus(ctx, admin.TenantID, userID, status)
}

func (s *Service) CountActive(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.users.CountActive(ctx, tenantID)
}

// -- Profile --

func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileUpdate) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.FullName != nil {
		if strings.TrimSpace(*in.FullName) == "" {
			return nil, apperror.Validation("full name cannot be empty")
		}
		u.FullName = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		u.Phone = *in.Phone
	}
	if in.Specialization != nil {
		u.Specialization = *in.Specialization
	}
	if in.Shift != nil {
		u.Shift = *in.Shift
	}
	if err := s.users.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(u.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return apperror.Validation("%s", err.Error())
		}
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// -- Authentication --

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Status != StatusActive {
		return nil, ErrAccountInactive
	}

	token, exp, err := s.signer.Issue(auth.Principal{
		UserID:     u.ID,
		TenantID:   u.TenantID,
		Role:       u.Role,
		Department: u.Department,
	})
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// ForgotPassword mails a reset link when the address belongs to a user.
// Unknown addresses succeed silently so accounts cannot be enumerated.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			s.logger.Debug().Msg("password reset requested for unknown email")
			return nil
		}
		return err
	}

	secret, err := s.issueToken(ctx, u.ID, PurposeReset, ResetTokenTTL)
	if err != nil {
		return err
	}
	s.send(ctx, u.Email, notification.TemplatePasswordReset, map[string]string{
		"reset_link": s.frontendURL + "/reset-password?token=" + secret,
	})
	return nil
}

// ResetPassword consumes a reset token and sets the new password in one
// transaction.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if token == "" {
		return ErrInvalidToken
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return apperror.Validation("%s", err.Error())
		}
		return err
	}
	return s.tx.RunInTx(ctx, "staff.reset_password", func(ctx context.Context) error {
		userID, err := s.tokens.Consume(ctx, auth.HashSecret(token), PurposeReset, s.clock.Now())
		if err != nil {
			return err
		}
		return s.users.UpdatePassword(ctx, userID, hash)
	})
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	return s.tx.RunInTx(ctx, "staff.verify_email", func(ctx context.Context) error {
		userID, err := s.tokens.Consume(ctx, auth.HashSecret(token), PurposeVerify, s.clock.Now())
		if err != nil {
			return err
		}
		return s.users.MarkEmailVerified(ctx, userID)
	})
}

func (s *Service) issueToken(ctx context.Context, userID uuid.UUID, purpose string, ttl time.Duration) (string, error) {
	secret, err := auth.GenerateSecret()
	if err != nil {
		return "", err
	}
	err = s.tokens.Insert(ctx, &UserToken{
		Hash:      auth.HashSecret(secret),
		Purpose:   purpose,
		UserID:    userID,
		ExpiresAt: s.clock.Now().Add(ttl),
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Service) send(ctx context.Context, addr, templateID string, data map[string]string) {
	if s.mailer == nil {
		return
	}
	subject, body, err := s.templates.Render(templateID, data)
	if err != nil {
		s.logger.Error().Err(err).Str("template", templateID).Msg("render notification")
		return
	}
	s.mailer.Send(ctx, addr, subject, body)
}
