package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/mailer"
	"aqi-platform/pkg/metrics"
)

// ProvisioningOutcome reports which token email was queued
type ProvisioningOutcome int

const (
	NewUserCreated ProvisioningOutcome = iota
	ExistingUserNotified
)

// TokenIssuer mints opaque API tokens as HS256-signed JWTs naming the user
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer signing with secret
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue returns a new token for email. A random jti keeps tokens unique even
// when the same email is registered twice.
func (i *TokenIssuer) Issue(email string, issuedAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user": email,
		"jti":  uuid.NewString(),
		"iat":  issuedAt.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// NotificationQueue accepts token emails for background delivery
type NotificationQueue interface {
	Enqueue(ctx context.Context, msg mailer.Message) bool
}

// ProvisioningService registers users and emails them their token
type ProvisioningService struct {
	users    repository.UserRepository
	issuer   *TokenIssuer
	queue    NotificationQueue
	cooldown time.Duration
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewProvisioningService creates a new provisioning service
func NewProvisioningService(users repository.UserRepository, issuer *TokenIssuer, queue NotificationQueue, cooldown time.Duration, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ProvisioningService {
	return &ProvisioningService{
		users:    users,
		issuer:   issuer,
		queue:    queue,
		cooldown: cooldown,
		logger:   logger,
		metrics:  metricsCollector,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestToken emails the token for email, creating the user first when the
// address is new. A repeat request inside the cooldown window fails with
// models.ErrCooldownActive and sends nothing.
func (s *ProvisioningService) RequestToken(ctx context.Context, email string) (ProvisioningOutcome, error) {
	existing, err := s.users.FindByEmail(ctx, email, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to look up email: %w", err)
	}

	switch len(existing) {
	case 0:
		return s.createUser(ctx, email)
	case 1:
		return s.remindUser(ctx, &existing[0])
	default:
		s.logger.Error(ctx, "[PROVISION_DUPLICATE] Email registered more than once", logging.Fields{
			"email": email,
		}, models.ErrDuplicateEmail)
		s.metrics.RecordProvisioning("duplicate")
		return 0, models.ErrDuplicateEmail
	}
}

func (s *ProvisioningService) remindUser(ctx context.Context, user *models.User) (ProvisioningOutcome, error) {
	now := s.now()
	if now.Sub(user.LastEmail) < s.cooldown {
		s.metrics.RecordProvisioning("cooldown")
		return 0, models.ErrCooldownActive
	}

	s.notify(ctx, user.Email, mailer.SubjectRetrieveToken, user.Token)

	if err := s.users.UpdateLastEmail(ctx, user.ID, now); err != nil {
		return 0, fmt.Errorf("failed to update last email: %w", err)
	}

	s.logger.Info(ctx, "[PROVISION_REMINDER] Existing user token resent", logging.Fields{
		"user_id": user.ID,
	})
	s.metrics.RecordProvisioning("reminded")
	return ExistingUserNotified, nil
}

func (s *ProvisioningService) createUser(ctx context.Context, email string) (ProvisioningOutcome, error) {
	now := s.now()

	token, err := s.issuer.Issue(email, now)
	if err != nil {
		return 0, err
	}

	user := &models.User{
		Email:      email,
		Token:      token,
		DateJoined: now,
		Permission: models.PermissionRead,
		LastEmail:  now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrEmailTaken) {
			return s.remindWinner(ctx, email)
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}

	s.notify(ctx, email, mailer.SubjectNewToken, token)

	s.logger.Info(ctx, "[PROVISION_NEW] User created", logging.Fields{
		"user_id": user.ID,
	})
	s.metrics.RecordProvisioning("created")
	return NewUserCreated, nil
}

// remindWinner handles losing a registration race: another request created
// the user between lookup and insert, so the existing-user path applies.
func (s *ProvisioningService) remindWinner(ctx context.Context, email string) (ProvisioningOutcome, error) {
	existing, err := s.users.FindByEmail(ctx, email, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to look up email: %w", err)
	}
	if len(existing) != 1 {
		return 0, fmt.Errorf("email %s conflicted on insert but has %d users: %w", email, len(existing), models.ErrDuplicateEmail)
	}

	s.logger.Warn(ctx, "[PROVISION_RACE] Email registered concurrently", logging.Fields{
		"user_id": existing[0].ID,
	})
	s.metrics.RecordProvisioning("race")
	return s.remindUser(ctx, &existing[0])
}

func (s *ProvisioningService) notify(ctx context.Context, to, subject, token string) {
	if !s.queue.Enqueue(ctx, mailer.Message{To: to, Subject: subject, Token: token}) {
		s.logger.Warn(ctx, "[PROVISION_MAIL_SKIPPED] Token email was not queued", logging.Fields{
			"subject": subject,
		})
	}
}
