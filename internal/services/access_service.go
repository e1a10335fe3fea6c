package services

import (
	"context"
	"fmt"

	"aqi-platform/internal/models"
	"aqi-platform/internal/repository"
	"aqi-platform/pkg/logging"
	"aqi-platform/pkg/metrics"
)

// AccessLevel is the capability an endpoint requires
type AccessLevel int

const (
	AccessRead AccessLevel = iota
	AccessWrite
)

// AuthErrorKind classifies an authentication failure
type AuthErrorKind int

const (
	MissingToken AuthErrorKind = iota
	UnknownToken
	InsufficientPermission
)

// AuthError is returned when a token does not grant the requested access
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case MissingToken:
		return "Token is missing"
	case UnknownToken:
		return "User with this token does not exist"
	case InsufficientPermission:
		return "You do not have permission to access this resource"
	default:
		return fmt.Sprintf("authentication failed (%d)", e.Kind)
	}
}

// AccessService checks API tokens against registered users
type AccessService struct {
	users   repository.UserRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAccessService creates a new access service
func NewAccessService(users repository.UserRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AccessService {
	return &AccessService{
		users:   users,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Authenticate resolves token to a user holding at least level. Reads require
// the token to match exactly one user; writes use the first match and log
// the duplicate.
func (s *AccessService) Authenticate(ctx context.Context, token string, level AccessLevel) (*models.User, error) {
	if token == "" {
		s.metrics.RecordAuthRejection("missing_token")
		return nil, &AuthError{Kind: MissingToken}
	}

	users, err := s.users.FindByToken(ctx, token, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if len(users) == 0 {
		s.metrics.RecordAuthRejection("unknown_token")
		return nil, &AuthError{Kind: UnknownToken}
	}

	if len(users) > 1 {
		if level == AccessRead {
			s.logger.Warn(ctx, "[AUTH_AMBIGUOUS] Token matches more than one user", logging.Fields{
				"access": "read",
			})
			s.metrics.RecordAuthRejection("ambiguous_token")
			return nil, &AuthError{Kind: UnknownToken}
		}
		s.logger.Warn(ctx, "[AUTH_AMBIGUOUS] Token matches more than one user, using first", logging.Fields{
			"access":  "write",
			"user_id": users[0].ID,
		})
	}

	user := users[0]
	if level == AccessWrite && !user.CanWrite() {
		s.metrics.RecordAuthRejection("insufficient_permission")
		return nil, &AuthError{Kind: InsufficientPermission}
	}
	return &user, nil
}
