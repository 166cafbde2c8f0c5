package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/config"
	"github.com/spec-kit/taskflow-auth/internal/domain"
	"github.com/spec-kit/taskflow-auth/internal/events"
	"github.com/spec-kit/taskflow-auth/internal/flow"
	"github.com/spec-kit/taskflow-auth/internal/observability"
	"github.com/spec-kit/taskflow-auth/internal/repository"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

// RegisterInput carries a sign-up request after shape validation.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginResult is handed back to the transport after a successful login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	RefreshTTL   time.Duration
}

// AuthService coordinates registration, the identify/login flow, and token refresh.
type AuthService struct {
	users       repository.UserRepository
	flows       flow.Store
	tokens      *auth.TokenService
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	bcryptCost  int
	maxAttempts int
	now         func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Flows      flow.Store
	Tokens     *auth.TokenService
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxLoginAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &AuthService{
		users:       deps.UserRepo,
		flows:       deps.Flows,
		tokens:      deps.Tokens,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		metrics:     deps.Metrics,
		bcryptCost:  cfg.BcryptCost,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Register creates a new account.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	if _, err := s.users.GetByEmailOrUsername(ctx, username); err == nil {
		return nil, apperrors.NewConflict("user already exists", map[string]any{"username": "already taken"})
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperrors.NewInternalError(err)
	}
	if _, err := s.users.GetByEmailOrUsername(ctx, email); err == nil {
		return nil, apperrors.NewConflict("user already exists", map[string]any{"email": "already registered"})
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperrors.NewInternalError(err)
	}

	hash, err := auth.HashPassword(strings.TrimSpace(in.Password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, apperrors.NewConflict("user already exists", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("user registered", zap.String("username", user.Username))
	s.publish(ctx, events.Event{
		Type:     events.EventUserRegistered,
		Username: user.Username,
		Payload:  events.UserRegisteredPayload{UserID: user.ID, Email: user.Email},
	})
	return user, nil
}

// Identify resolves an e-mail or username and opens a login flow for it.
func (s *AuthService) Identify(ctx context.Context, identifier string) (*flow.Flow, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.NewValidationError("identifier is required", map[string]any{"identifier": "required"})
	}

	user, err := s.users.GetByEmailOrUsername(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Info("identify failed", zap.String("identifier", identifier))
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	f, err := s.flows.Create(ctx, user.Username)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("login flow created", zap.String("username", user.Username), zap.String("flow_id", f.ID))
	s.metrics.RecordAuth(observability.AuthIdentified, 1)
	s.publish(ctx, events.Event{Type: events.EventFlowCreated, Username: user.Username, FlowID: f.ID})
	return f, nil
}

// Login checks a password against the user bound to flowID. Each call consumes
// one attempt before the password is looked at, so a flow past its limit
// rejects even the correct password.
func (s *AuthService) Login(ctx context.Context, flowID, password string) (*LoginResult, error) {
	flowID = strings.TrimSpace(flowID)
	if flowID == "" {
		return nil, apperrors.NewInvalidFlow()
	}

	f, err := s.flows.Get(ctx, flowID)
	if err != nil {
		return nil, s.flowError(err)
	}

	attempts, err := s.flows.IncrementAttempts(ctx, flowID)
	if err != nil {
		return nil, s.flowError(err)
	}
	if attempts > s.maxAttempts {
		s.logger.Info("login flow locked", zap.String("username", f.Username), zap.String("flow_id", flowID))
		s.metrics.RecordAuth(observability.AuthFlowLocked, 1)
		s.publish(ctx, events.Event{
			Type:     events.EventFlowLocked,
			Username: f.Username,
			FlowID:   flowID,
			Payload:  events.FlowLockedPayload{Attempts: attempts},
		})
		return nil, apperrors.NewMaxAttemptsExceeded()
	}

	user, err := s.users.GetByUsername(ctx, f.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	if err := auth.ComparePassword(user.PasswordHash, strings.TrimSpace(password)); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperrors.NewInternalError(err)
		}
		s.recordFailedAttempt(ctx, user)
		s.logger.Info("login failed", zap.String("username", user.Username), zap.Int("attempts", attempts))
		s.metrics.RecordAuth(observability.AuthLoginFailed, 1)
		s.publish(ctx, events.Event{
			Type:     events.EventLoginFailed,
			Username: user.Username,
			FlowID:   flowID,
			Payload:  events.LoginFailedPayload{Attempts: attempts, Limit: s.maxAttempts},
		})
		return nil, apperrors.NewInvalidPassword()
	}

	// Only one request may complete a flow; concurrent duplicates lose here.
	if err := s.flows.Consume(ctx, flowID); err != nil {
		if errors.Is(err, flow.ErrFlowNotFound) {
			s.logger.Info("login flow already completed", zap.String("username", user.Username), zap.String("flow_id", flowID))
		}
		return nil, s.flowError(err)
	}

	roles := []string{domain.RoleUser}
	access, err := s.tokens.CreateAccessToken(user.Username, roles)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	refresh, err := s.tokens.CreateRefreshToken(user.Username, roles)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	s.resetFailedAttempts(ctx, user)

	s.logger.Info("login succeeded", zap.String("username", user.Username))
	s.metrics.RecordAuth(observability.AuthLoginSucceeded, 1)
	s.publish(ctx, events.Event{Type: events.EventLoginSucceeded, Username: user.Username, FlowID: flowID})

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		RefreshTTL:   s.tokens.RefreshTTL(),
	}, nil
}

// Refresh exchanges a refresh token for a new access token. The flow store is
// not consulted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", apperrors.NewValidationError("refresh token cookie missing", nil)
	}

	claims, err := s.tokens.Parse(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrMalformedToken) {
			return "", apperrors.NewValidationError("refresh token malformed", nil)
		}
		return "", s.refreshRejected("invalid signature")
	}
	if s.tokens.IsTokenExpired(claims) {
		return "", s.refreshRejected("expired")
	}
	if !s.tokens.IsRefreshToken(claims) {
		return "", s.refreshRejected("wrong token type")
	}

	username := s.tokens.Subject(claims)
	if strings.TrimSpace(username) == "" {
		return "", s.refreshRejected("missing subject")
	}

	roles := s.tokens.Roles(claims)
	if len(roles) == 0 {
		roles = []string{domain.RoleUser}
	}

	access, err := s.tokens.CreateAccessToken(username, roles)
	if err != nil {
		return "", apperrors.NewInternalError(err)
	}

	s.logger.Info("access token refreshed", zap.String("username", username))
	s.metrics.RecordAuth(observability.AuthRefreshed, 1)
	s.publish(ctx, events.Event{Type: events.EventTokenRefreshed, Username: username})
	return access, nil
}

// Me returns the account of the authenticated caller.
func (s *AuthService) Me(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperrors.NewNotFound("user", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return user, nil
}

// ChangePassword verifies the current password before storing the new hash.
func (s *AuthService) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	user, err := s.Me(ctx, username)
	if err != nil {
		return err
	}

	if err := auth.ComparePassword(user.PasswordHash, strings.TrimSpace(currentPassword)); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("change password rejected", zap.String("username", username))
			return apperrors.NewInvalidPassword()
		}
		return apperrors.NewInternalError(err)
	}

	hash, err := auth.HashPassword(strings.TrimSpace(newPassword), s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewInternalError(err)
	}

	s.logger.Info("password changed", zap.String("username", username))
	s.publish(ctx, events.Event{Type: events.EventPasswordChanged, Username: username})
	return nil
}

func (s *AuthService) flowError(err error) error {
	if errors.Is(err, flow.ErrFlowNotFound) {
		s.metrics.RecordAuth(observability.AuthFlowInvalid, 1)
		return apperrors.NewInvalidFlow()
	}
	return apperrors.NewInternalError(err)
}

func (s *AuthService) refreshRejected(reason string) error {
	s.logger.Info("refresh rejected", zap.String("reason", reason))
	return apperrors.NewUnauthorized("invalid refresh token")
}

func (s *AuthService) recordFailedAttempt(ctx context.Context, user *domain.User) {
	count, err := s.users.IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		s.logger.Warn("record failed login", zap.String("username", user.Username), zap.Error(err))
		return
	}
	user.FailedLoginAttempts = count
}

func (s *AuthService) resetFailedAttempts(ctx context.Context, user *domain.User) {
	if user.FailedLoginAttempts == 0 {
		return
	}
	if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
		s.logger.Warn("reset failed logins", zap.String("username", user.Username), zap.Error(err))
		return
	}
	user.FailedLoginAttempts = 0
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = s.now().UTC()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}
