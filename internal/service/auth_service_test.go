package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/config"
	"github.com/spec-kit/taskflow-auth/internal/domain"
	"github.com/spec-kit/taskflow-auth/internal/events"
	"github.com/spec-kit/taskflow-auth/internal/flow"
	"github.com/spec-kit/taskflow-auth/internal/observability"
	"github.com/spec-kit/taskflow-auth/internal/repository"
	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

const testPassword = "correct-horse"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *AuthService
	users   *repository.MemoryUserRepository
	flows   *flow.MemoryStore
	tokens  *auth.TokenService
	clock   *clock
	metrics *observability.Metrics
	events  *[]events.EventType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Key:        []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "taskflow-test",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Now:        c.Now,
	})
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository()
	flows := flow.NewMemoryStore(flow.Options{Now: c.Now})
	metrics := observability.NewMetrics()

	dispatcher := events.NewInMemoryDispatcher()
	var (
		seenMu sync.Mutex
		seen   []events.EventType
	)
	record := func(_ context.Context, e events.Event) error {
		seenMu.Lock()
		defer seenMu.Unlock()
		seen = append(seen, e.Type)
		return nil
	}
	dispatcher.SubscribeAll(record)
	NewAuditService(dispatcher, zap.NewNop(), metrics).RegisterHandlers()

	svc := NewAuthService(config.AuthConfig{MaxLoginAttempts: 3, BcryptCost: bcrypt.MinCost}, AuthDependencies{
		UserRepo:   users,
		Flows:      flows,
		Tokens:     tokens,
		Dispatcher: dispatcher,
		Logger:     zap.NewNop(),
		Metrics:    metrics,
	})
	svc.now = c.Now

	return &fixture{svc: svc, users: users, flows: flows, tokens: tokens, clock: c, metrics: metrics, events: &seen}
}

func (f *fixture) register(t *testing.T, username string) *domain.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     username + "@example.com",
		Password:  testPassword,
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	return user
}

func requireDomainError(t *testing.T, err error, code string, status int) {
	t.Helper()
	require.Error(t, err)
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T: %v", err, err)
	require.Equal(t, code, domainErr.Code)
	require.Equal(t, status, domainErr.HTTPStatus)
}

func TestRegisterTrimsAndHashes(t *testing.T) {
	f := newFixture(t)
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "  alice ", Email: " alice@example.com ", Password: " " + testPassword + " ",
		FirstName: " Alice ", LastName: " Doe ",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, "Alice", user.FirstName)
	require.True(t, user.Active)
	require.NotEqual(t, testPassword, user.PasswordHash)
	require.NoError(t, auth.ComparePassword(user.PasswordHash, testPassword))
	require.Equal(t, int64(1), f.metrics.AuthCount(observability.AuthRegistered))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "new@example.com", Password: testPassword, FirstName: "A", LastName: "B",
	})
	requireDomainError(t, err, apperrors.CodeConflict, http.StatusConflict)

	_, err = f.svc.Register(context.Background(), RegisterInput{
		Username: "alice2", Email: "alice@example.com", Password: testPassword, FirstName: "A", LastName: "B",
	})
	requireDomainError(t, err, apperrors.CodeConflict, http.StatusConflict)
}

func TestIdentifyByUsernameOrEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	byName, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)
	byMail, err := f.svc.Identify(ctx, "  alice@example.com ")
	require.NoError(t, err)

	require.NotEqual(t, byName.ID, byMail.ID)
	require.Equal(t, "alice", byMail.Username)
	require.Zero(t, byMail.Attempts)
}

func TestIdentifyUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Identify(context.Background(), "nobody")
	requireDomainError(t, err, apperrors.CodeNotFound, http.StatusNotFound)

	_, err = f.svc.Identify(context.Background(), "   ")
	requireDomainError(t, err, apperrors.CodeValidationFailed, http.StatusBadRequest)
}

func TestLoginIssuesTokensAndConsumesFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	result, err := f.svc.Login(ctx, fl.ID, testPassword)
	require.NoError(t, err)
	require.Equal(t, time.Hour, result.RefreshTTL)

	access, err := f.tokens.Parse(result.AccessToken)
	require.NoError(t, err)
	require.True(t, f.tokens.IsAccessToken(access))
	require.Equal(t, "alice", f.tokens.Subject(access))
	require.Equal(t, []string{domain.RoleUser}, f.tokens.Roles(access))

	refresh, err := f.tokens.Parse(result.RefreshToken)
	require.NoError(t, err)
	require.True(t, f.tokens.IsRefreshToken(refresh))

	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	requireDomainError(t, err, apperrors.CodeInvalidFlow, http.StatusBadRequest)

	require.Equal(t, []events.EventType{
		events.EventUserRegistered, events.EventFlowCreated, events.EventLoginSucceeded,
	}, *f.events)
}

func TestLoginWrongPasswordThenLockout(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, fl.ID, "wrong-password")
		requireDomainError(t, err, apperrors.CodeInvalidPassword, http.StatusUnauthorized)
	}

	stored, err := f.flows.Get(ctx, fl.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stored.Attempts)

	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	requireDomainError(t, err, apperrors.CodeMaxAttemptsExceeded, http.StatusBadRequest)

	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	requireDomainError(t, err, apperrors.CodeMaxAttemptsExceeded, http.StatusBadRequest)

	user, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 3, user.FailedLoginAttempts)
	require.Equal(t, int64(3), f.metrics.AuthCount(observability.AuthLoginFailed))
	require.Equal(t, int64(2), f.metrics.AuthCount(observability.AuthFlowLocked))
}

func TestLoginSucceedsOnThirdAttempt(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, fl.ID, "wrong-password")
		require.Error(t, err)
	}
	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	require.NoError(t, err)

	user, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, user.FailedLoginAttempts)
}

func TestLoginConcurrentAttemptsNeverExceedLimit(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	passwordChecks := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Login(ctx, fl.ID, "wrong-password")
			var domainErr *apperrors.DomainError
			if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeInvalidPassword {
				mu.Lock()
				passwordChecks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, passwordChecks)
}

// rendezvousUsers holds every GetByUsername caller until n of them have arrived.
type rendezvousUsers struct {
	repository.UserRepository
	arrived sync.WaitGroup
}

func newRendezvousUsers(inner repository.UserRepository, n int) *rendezvousUsers {
	r := &rendezvousUsers{UserRepository: inner}
	r.arrived.Add(n)
	return r
}

func (r *rendezvousUsers) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.arrived.Done()
	r.arrived.Wait()
	return r.UserRepository.GetByUsername(ctx, username)
}

func TestLoginConcurrentCorrectPasswordsCompleteFlowOnce(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	const workers = 3
	f.svc.users = newRendezvousUsers(f.users, workers)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		replayed  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.Login(ctx, fl.ID, testPassword)
			mu.Lock()
			defer mu.Unlock()
			if err == nil && result.AccessToken != "" {
				succeeded++
				return
			}
			var domainErr *apperrors.DomainError
			if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeInvalidFlow {
				replayed++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, succeeded, "one flow id must yield one token pair")
	require.Equal(t, workers-1, replayed)
	require.Equal(t, int64(1), f.metrics.AuthCount(observability.AuthLoginSucceeded))

	_, err = f.flows.Get(ctx, fl.ID)
	require.ErrorIs(t, err, flow.ErrFlowNotFound)
}

func TestConcurrentFailedLoginsAreAllCounted(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	const workers = 10
	flowIDs := make([]string, 0, workers)
	for i := 0; i < workers; i++ {
		fl, err := f.svc.Identify(ctx, "alice")
		require.NoError(t, err)
		flowIDs = append(flowIDs, fl.ID)
	}

	var wg sync.WaitGroup
	for _, id := range flowIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.svc.Login(ctx, id, "wrong-password")
		}(id)
	}
	wg.Wait()

	user, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, workers, user.FailedLoginAttempts)
}

func TestLoginExpiredFlow(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	f.clock.Advance(flow.DefaultTTL + time.Second)
	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	requireDomainError(t, err, apperrors.CodeInvalidFlow, http.StatusBadRequest)

	_, err = f.svc.Login(ctx, "", testPassword)
	requireDomainError(t, err, apperrors.CodeInvalidFlow, http.StatusBadRequest)
}

func TestLoginUserRemovedAfterIdentify(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "alice")
	ctx := context.Background()

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)

	user.Deleted = true
	require.NoError(t, f.users.Update(ctx, user))

	_, err = f.svc.Login(ctx, fl.ID, testPassword)
	requireDomainError(t, err, apperrors.CodeNotFound, http.StatusNotFound)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	refresh, err := f.tokens.CreateRefreshToken("alice", []string{"USER", "ADMIN"})
	require.NoError(t, err)

	access, err := f.svc.Refresh(ctx, refresh)
	require.NoError(t, err)
	claims, err := f.tokens.Parse(access)
	require.NoError(t, err)
	require.True(t, f.tokens.IsAccessToken(claims))
	require.Equal(t, []string{"USER", "ADMIN"}, f.tokens.Roles(claims))
}

func TestRefreshDefaultsRoles(t *testing.T) {
	f := newFixture(t)

	refresh, err := f.tokens.CreateRefreshToken("alice", nil)
	require.NoError(t, err)

	access, err := f.svc.Refresh(context.Background(), refresh)
	require.NoError(t, err)
	claims, err := f.tokens.Parse(access)
	require.NoError(t, err)
	require.Equal(t, []string{domain.RoleUser}, f.tokens.Roles(claims))
}

func TestRefreshRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	access, err := f.tokens.CreateAccessToken("alice", nil)
	require.NoError(t, err)
	anonymous, err := f.tokens.CreateRefreshToken("", nil)
	require.NoError(t, err)
	other, err := auth.NewTokenService(auth.TokenConfig{Key: []byte("fedcba9876543210fedcba9876543210")})
	require.NoError(t, err)
	forged, err := other.CreateRefreshToken("alice", nil)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, "")
	requireDomainError(t, err, apperrors.CodeValidationFailed, http.StatusBadRequest)
	_, err = f.svc.Refresh(ctx, "garbage")
	requireDomainError(t, err, apperrors.CodeValidationFailed, http.StatusBadRequest)
	_, err = f.svc.Refresh(ctx, access)
	requireDomainError(t, err, apperrors.CodeUnauthorized, http.StatusUnauthorized)
	_, err = f.svc.Refresh(ctx, anonymous)
	requireDomainError(t, err, apperrors.CodeUnauthorized, http.StatusUnauthorized)
	_, err = f.svc.Refresh(ctx, forged)
	requireDomainError(t, err, apperrors.CodeUnauthorized, http.StatusUnauthorized)

	refresh, err := f.tokens.CreateRefreshToken("alice", nil)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Refresh(ctx, refresh)
	requireDomainError(t, err, apperrors.CodeUnauthorized, http.StatusUnauthorized)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, "alice", "not-my-password", "brand-new-secret")
	requireDomainError(t, err, apperrors.CodeInvalidPassword, http.StatusUnauthorized)

	require.NoError(t, f.svc.ChangePassword(ctx, "alice", testPassword, "brand-new-secret"))

	fl, err := f.svc.Identify(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, fl.ID, "brand-new-secret")
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, "ghost", testPassword, "brand-new-secret")
	requireDomainError(t, err, apperrors.CodeNotFound, http.StatusNotFound)
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	user, err := f.svc.Me(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
}
