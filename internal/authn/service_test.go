package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/store"
)

func newTestStore(t *testing.T) (sqlmock.Sqlmock, *store.Store) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, &store.Store{DB: db, Dialect: store.DialectSQLite}
}

func TestValidateStartup_RequiresOwnerEmailForSingleTenant(t *testing.T) {
	require.ErrorIs(t, ValidateStartup(Config{SingleTenant: true}), ErrSingleTenantMisconfigured)
	require.NoError(t, ValidateStartup(Config{SingleTenant: true, OwnerEmail: "owner@example.com"}))
	require.NoError(t, ValidateStartup(Config{SingleTenant: false}))
}

func TestAuthenticate_AuthDisabledMintsDevUserOnce(t *testing.T) {
	mock, st := newTestStore(t)
	mock.ExpectQuery(`SELECT id, email, role, provider, created_at FROM users WHERE id = \?`).
		WithArgs(DevUserID).
		WillReturnError(store.ErrNotFound)
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(DevUserID, "dev@localhost", store.RoleAdmin, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	svc := NewService(Config{AuthDisabled: true}, st)
	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)

	user, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, DevUserID, user.ID)
	require.Equal(t, store.RoleAdmin, user.Role)

	// second call must not re-query/re-insert: the dev user is cached.
	user2, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, user.ID, user2.ID)
}

func TestAuthenticate_RejectsMissingCredentials(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)

	_, err := svc.Authenticate(context.Background(), req)
	require.Error(t, err)
}

func TestAuthenticate_AcceptsBearerToken(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour}, nil)
	token, err := svc.IssueToken(&store.User{ID: "user-1", Email: "user1@example.com", Role: store.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	user, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}

func TestAuthenticate_AcceptsSessionCookie(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour}, nil)
	token, err := svc.IssueToken(&store.User{ID: "user-1", Email: "user1@example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})

	user, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}

func TestAuthenticate_PromotesAdminEmailRegardlessOfTokenRole(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour, AdminEmails: []string{"Admin@Example.com"}}, nil)
	token, err := svc.IssueToken(&store.User{ID: "user-1", Email: "admin@example.com", Role: store.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	user, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, store.RoleAdmin, user.Role)
}

func TestAuthenticate_RejectsNonOwnerUnderSingleTenant(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour, SingleTenant: true, OwnerEmail: "owner@example.com"}, nil)
	token, err := svc.IssueToken(&store.User{ID: "user-1", Email: "intruder@example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, err = svc.Authenticate(context.Background(), req)
	require.Error(t, err)
}

func TestAuthenticate_AcceptsOwnerUnderSingleTenant(t *testing.T) {
	svc := NewService(Config{JWTSecret: "secret", TokenExpiry: time.Hour, SingleTenant: true, OwnerEmail: "owner@example.com"}, nil)
	token, err := svc.IssueToken(&store.User{ID: "user-1", Email: "Owner@Example.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/fiches", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	user, err := svc.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}

func TestValidateInternalToken(t *testing.T) {
	svc := NewService(Config{InternalAPISecret: "topsecret"}, nil)

	good := httptest.NewRequest(http.MethodPost, "/internal/courses/c1/continue", nil)
	good.Header.Set("X-Internal-Token", "topsecret")
	require.NoError(t, svc.ValidateInternalToken(good))

	bad := httptest.NewRequest(http.MethodPost, "/internal/courses/c1/continue", nil)
	bad.Header.Set("X-Internal-Token", "wrong")
	require.Error(t, svc.ValidateInternalToken(bad))

	missing := httptest.NewRequest(http.MethodPost, "/internal/courses/c1/continue", nil)
	require.Error(t, svc.ValidateInternalToken(missing))
}
