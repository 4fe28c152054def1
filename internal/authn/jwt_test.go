package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rjlane/courses/internal/store"
)

func TestJWTService_GenerateAndValidateRoundTrip(t *testing.T) {
	svc := newJWTService("super-secret", time.Hour)
	token, err := svc.generate(&store.User{ID: "user-1", Email: "a@example.com", Role: store.RoleAdmin})
	require.NoError(t, err)

	user, err := svc.validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "a@example.com", user.Email)
	require.Equal(t, store.RoleAdmin, user.Role)
}

func TestJWTService_NilSecretDisablesIssuance(t *testing.T) {
	svc := newJWTService("", time.Hour)
	require.Nil(t, svc)

	_, err := svc.generate(&store.User{ID: "user-1"})
	require.ErrorIs(t, err, ErrAuthDisabled)

	_, err = svc.validate("anything")
	require.ErrorIs(t, err, ErrAuthDisabled)
}

func TestJWTService_RejectsTamperedToken(t *testing.T) {
	svc := newJWTService("secret-one", time.Hour)
	token, err := svc.generate(&store.User{ID: "user-1"})
	require.NoError(t, err)

	other := newJWTService("secret-two", time.Hour)
	_, err = other.validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_ZeroExpiryNeverExpires(t *testing.T) {
	svc := newJWTService("secret", 0)
	token, err := svc.generate(&store.User{ID: "user-1"})
	require.NoError(t, err)

	user, err := svc.validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
}

func TestJWTService_RejectsExpiredToken(t *testing.T) {
	svc := newJWTService("secret", time.Nanosecond)
	token, err := svc.generate(&store.User{ID: "user-1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = svc.validate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
