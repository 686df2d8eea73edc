package auth

import (
	"database/sql"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chatcore/internal/database"
	"chatcore/internal/types"
)

var testSigningKey = []byte("test-signing-key")

func signToken(t *testing.T, claims jwt.MapClaims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	assert.NoError(t, err, "expected token to sign")
	return signed
}

func TestJWTValidator(t *testing.T) {
	v := NewJWTValidator(testSigningKey)

	t.Run("valid token resolves identity", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub":  "u1",
			"role": "moderator",
			"exp":  time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		identity, err := v.Validate(credential)
		assert.NoError(t, err)
		assert.Equal(t, "u1", identity.Id)
		assert.Equal(t, types.RoleModerator, identity.Role)
		assert.True(t, identity.Permissions.Has(types.CapNotificationsRecv), "expected notifications capability")
	})

	t.Run("missing role defaults to user", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		identity, err := v.Validate(credential)
		assert.NoError(t, err)
		assert.Equal(t, types.RoleUser, identity.Role)
		assert.True(t, identity.Permissions.Has(types.CapChatSend))
	})

	t.Run("explicit perms claim compiled", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub":   "u1",
			"role":  "user",
			"perms": []string{"chat.read"},
			"exp":   time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		identity, err := v.Validate(credential)
		assert.NoError(t, err)
		assert.True(t, identity.Permissions.Has(types.CapChatRead))
		assert.False(t, identity.Permissions.Has(types.CapChatSend), "expected explicit set to exclude chat.send")
		assert.True(t, identity.Permissions.Has(types.CapNotificationsRecv), "expected notifications capability always present")
	})

	t.Run("all sentinel grants everything", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub":   "u1",
			"role":  "admin",
			"perms": []string{"all"},
			"exp":   time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		identity, err := v.Validate(credential)
		assert.NoError(t, err)
		assert.True(t, identity.Permissions.IsAll())
	})

	t.Run("empty credential", func(t *testing.T) {
		_, err := v.Validate("")
		assert.ErrorIs(t, err, ErrTokenRequired)
	})

	t.Run("malformed credential", func(t *testing.T) {
		_, err := v.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}, testSigningKey)

		_, err := v.Validate(credential)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong signing key", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub": "u1",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, []byte("other-key"))

		_, err := v.Validate(credential)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("missing subject", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		_, err := v.Validate(credential)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("unknown role", func(t *testing.T) {
		credential := signToken(t, jwt.MapClaims{
			"sub":  "u1",
			"role": "superuser",
			"exp":  time.Now().Add(time.Hour).Unix(),
		}, testSigningKey)

		_, err := v.Validate(credential)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}

func TestSessionValidator(t *testing.T) {
	t.Run("resolves account from session handle", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetSessionAccount", "handle-1").Return(types.User{
			Id:       "u1",
			Username: "testuser",
			Role:     types.RoleUser,
		}, nil)

		v := NewSessionValidator(db)
		identity, err := v.Validate("handle-1")
		assert.NoError(t, err)
		assert.Equal(t, "u1", identity.Id)
		assert.Equal(t, types.RoleUser, identity.Role)
		assert.True(t, identity.Permissions.Has(types.CapNotificationsRecv))
		db.AssertExpectations(t)
	})

	t.Run("unknown handle is invalid", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetSessionAccount", mock.Anything).Return(types.User{}, sql.ErrNoRows)

		v := NewSessionValidator(db)
		_, err := v.Validate("no-such-handle")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("empty credential", func(t *testing.T) {
		v := NewSessionValidator(&database.MockChatRepository{})
		_, err := v.Validate("")
		assert.ErrorIs(t, err, ErrTokenRequired)
	})

	t.Run("missing role falls back to user", func(t *testing.T) {
		db := &database.MockChatRepository{}
		db.On("GetSessionAccount", "handle-2").Return(types.User{Id: "u2"}, nil)

		v := NewSessionValidator(db)
		identity, err := v.Validate("handle-2")
		assert.NoError(t, err)
		assert.Equal(t, types.RoleUser, identity.Role)
	})
}
