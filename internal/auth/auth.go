// Package auth exchanges a bearer credential for a verified identity.
//
// Two strategies exist behind the Validator interface: a self-contained
// signed token verified against a shared secret, and an opaque session
// handle resolved against the durable store. A deployment picks one.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"

	"chatcore/internal/types"
)

var (
	ErrTokenRequired = errors.New("credential required")
	ErrTokenInvalid  = errors.New("credential invalid")
	ErrTokenExpired  = errors.New("credential expired")
)

const (
	subjectClaim = "sub"
	roleClaim    = "role"
	permsClaim   = "perms"
)

type Validator interface {
	Validate(credential string) (types.Identity, error)
}

// JWTValidator verifies self-contained HMAC-signed tokens carrying the
// identity id, role, and optionally an explicit permission list.
type JWTValidator struct {
	signingKey []byte
}

func NewJWTValidator(signingKey []byte) *JWTValidator {
	return &JWTValidator{signingKey: signingKey}
}

func (v *JWTValidator) Validate(credential string) (types.Identity, error) {
	if credential == "" {
		return types.Identity{}, ErrTokenRequired
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.signingKey, nil
	})
	if err != nil {
		var vErr *jwt.ValidationError
		if errors.As(err, &vErr) && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return types.Identity{}, ErrTokenExpired
		}
		return types.Identity{}, ErrTokenInvalid
	}

	if !token.Valid {
		return types.Identity{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, ErrTokenInvalid
	}

	subject, ok := claims[subjectClaim].(string)
	if !ok || subject == "" {
		return types.Identity{}, ErrTokenInvalid
	}

	role := types.RoleUser
	if r, ok := claims[roleClaim].(string); ok {
		role = types.Role(r)
		if !role.Valid() {
			return types.Identity{}, ErrTokenInvalid
		}
	}

	return types.Identity{
		Id:          subject,
		Role:        role,
		Permissions: permissionsFromClaims(claims, role),
	}, nil
}

// permissionsFromClaims compiles an explicit perms claim into a permission
// set, or synthesizes the role default when absent. Either way the result
// can receive notifications.
func permissionsFromClaims(claims jwt.MapClaims, role types.Role) types.PermissionSet {
	raw, ok := claims[permsClaim].([]interface{})
	if !ok {
		return types.DefaultPermissions(role)
	}

	caps := []string{types.CapNotificationsRecv}
	for _, entry := range raw {
		name, ok := entry.(string)
		if !ok {
			continue
		}
		if name == "all" {
			return types.AllPermissions()
		}
		caps = append(caps, name)
	}

	return types.NewPermissionSet(caps...)
}

// AccountResolver is the slice of the durable store the session strategy
// needs: resolve an opaque handle to an account row.
type AccountResolver interface {
	GetSessionAccount(token string) (types.User, error)
}

// SessionValidator resolves opaque session handles against the durable
// store; the role comes from the account row.
type SessionValidator struct {
	store AccountResolver
}

func NewSessionValidator(store AccountResolver) *SessionValidator {
	return &SessionValidator{store: store}
}

func (v *SessionValidator) Validate(credential string) (types.Identity, error) {
	if credential == "" {
		return types.Identity{}, ErrTokenRequired
	}

	user, err := v.store.GetSessionAccount(credential)
	if err != nil {
		// no matching live session: invalid, never half-authenticated
		return types.Identity{}, ErrTokenInvalid
	}

	role := user.Role
	if !role.Valid() {
		role = types.RoleUser
	}

	return types.Identity{
		Id:          user.Id,
		Role:        role,
		Permissions: types.DefaultPermissions(role),
	}, nil
}
