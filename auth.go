package gridbase

import (
	"context"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// Claim names with special meaning.
const (
	ClaimUID     = "uid"
	ClaimIsAdmin = "isAdmin"
)

// Claims is the verified identity of a caller, exposed to rules as auth.
type Claims map[string]interface{}

// UID returns the uid claim or "".
func (c Claims) UID() string {
	uid, _ := c[ClaimUID].(string)
	return uid
}

// IsAdmin reports whether the caller carries a truthy isAdmin claim.
func (c Claims) IsAdmin() bool {
	return c != nil && truthy(c[ClaimIsAdmin])
}

// TokenDecoder verifies a token and returns its claims.
type TokenDecoder interface {
	Decode(ctx context.Context, token string) (Claims, error)
}

// TokenDecoderFunc adapts a function to TokenDecoder.
type TokenDecoderFunc func(ctx context.Context, token string) (Claims, error)

func (f TokenDecoderFunc) Decode(ctx context.Context, token string) (Claims, error) {
	return f(ctx, token)
}

// JWTDecoder verifies HS256 signed JWTs with a shared secret.
type JWTDecoder struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewJWTDecoder creates a decoder for tokens signed with secret.
func NewJWTDecoder(secret []byte) *JWTDecoder {
	return &JWTDecoder{
		secret: secret,
		leeway: jwt.DefaultLeeway,
		now:    time.Now,
	}
}

// Decode checks the signature and the time claims. The uid claim falls back
// to the subject.
func (d *JWTDecoder) Decode(_ context.Context, token string) (Claims, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, WithContext(ErrInvalidToken, map[string]interface{}{"reason": err.Error()})
	}

	var std jwt.Claims
	claims := Claims{}
	if err := tok.Claims(d.secret, &std, &claims); err != nil {
		return nil, WithContext(ErrInvalidToken, map[string]interface{}{"reason": err.Error()})
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: d.now()}, d.leeway); err != nil {
		return nil, WithContext(ErrInvalidToken, map[string]interface{}{"reason": err.Error()})
	}

	if claims.UID() == "" && std.Subject != "" {
		claims[ClaimUID] = std.Subject
	}
	return claims, nil
}
