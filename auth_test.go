package gridbase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, secret []byte, std jwt.Claims, custom map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	builder := jwt.Signed(signer).Claims(std)
	if custom != nil {
		builder = builder.Claims(custom)
	}
	token, err := builder.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	return token
}

func TestJWTDecoder_Decode(t *testing.T) {
	now := time.Now()
	token := signToken(t, testSecret, jwt.Claims{
		Subject: "alice",
		Expiry:  jwt.NewNumericDate(now.Add(time.Hour)),
	}, map[string]interface{}{"role": "editor"})

	claims, err := NewJWTDecoder(testSecret).Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.UID() != "alice" {
		t.Errorf("UID = %q, want alice from the subject", claims.UID())
	}
	if claims["role"] != "editor" {
		t.Errorf("role = %v", claims["role"])
	}
	if claims.IsAdmin() {
		t.Error("token should not be admin")
	}
}

func TestJWTDecoder_ExplicitUID(t *testing.T) {
	token := signToken(t, testSecret, jwt.Claims{Subject: "sub-1"}, map[string]interface{}{"uid": "u-1", "isAdmin": true})

	claims, err := NewJWTDecoder(testSecret).Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if claims.UID() != "u-1" {
		t.Errorf("UID = %q, want u-1", claims.UID())
	}
	if !claims.IsAdmin() {
		t.Error("expected the admin claim to be honoured")
	}
}

func TestJWTDecoder_Rejects(t *testing.T) {
	now := time.Now()
	expired := signToken(t, testSecret, jwt.Claims{Subject: "alice", Expiry: jwt.NewNumericDate(now.Add(-time.Hour))}, nil)
	notYet := signToken(t, testSecret, jwt.Claims{Subject: "alice", NotBefore: jwt.NewNumericDate(now.Add(time.Hour))}, nil)
	wrongKey := signToken(t, []byte("ffffffffffffffffffffffffffffffff"), jwt.Claims{Subject: "alice"}, nil)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"not yet valid", notYet},
		{"wrong secret", wrongKey},
		{"garbage", "not-a-token"},
		{"empty", ""},
	}

	decoder := NewJWTDecoder(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decoder.Decode(context.Background(), tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestJWTDecoder_Leeway(t *testing.T) {
	now := time.Now()
	token := signToken(t, testSecret, jwt.Claims{Subject: "alice", Expiry: jwt.NewNumericDate(now)}, nil)

	decoder := NewJWTDecoder(testSecret)
	decoder.now = func() time.Time { return now.Add(10 * time.Second) }
	if _, err := decoder.Decode(context.Background(), token); err != nil {
		t.Errorf("token inside the leeway should pass, got %v", err)
	}
}

func TestClaims(t *testing.T) {
	var none Claims
	if none.UID() != "" || none.IsAdmin() {
		t.Error("nil claims should be anonymous")
	}
	if (Claims{"uid": 42}).UID() != "" {
		t.Error("non-string uid should be ignored")
	}
}

func TestDB_WithToken(t *testing.T) {
	ctx := context.Background()
	db, err := Open(NewMemoryGrid(), Options{
		Rules: map[string]interface{}{
			"users": map[string]interface{}{
				"$uid": map[string]interface{}{".write": "$uid === auth.uid", ".read": "$uid === auth.uid"},
			},
		},
		TokenDecoder: NewJWTDecoder(testSecret),
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	token := signToken(t, testSecret, jwt.Claims{Subject: "alice"}, nil)
	alice, err := db.WithToken(ctx, token)
	if err != nil {
		t.Fatalf("WithToken failed: %v", err)
	}
	if alice.Access().Auth.UID() != "alice" {
		t.Errorf("auth = %v", alice.Access().Auth)
	}
	if _, err := alice.Update(ctx, "users", "alice", Document{"name": "Alice"}); err != nil {
		t.Errorf("own write failed: %v", err)
	}
	if _, err := alice.Update(ctx, "users", "bob", Document{"name": "Bob"}); !IsPermissionDenied(err) {
		t.Errorf("foreign write: expected permission denied, got %v", err)
	}

	if _, err := db.WithToken(ctx, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("bad token: expected ErrInvalidToken, got %v", err)
	}
}

func TestDB_WithToken_NoDecoder(t *testing.T) {
	db, _ := Open(NewMemoryGrid(), Options{})
	if _, err := db.WithToken(context.Background(), "x"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	custom := TokenDecoderFunc(func(ctx context.Context, token string) (Claims, error) {
		return Claims{"uid": token}, nil
	})
	db, _ = Open(NewMemoryGrid(), Options{TokenDecoder: custom})
	view, err := db.WithToken(context.Background(), "carol")
	if err != nil || view.Access().Auth.UID() != "carol" {
		t.Errorf("TokenDecoderFunc: %v, %v", view, err)
	}
}
