// internal/auth/jwt.go
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWT validates ed25519-signed bearer tokens. The "sub" claim carries the
// user id and the optional "name" claim carries the display name.
type JWT struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// expireSec indicates how many seconds until token expiration (0 => never).
	expireSec int
}

var _ Validator = (*JWT)(nil)

// parseTokenExpireTime reads the TOKEN_EXPIRE_TIME env var. "never", "0" and
// empty all mean no expiration.
func parseTokenExpireTime() (int, error) {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token expire time: %w", err)
	}
	return int(d.Seconds()), nil
}

// NewJWT generates a fresh ed25519 key pair at runtime. Tokens minted by a
// previous process will not verify against it.
func NewJWT() (*JWT, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	exp, err := parseTokenExpireTime()
	if err != nil {
		return nil, err
	}
	return &JWT{privateKey: priv, publicKey: pub, expireSec: exp}, nil
}

// NewJWTFromPath reads raw ed25519 private/public keys from files.
func NewJWTFromPath(privatePath, publicPath string) (*JWT, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	exp, err := parseTokenExpireTime()
	if err != nil {
		return nil, err
	}
	return &JWT{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		expireSec:  exp,
	}, nil
}

// CreateToken signs a JWT with "sub" = userID and "name" = displayName.
func (j *JWT) CreateToken(userID, displayName string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if displayName != "" {
		claims["name"] = displayName
	}
	if j.expireSec > 0 {
		claims["exp"] = time.Now().Add(time.Duration(j.expireSec) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(j.privateKey)
}

// Validate verifies the token signature and expiry and extracts the identity.
func (j *JWT) Validate(_ context.Context, tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return j.publicKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: unexpected claims shape", ErrInvalidToken)
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	displayName, _ := claims["name"].(string)
	if displayName == "" {
		displayName = userID
	}

	return Identity{UserID: userID, DisplayName: displayName}, nil
}
