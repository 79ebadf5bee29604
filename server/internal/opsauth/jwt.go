// Package opsauth issues and validates bearer tokens for the single
// operator credential this server trusts — there is no user database, no
// roles, and no third-party identity provider; the wire protocol between
// edge/relay/server is unauthenticated by design,
// so this is strictly the HTTP control-surface's own auth layer.
package opsauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// accessTokenDuration is how long an issued operator token remains valid.
const accessTokenDuration = 12 * time.Hour

// rsaKeyBits is the RSA key size used for token signing.
const rsaKeyBits = 2048

// Claims holds the claims embedded in every operator access token.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues and validates RS256 bearer tokens for the operator
// credential, and checks a presented credential string against the
// configured one using a constant-time comparison.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	credential string
}

// NewGenerated creates a Manager with a freshly generated, ephemeral RSA
// key pair — tokens are invalidated on restart, which is acceptable for a
// single-operator control plane.
func NewGenerated(issuer, credential string) (*Manager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("opsauth: generating RSA key pair: %w", err)
	}
	return &Manager{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		issuer:     issuer,
		credential: credential,
	}, nil
}

// CheckCredential reports whether presented matches the configured
// operator credential, in constant time.
func (m *Manager) CheckCredential(presented string) error {
	if subtle.ConstantTimeCompare([]byte(presented), []byte(m.credential)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// IssueToken creates a signed RS256 JWT for the operator session.
func (m *Manager) IssueToken() (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenDuration)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", fmt.Errorf("opsauth: signing token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token string.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("opsauth: unexpected signing method: %v", t.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// PublicKeyPEM returns the public key in PEM-encoded PKIX format.
func (m *Manager) PublicKeyPEM() ([]byte, error) {
	pubBytes, err := x509.MarshalPKIXPublicKey(m.publicKey)
	if err != nil {
		return nil, fmt.Errorf("opsauth: marshaling public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}), nil
}
