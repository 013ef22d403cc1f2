// Package auth issues and validates the bearer tokens that guard the
// mutating routes.
//
// Tokens are Ed25519-signed JWTs (EdDSA). Keys are loaded from PEM files or
// generated at startup for development.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "neurogenx"
	audience = "neurogenx"

	// ScopeRunsWrite allows starting and cancelling runs.
	ScopeRunsWrite = "runs:write"
)

// Claims extends jwt.RegisteredClaims with the granted scopes.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// JWTManager handles JWT creation and validation using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration
}

// NewJWTManager creates a JWTManager from PEM key files. With both paths
// empty it generates an ephemeral key pair, so tokens do not survive a
// restart.
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration, logger *slog.Logger) (*JWTManager, error) {
	if privateKeyPath == "" && publicKeyPath == "" {
		logger.Warn("auth: no JWT key files configured, generating ephemeral key pair")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub, expiration: expiration}, nil
	}
	if privateKeyPath == "" || publicKeyPath == "" {
		return nil, errors.New("auth: both private and public key paths are required")
	}

	edPriv, err := readPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	edPub, err := readPublicKey(publicKeyPath)
	if err != nil {
		return nil, err
	}
	// Catches a key pair assembled from two different environments.
	if derived := edPriv.Public().(ed25519.PublicKey); !bytes.Equal(derived, edPub) {
		return nil, errors.New("auth: public key does not match private key")
	}
	return &JWTManager{privateKey: edPriv, publicKey: edPub, expiration: expiration}, nil
}

func readPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("auth: decode private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edKey, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("auth: private key is not Ed25519")
	}
	return edKey, nil
}

func readPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("auth: decode public key PEM")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edKey, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("auth: public key is not Ed25519")
	}
	return edKey, nil
}

// IssueToken signs a token for subject granting scopes.
func (m *JWTManager) IssueToken(subject string, scopes ...string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	return claims, nil
}
