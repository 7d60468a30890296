// Package github mints short-lived installation tokens for cloning private
// repositories as a GitHub App.
package github

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// MaxJWTDuration is the longest app JWT GitHub accepts.
const MaxJWTDuration = 10 * time.Minute

// Clock skew allowance applied to the issued-at claim.
const issuedAtSkew = 60 * time.Second

// signAppJWT creates an RS256 app JWT valid for ttl starting at now.
func signAppJWT(appID string, key *rsa.PrivateKey, now time.Time, ttl time.Duration) (string, error) {
	if appID == "" {
		return "", fmt.Errorf("app ID cannot be empty")
	}
	if ttl <= 0 || ttl > MaxJWTDuration {
		return "", fmt.Errorf("JWT lifetime %v outside (0, %v]", ttl, MaxJWTDuration)
	}

	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-issuedAtSkew)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app JWT: %w", err)
	}
	return signed, nil
}

// parsePrivateKey accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8 PEM keys.
func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if block.Type == "RSA PRIVATE KEY" {
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
