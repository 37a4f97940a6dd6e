// Package jwt builds the signed OAuth2 assertions exchanged for FCM access
// tokens.
package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/jgaa/go-push/internal/credential"
)

// Scope is the OAuth scope requested for every assertion.
const Scope = "https://www.googleapis.com/auth/firebase.messaging"

// Signer produces signed JWT assertions for a single service account.
type Signer struct {
	account credential.ServiceAccount
	ttl     time.Duration
}

// NewSigner constructs a Signer. The assertion lifetime is fixed at
// construction; each call to Assertion stamps the current time.
func NewSigner(account credential.ServiceAccount, ttl time.Duration) *Signer {
	return &Signer{account: account, ttl: ttl}
}

type scopeClaim struct {
	Scope string `json:"scope"`
}

// Assertion signs a fresh JWT-bearer grant. Each assertion is used for
// exactly one token exchange and never reused.
func (s *Signer) Assertion(now time.Time) (string, error) {
	key, err := parsePrivateKey([]byte(s.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: key},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.account.PrivateKeyID),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	claims := gojwt.Claims{
		Issuer:   s.account.ClientEmail,
		Subject:  s.account.ClientEmail,
		Audience: gojwt.Audience{s.account.TokenURI},
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(s.ttl)),
	}

	assertion, err := gojwt.Signed(signer).Claims(claims).Claims(scopeClaim{Scope: Scope}).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize assertion: %w", err)
	}
	return assertion, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is %T, want *rsa.PrivateKey", key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("unsupported key format: %w", err)
	}
	return key, nil
}
