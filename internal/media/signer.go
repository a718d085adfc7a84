// Package media mints short-lived signed access URLs for proof objects.
// The core never handles raw media: proofs are opaque blob store paths,
// and viewers get a signed token the blob gateway can verify.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

var ErrTokenExpired = errors.New("access token has expired")

type accessClaims struct {
	Path      string `json:"path"`
	ExpiresAt int64  `json:"exp"`
}

type Signer struct {
	signer  jose.Signer
	key     []byte
	baseURL string
	ttl     time.Duration
}

func NewSigner(key []byte, baseURL string, ttl time.Duration) (*Signer, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media signer: %w", err)
	}
	return &Signer{signer: signer, key: key, baseURL: baseURL, ttl: ttl}, nil
}

// SignedURL returns a gateway URL carrying a signed, expiring claim over
// the storage path.
func (s *Signer) SignedURL(path string) (string, error) {
	claims := accessClaims{
		Path:      path,
		ExpiresAt: time.Now().Add(s.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	obj, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	token, err := obj.CompactSerialize()
	if err != nil {
		return "", err
	}
	return s.baseURL + "?token=" + token, nil
}

// VerifyToken checks the signature and expiry and returns the storage
// path the token grants access to.
func (s *Signer) VerifyToken(token string) (string, error) {
	obj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", fmt.Errorf("malformed access token: %w", err)
	}
	payload, err := obj.Verify(s.key)
	if err != nil {
		return "", fmt.Errorf("invalid access token signature: %w", err)
	}
	var claims accessClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", err
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return "", ErrTokenExpired
	}
	return claims.Path, nil
}
