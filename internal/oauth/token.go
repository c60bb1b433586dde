package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PKCEMethodS256 is the only supported code challenge method.
const PKCEMethodS256 = "S256"

type accessClaims struct {
	ClientID    string   `json:"cid"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs an access token for props.
func (p *Provider) IssueAccessToken(props Props) (string, time.Time, error) {
	now := p.now()
	expires := now.Add(p.cfg.AccessTokenTTL)
	claims := accessClaims{
		ClientID:    props.ClientID,
		Permissions: props.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   props.Subject,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// VerifyAccessToken checks signature, expiry and issuer and returns the
// caller's props.
func (p *Provider) VerifyAccessToken(tokenStr string) (Props, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{}, func(*jwt.Token) (any, error) {
		return p.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return Props{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Props{}, ErrInvalidToken
	}
	return Props{
		Subject:     claims.Subject,
		ClientID:    claims.ClientID,
		Permissions: claims.Permissions,
	}, nil
}

// randomToken returns n random bytes, base64url encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CodeChallenge derives the S256 challenge for verifier.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeChallenge checks a PKCE verifier against its S256 challenge.
func VerifyCodeChallenge(verifier, challenge, method string) error {
	if method != "" && method != PKCEMethodS256 {
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return errors.New("code_verifier must be 43 to 128 characters")
	}
	if subtle.ConstantTimeCompare([]byte(CodeChallenge(verifier)), []byte(challenge)) != 1 {
		return errors.New("code_verifier does not match code_challenge")
	}
	return nil
}
