// README: Bearer token verification for tokens issued by the entity store.
package infra

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token holds the verified token data used by downstream middleware.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// TokenVerifier verifies a raw bearer token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

var ErrNoSubject = errors.New("token has no subject")

type jwtVerifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewJWTVerifier verifies HMAC-signed tokens with secret. A non-empty issuer
// is required to match the iss claim.
func NewJWTVerifier(secret []byte, issuer string) TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &jwtVerifier{secret: secret, opts: opts}
}

func (v *jwtVerifier) VerifyIDToken(_ context.Context, idToken string) (*Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrNoSubject
	}
	return &Token{UID: sub, Claims: claims}, nil
}
