package httpinterface

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	log "github.com/sirupsen/logrus"
)

const (
	// ScopeAdmin grants access to every endpoint.
	ScopeAdmin = "admin"
	// ScopeReadOnly grants access to GET endpoints only.
	ScopeReadOnly = "readonly"

	tokenIssuer = "escrowd"
)

var scopes = map[string]struct{}{
	ScopeAdmin:    {},
	ScopeReadOnly: {},
}

type operatorClaims struct {
	Scope string `json:"scope"`
	jwt.StandardClaims
}

// NewToken returns a bearer token for the operator interface signed with the
// given secret. A zero ttl makes a token that never expires.
func NewToken(secret []byte, scope string, ttl time.Duration) (string, error) {
	if len(secret) <= 0 {
		return "", fmt.Errorf("missing jwt secret")
	}
	if _, ok := scopes[scope]; !ok {
		return "", fmt.Errorf("unknown scope %q", scope)
	}
	now := time.Now()
	claims := operatorClaims{
		Scope: scope,
		StandardClaims: jwt.StandardClaims{
			Issuer:   tokenIssuer,
			IssuedAt: now.Unix(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r.Header.Get("Authorization"))
			if token == "" {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
				return
			}
			claims, err := parseToken(secret, token)
			if err != nil {
				log.WithError(err).Debug("rejected operator token")
				writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid token"))
				return
			}
			if claims.Scope != ScopeAdmin && r.Method != http.MethodGet {
				writeError(w, http.StatusForbidden, fmt.Errorf("insufficient scope"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseToken(secret []byte, token string) (*operatorClaims, error) {
	claims := &operatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if _, ok := scopes[claims.Scope]; !ok {
		return nil, fmt.Errorf("unknown scope %q", claims.Scope)
	}
	return claims, nil
}

func extractBearer(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
