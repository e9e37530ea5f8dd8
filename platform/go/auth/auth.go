// Package auth guards the HTTP trigger endpoints with bearer tokens. Trigger callers are
// infrastructure (schedulers, push subscriptions, pipeline actions) identified by service
// account tokens rather than end users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

type ctxKey string

const (
	ctxCaller ctxKey = "DAPPBOT_TRIGGER_CALLER"
)

// Caller identifies the principal behind a verified token.
type Caller struct {
	Subject       string
	Email         string
	EmailVerified bool
}

func CallerFromContext(ctx context.Context) (*Caller, bool) {
	v := ctx.Value(ctxCaller)
	if v == nil {
		return nil, false
	}
	c, ok := v.(*Caller)
	return c, ok
}

// VerifyFunc validates the incoming token and returns its claims map.
type VerifyFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// Require rejects requests without a valid bearer token. When allowed is non-empty the
// caller's verified email must be listed in it.
func Require(verify VerifyFunc, allowed []string) func(http.Handler) http.Handler {
	if verify == nil {
		panic("auth.Require: verify func must not be nil")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := ExtractBearerToken(r)
			if token == "" || !found {
				w.Header().Set("WWW-Authenticate", `Bearer realm="triggers"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="triggers", error="invalid_token", error_description="%s"`, err.Error()))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			caller, err := CallerFromClaims(claims)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="triggers", error="invalid_token", error_description="invalid claims"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !Allowed(caller, allowed) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Allowed reports whether caller may invoke triggers. An empty allowlist admits any verified token.
func Allowed(caller *Caller, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if caller == nil || caller.Email == "" || !caller.EmailVerified {
		return false
	}
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(strings.TrimSpace(a), caller.Email)
	})
}

// CallerFromClaims converts standard claims into a Caller.
func CallerFromClaims(claims map[string]interface{}) (*Caller, error) {
	if claims == nil {
		return nil, errors.New("missing claims")
	}

	return &Caller{
		Subject:       fallbackStringClaim(claims, []string{"sub", "azp"}, "unknown-caller"),
		Email:         extractStringClaim(claims, "email"),
		EmailVerified: extractBoolClaim(claims, "email_verified"),
	}, nil
}

func extractBoolClaim(claims map[string]interface{}, key string) bool {
	if v, ok := claims[key]; ok {
		if boolVal, valid := v.(bool); valid {
			return boolVal
		}
	}
	return false
}

func extractStringClaim(claims map[string]interface{}, key string) string {
	if v, ok := claims[key]; ok {
		if strVal, valid := v.(string); valid {
			return strVal
		}
	}
	return ""
}

func fallbackStringClaim(claims map[string]interface{}, keys []string, def string) string {
	for _, key := range keys {
		if v := extractStringClaim(claims, key); v != "" {
			return v
		}
	}
	return def
}
