package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"
)

// GoogleIDTokenVerifier returns a VerifyFunc that validates Google-signed OIDC tokens
// minted for audience.
func GoogleIDTokenVerifier(ctx context.Context, audience string) (VerifyFunc, error) {
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("init id token validator: %w", err)
	}

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		payload, err := validator.Validate(ctx, token, audience)
		if err != nil {
			return nil, err
		}

		claims := make(map[string]interface{}, len(payload.Claims)+1)
		for k, v := range payload.Claims {
			claims[k] = v
		}
		claims["sub"] = payload.Subject
		return claims, nil
	}, nil
}

func ExtractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	const prefix = "Bearer "
	// Case-insensitive prefix match.
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}

	return strings.TrimSpace(authHeader[len(prefix):]), true
}
