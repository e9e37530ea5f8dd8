package directory

import (
	"context"
	"fmt"
	"maps"
	"sort"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// FirebaseClient stores billing attributes as Firebase custom claims on the user looked up by email.
type FirebaseClient struct {
	auth *firebaseauth.Client
}

func NewFirebaseClient(auth *firebaseauth.Client) *FirebaseClient {
	return &FirebaseClient{auth: auth}
}

func (c *FirebaseClient) lookup(ctx context.Context, owner string) (*firebaseauth.UserRecord, error) {
	user, err := c.auth.GetUserByEmail(ctx, owner)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, owner)
		}
		return nil, err
	}
	return user, nil
}

func (c *FirebaseClient) GetUserAttributes(ctx context.Context, owner string) ([]Attribute, error) {
	user, err := c.lookup(ctx, owner)
	if err != nil {
		return nil, err
	}
	return claimsToAttributes(user.CustomClaims), nil
}

// UpdateUserAttributes merges attrs into the existing claim set; custom claims are replaced
// wholesale by Firebase, so unrelated claims must be carried over.
func (c *FirebaseClient) UpdateUserAttributes(ctx context.Context, owner string, attrs []Attribute) error {
	user, err := c.lookup(ctx, owner)
	if err != nil {
		return err
	}
	claims := mergeClaims(user.CustomClaims, attrs)
	return c.auth.SetCustomUserClaims(ctx, user.UID, claims)
}

func claimsToAttributes(claims map[string]interface{}) []Attribute {
	attrs := make([]Attribute, 0, len(claims))
	for name, v := range claims {
		attrs = append(attrs, Attribute{Name: name, Value: fmt.Sprint(v)})
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs
}

func mergeClaims(existing map[string]interface{}, attrs []Attribute) map[string]interface{} {
	claims := make(map[string]interface{}, len(existing)+len(attrs))
	maps.Copy(claims, existing)
	for _, a := range attrs {
		claims[a.Name] = a.Value
	}
	return claims
}
