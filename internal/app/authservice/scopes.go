package authservice

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// grantedScopes returns the scopes granted to an access token.
//
// The verify endpoint reports them as space separated list.
// When that is empty the scopes are taken from the "scp" claim of the access token,
// which is a JWT issued by the SSO server. The signature is not checked,
// because the token has just been received from the token endpoint.
func grantedScopes(verified, accessToken string) []string {
	if s := strings.Fields(verified); len(s) > 0 {
		return s
	}
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	switch x := claims["scp"].(type) {
	case string:
		return strings.Fields(x)
	case []any:
		var s []string
		for _, v := range x {
			if v2, ok := v.(string); ok {
				s = append(s, v2)
			}
		}
		return s
	}
	return nil
}
