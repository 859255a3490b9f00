package cratesync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims carried by the gateway session token.
// the token is minted and signed by the gateway; the client only reads
// the claims to learn who it is, so parsing is unverified here
type SessionToken struct {
	UserId   Id
	UserName string
}

func ParseSessionTokenUnverified(token string) (*SessionToken, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	sessionToken := &SessionToken{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			sessionToken.UserId = userId
		}
	}
	if userName, ok := claims["user_name"].(string); ok {
		sessionToken.UserName = userName
	}

	return sessionToken, nil
}
