package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

// TokenIssuer identifies tokens minted by this server.
const TokenIssuer = "roomchat"

// ErrInvalidToken is returned for malformed, forged or expired tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// GenerateToken signs payload with HS256. A zero ttl produces a token without
// an expiry claim; such tokens stay valid until revoked.
func GenerateToken(payload *Payload, secretKey string, ttl time.Duration) (string, error) {
	now := time.Now()

	payload.IssuedAt = now.Unix()
	payload.Issuer = TokenIssuer
	payload.Subject = payload.Username
	if ttl > 0 {
		payload.ExpiresAt = now.Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken verifies the signature and time claims of tokenString.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	if !token.Valid || claims.Issuer != TokenIssuer || claims.Id == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ParseSignedToken verifies only the signature and issuer of tokenString,
// skipping time-based claims. It lets an expired session still be revoked.
func ParseSignedToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}
	parser := &jwt.Parser{SkipClaimsValidation: true}

	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	if claims.Issuer != TokenIssuer || claims.Id == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
