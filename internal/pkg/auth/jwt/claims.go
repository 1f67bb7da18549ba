package jwt

import "github.com/golang-jwt/jwt"

// Payload is the claim set of a device session token.
//
// StandardClaims.Id carries the token id, which is the key of the device
// record; a token whose id has been removed from the device store is revoked
// even though its signature is still valid.
type Payload struct {
	jwt.StandardClaims

	// Username is the stable identity of the token holder.
	Username string `json:"username"`

	// Device is the device label the session was issued for (e.g. "web", "phone").
	Device string `json:"device"`
}
