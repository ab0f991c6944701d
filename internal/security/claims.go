package security

import "time"

type TokenClaims struct {
	DeviceID string
	Account  string
	Exp      time.Time
	Issuer   string
	Subject  string
}
