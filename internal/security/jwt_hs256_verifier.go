package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type HS256Verifier struct {
	secret []byte
	issuer string
}

func NewHS256Verifier(secret, issuer string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret), issuer: issuer}
}

type deviceClaims struct {
	DeviceID string `json:"did"`
	Account  string `json:"acct"`
	jwt.RegisteredClaims
}

func (v *HS256Verifier) VerifyAccessToken(token string) (TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &deviceClaims{}, func(t *jwt.Token) (any, error) {
		// prevent alg confusion
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrTokenInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrTokenExpired
		}
		return TokenClaims{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*deviceClaims)
	if !ok || !parsed.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return TokenClaims{}, ErrTokenInvalid
	}

	deviceID := claims.DeviceID
	if deviceID == "" {
		deviceID = claims.Subject
	}
	if deviceID == "" {
		return TokenClaims{}, ErrTokenInvalid
	}

	exp := time.Time{}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	return TokenClaims{
		DeviceID: deviceID,
		Account:  claims.Account,
		Exp:      exp,
		Issuer:   claims.Issuer,
		Subject:  claims.Subject,
	}, nil
}
