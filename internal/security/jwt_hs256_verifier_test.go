package security_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/DexBinion/nuscape-backend/internal/security"
)

func signHS256(t *testing.T, secret []byte, deviceID, issuer string, exp time.Time) string {
	t.Helper()

	jc := jwt.MapClaims{
		"did":  deviceID,
		"acct": "acct-1",
		"iat":  time.Now().Unix(),
		"exp":  exp.Unix(),
		"iss":  issuer,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestHS256Verifier_VerifyAccessToken(t *testing.T) {
	secret := []byte("supersecret")
	v := security.NewHS256Verifier(string(secret), "nuscape")

	t.Run("valid token", func(t *testing.T) {
		token := signHS256(t, secret, "dev-1", "nuscape", time.Now().Add(1*time.Hour))

		claims, err := v.VerifyAccessToken(token)
		assert.NoError(t, err)
		assert.Equal(t, "dev-1", claims.DeviceID)
		assert.Equal(t, "acct-1", claims.Account)
	})

	t.Run("device id falls back to subject", func(t *testing.T) {
		jc := jwt.MapClaims{
			"sub": "dev-2",
			"iss": "nuscape",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
		s, _ := tok.SignedString(secret)

		claims, err := v.VerifyAccessToken(s)
		assert.NoError(t, err)
		assert.Equal(t, "dev-2", claims.DeviceID)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signHS256(t, secret, "dev-1", "nuscape", time.Now().Add(-1*time.Minute))

		_, err := v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, security.ErrTokenExpired)
	})

	t.Run("wrong signature", func(t *testing.T) {
		token := signHS256(t, []byte("othersecret"), "dev-1", "nuscape", time.Now().Add(1*time.Hour))

		_, err := v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := signHS256(t, secret, "dev-1", "someone-else", time.Now().Add(1*time.Hour))

		_, err := v.VerifyAccessToken(token)
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("missing device id", func(t *testing.T) {
		jc := jwt.MapClaims{
			"iss": "nuscape",
			"exp": time.Now().Add(time.Hour).Unix(),
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jc)
		s, _ := tok.SignedString(secret)

		_, err := v.VerifyAccessToken(s)
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := v.VerifyAccessToken("not.a.jwt")
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		jc := jwt.MapClaims{
			"did": "dev-1",
			"exp": time.Now().Add(1 * time.Hour).Unix(),
		}
		tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jc)
		s, _ := tok.SignedString(secret)

		_, err := v.VerifyAccessToken(s)
		assert.ErrorIs(t, err, security.ErrTokenInvalid)
	})
}
