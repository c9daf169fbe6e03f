package security

import (
	"errors"
	"testing"
	"time"

	"PPos/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	user := uuid.New()

	token, exp, err := Generate(opts, user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, 5*time.Second)

	claims, err := Verify(opts, token)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	token, _, err := Generate(opts, uuid.New())
	require.NoError(t, err)

	cases := map[string]struct {
		opts  Options
		token string
	}{
		"wrong secret": {DefaultOptions([]byte("other")), token},
		"garbage":      {opts, "not.a.token"},
		"wrong alg":    {Options{Secret: []byte("secret"), Alg: "HS512"}, token},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Verify(tc.opts, tc.token)
			assert.True(t, errors.Is(err, errs.ErrTokenInvalid), "%v", err)
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	opts := DefaultOptions([]byte("secret"))
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := tok.SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = Verify(opts, signed)
	assert.True(t, errors.Is(err, errs.ErrTokenInvalid))
}

func TestClaimsUserIDRequiresUUID(t *testing.T) {
	c := &JWTClaims{jwtlib.MapClaims{"sub": "alice"}}
	_, err := c.UserID()
	assert.True(t, errors.Is(err, errs.ErrTokenInvalid))

	c = &JWTClaims{jwtlib.MapClaims{}}
	_, err = c.UserID()
	assert.True(t, errors.Is(err, errs.ErrTokenInvalid))
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("s"), Alg: "RS256"}, uuid.New())
	assert.True(t, errors.Is(err, errs.ErrArgs))
}
