package security

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPos/tools/errs"
	"PPos/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(opts *Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(opts), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	return r
}

func TestMiddlewareAcceptsBearer(t *testing.T) {
	jwt := security.DefaultOptions([]byte("secret"))
	user := uuid.New()
	token, _, err := security.Generate(jwt, user)
	require.NoError(t, err)

	for _, header := range []string{"Bearer " + token, "bearer " + token, token} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", header)
		newEngine(DefaultOptions(jwt)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, user.String(), w.Body.String())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	jwt := security.DefaultOptions([]byte("secret"))
	other, _, err := security.Generate(security.DefaultOptions([]byte("other")), uuid.New())
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + other,
		"garbage":      "Bearer abc",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			newEngine(DefaultOptions(jwt)).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body errs.CodeError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, errs.TokenInvalidError, body.Code)
		})
	}
}

func TestOptionalMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := security.DefaultOptions([]byte("secret"))
	r := gin.New()
	r.GET("/who", OptionalMiddleware(DefaultOptions(jwt)), func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, id.String())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())

	user := uuid.New()
	token, _, err := security.Generate(jwt, user)
	require.NoError(t, err)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, user.String(), w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
