package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PPos/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body errs.CodeError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errs.ServerInternalError, body.Code)
	assert.Equal(t, "boom", body.Detail)
}

func TestPOSTWithAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	POST(r, "/open", ok, RouteOpt{})
	POST(r, "/closed", ok, RouteOpt{IsAuth: true, Auth: deny})
	GET(r, "/closed", ok, RouteOpt{IsAuth: true, Auth: deny})

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/open", http.StatusNoContent},
		{http.MethodPost, "/closed", http.StatusUnauthorized},
		{http.MethodGet, "/closed", http.StatusUnauthorized},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, w.Code, tc.method+" "+tc.path)
	}
}
