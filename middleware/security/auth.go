package security

import (
	"net/http"
	"strings"

	"PPos/tools/errs"
	"PPos/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// 后续 handler 统一用这个 key 读取当前用户
const PPCtxUserIDKey = "userID"

type Options struct {
	// 读取哪个请求头，默认 "authorization"，兼容 "Bearer xxx"
	HeaderToken string
	JWT         security.Options
}

func DefaultOptions(jwt security.Options) *Options {
	return &Options{
		HeaderToken: "Authorization",
		JWT:         jwt,
	}
}

// Middleware 校验 JWT，sub 写入 context；失败返回 401 + ErrTokenInvalid
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader(opts.HeaderToken))
		if token == "" {
			abort(c, errs.ErrTokenInvalid.WithDetail("missing token"))
			return
		}
		claims, err := security.Verify(opts.JWT, token)
		if err != nil {
			abort(c, errs.AsCodeError(err))
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			abort(c, errs.AsCodeError(err))
			return
		}
		c.Set(PPCtxUserIDKey, userID)
		c.Next()
	}
}

// OptionalMiddleware 没带 token 时按匿名放行；带了但无效仍然 401
func OptionalMiddleware(opts *Options) gin.HandlerFunc {
	required := Middleware(opts)
	return func(c *gin.Context) {
		if bearer(c.GetHeader(opts.HeaderToken)) == "" {
			c.Next()
			return
		}
		required(c)
	}
}

// UserID 取当前用户，未经过 Middleware 时 ok 为 false
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(PPCtxUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

func bearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return header
}

func abort(c *gin.Context, e *errs.CodeError) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, e)
}
