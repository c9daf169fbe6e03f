package middleware

import (
	"net/http"
	"time"

	"PPos/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery panic 转成 500 + CodeError，带栈记日志
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				log.Error("panic recovered",
					zap.String("path", c.Request.URL.Path),
					zap.Error(err),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, errs.AsCodeError(err))
			}
		}()
		c.Next()
	}
}

// AccessLog 每个请求一行
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)))
	}
}
