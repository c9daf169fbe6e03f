package mongoutil

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

func buildMongoURI(config *Config, authSource string) string {
	host := strings.Join(config.Address, ",")
	if config.Username != "" && config.Password != "" {
		host = fmt.Sprintf("%s:%s@%s", config.Username, config.Password, host)
	}
	return fmt.Sprintf(
		"mongodb://%s/%s?authSource=%s&maxPoolSize=%d",
		host,
		config.Database,
		authSource,
		config.MaxPoolSize,
	)
}

// shouldRetry determines whether an error should trigger a retry.
// 13 Unauthorized / 18 AuthenticationFailed 重试也没用
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != 13 && cmdErr.Code != 18
	}
	return true
}
