package logger

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger 创建服务的 zap.Logger。
// EVENT_FETCH_ENV=production 时输出 JSON，其他情况用开发版输出。
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("EVENT_FETCH_ENV") == "production" {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		return logger.With(zap.String("service", "event-fetch")), nil
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return logger, nil
}
