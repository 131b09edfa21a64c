package logger

import (
	"go.uber.org/zap"
)

// New returns a development logger when dev is set, a JSON production
// logger otherwise.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	return zap.NewProduction()
}
