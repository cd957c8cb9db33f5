package config

import (
	"go.uber.org/zap"
)

// setLogger builds the zap logger for the given APP_ENV. Production gets the
// sampled JSON logger, development the console logger, anything else the
// example logger used in local runs and tests.
func setLogger(env string) (*zap.Logger, error) {
	switch env {
	case "production":
		return zap.NewProduction()
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewExample(), nil
	}
}
