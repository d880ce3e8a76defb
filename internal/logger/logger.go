package logger

import "go.uber.org/zap"

// New returns a console logger for development and a JSON logger otherwise.
func New(isDev bool) (*zap.Logger, error) {
	if isDev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
