package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/mluukkai/gptwrapper/pkg/config"
)

// Logger represents a logger instance
type Logger = *logrus.Logger

// Fields represents structured logging fields
type Fields = logrus.Fields

// NewLogger creates a new configured logger instance
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger with a service field
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger = logger.WithField("service", serviceName).Logger
	return logger
}
