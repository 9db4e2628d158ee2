// Package logging constructs the logrus logger shared by both daemons,
// with optional file output and rotation.
package logging

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kylerisse/laeuft/pkg/config"
)

// New builds a logger from the given config. An unknown level falls
// back to info. When a file is configured, output rotates by size and
// age; otherwise logs go to stderr.
func New(cfg config.Log) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if cfg.File != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return logger
}
