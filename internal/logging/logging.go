// Package logging builds the logrus logger shared by the server and library.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config selects the log level and output format.
type Config struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// New returns a logger writing to stderr.
func New(cfg Config) (*logrus.Logger, error) {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(w)

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}
	return logger, nil
}
