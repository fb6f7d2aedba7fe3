package util

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. It writes to stderr, which doubles as
// the operator channel for escalated failures such as audit write errors.
func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}
