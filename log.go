package webfile

import (
	"os"

	"github.com/rs/zerolog"
)

var baseLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// SetLogger replaces the package logger. Instances created afterwards
// derive their component loggers from it.
func SetLogger(l zerolog.Logger) {
	baseLogger = l
}

// componentLogger returns a child logger annotated with the component name
// and target URL.
func componentLogger(component, url string) zerolog.Logger {
	return baseLogger.With().Str("component", component).Str("url", url).Logger()
}
