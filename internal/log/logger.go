package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func New(environment, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, environment, level)
}

// NewWithWriter builds the service logger on top of out. An empty or unknown
// level means debug outside production and info in it.
func NewWithWriter(out io.Writer, environment, level string) zerolog.Logger {
	production := environment == "production"
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    production || out != os.Stdout,
	}

	zerolog.SetGlobalLevel(globalLevel(production, level))

	ctx := zerolog.New(output).With().
		Timestamp().
		Str("service", "facesync").
		Str("env", environment)
	if !production {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func globalLevel(production bool, level string) zerolog.Level {
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		return parsed
	}
	if production {
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}
