package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the root logger and sets the global level. Unknown level
// strings fall back to info. The "pretty" format is for local development;
// anything else emits JSON lines.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := zerolog.New(os.Stdout)
	if format == "pretty" {
		out = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	return out.With().Timestamp().Caller().Logger()
}
