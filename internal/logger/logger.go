package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger.
// format is "console" for human readable output, anything else means JSON.
func Init(level, format string) {
	Setup(os.Stdout, level, format)
}

func Setup(out io.Writer, level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}).
			With().
			Timestamp().
			Caller().
			Logger()
		return
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Logger()
}
