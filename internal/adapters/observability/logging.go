package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide zerolog Logger from the AppEnv setting.
// Both binaries emit JSON lines on stdout; a dev environment swaps in the
// console writer so local runs stay readable.
func NewLogger(env string) zerolog.Logger {
	if env == "dev" || env == "development" {
		w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(w).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
