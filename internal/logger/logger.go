package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var root zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	root = zerolog.New(out).With().Timestamp().Logger()
}

// Component returns a logger tagged for one subsystem.
func Component(name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}

// SetLevel adjusts the global log level, e.g. for --quiet or test runs.
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

// UserHash returns a short stable digest of a user id. Raw user ids never
// reach the logs.
func UserHash(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:6])
}
