// Package logging configures the global zerolog logger and carries an
// operation id through contexts so that all lines of one tick or request
// can be correlated.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global level and output. pretty selects the human console
// writer; otherwise lines are JSON.
func Setup(level string, pretty bool) {
	SetupWriter(os.Stderr, level, pretty)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const operationIDKey contextKey = "operationId"

// GenerateOperationID creates an 8-character hex id.
func GenerateOperationID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithOperationID injects an operation id into the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// NewOperation returns ctx tagged with a freshly generated operation id.
func NewOperation(ctx context.Context) context.Context {
	return WithOperationID(ctx, GenerateOperationID())
}

// OperationID retrieves the operation id from the context, or "".
func OperationID(ctx context.Context) string {
	if id, ok := ctx.Value(operationIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns the global logger, tagged with the context's operation id.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if id := OperationID(ctx); id != "" {
		l = l.With().Str("op", id).Logger()
	}
	return &l
}
