// Package log is the agent's leveled console logger.
package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	// Human-readable output on stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// SetOutput redirects the logger; tests pass a buffer.
func SetOutput(w io.Writer) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, NoColor: true})
}

// SetLevel sets the global level from a name such as "debug" or "warn".
// Unknown names fall back to info.
func SetLevel(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil || l == zerolog.NoLevel {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}

// With returns ctx carrying a logger that adds key=value to every line
// logged through ctx.
func With(ctx context.Context, key, value string) context.Context {
	l := from(ctx).With().Str(key, value).Logger()
	return l.WithContext(ctx)
}

// from returns the logger attached to ctx, or the global one.
func from(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func Debugf(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Debug().Msgf(format, args...)
}

func Infof(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Info().Msgf(format, args...)
}

func Warnf(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Warn().Msgf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Error().Msgf(format, args...)
}

func Fatalf(ctx context.Context, format string, args ...interface{}) {
	from(ctx).Fatal().Msgf(format, args...)
	panic(fmt.Sprintf(format, args...))
}
