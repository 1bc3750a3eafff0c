// Package zerologr adapts github.com/rs/zerolog to logr.Logger.
package zerologr

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/huangjunwen/asyncrt/logr"
)

// Logger implements github.com/huangjunwen/asyncrt/logr::Logger interface using
// github.com/rs/zerolog::Logger.
type Logger zerolog.Logger

var (
	_ logr.Logger = (*Logger)(nil)
)

// New wraps a zerolog logger.
func New(l zerolog.Logger) *Logger {
	return (*Logger)(&l)
}

func (logger *Logger) Info(msg string, keysAndValues ...interface{}) {
	l := (*zerolog.Logger)(logger)
	l.Info().Fields(fields(keysAndValues)).Msg(msg)
}

func (logger *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	l := (*zerolog.Logger)(logger)
	l.Error().Err(err).Fields(fields(keysAndValues)).Msg(msg)
}

func (logger *Logger) WithValues(keysAndValues ...interface{}) logr.Logger {
	l := (*zerolog.Logger)(logger)
	child := l.With().Fields(fields(keysAndValues)).Logger()
	return (*Logger)(&child)
}

// fields converts key/value pairs to a map. A dangling key gets a nil value,
// non string keys are formatted with %v.
func fields(keysAndValues []interface{}) map[string]interface{} {
	ret := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		var val interface{}
		if i+1 < len(keysAndValues) {
			val = keysAndValues[i+1]
		}
		ret[key] = val
	}
	return ret
}
