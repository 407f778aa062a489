/*
Copyright The CloudNativePG Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log is the structured logging facility shared by every component
// of the backup engine. It wraps go.uber.org/zap behind a go-logr/logr
// front door, the way the rest of this codebase's ancestry does, so that
// every package depends on the small logr.Logger interface rather than on
// zap directly.
package log

import (
	"context"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log level names as accepted on the command line.
const (
	ErrorLevelString   = "error"
	WarningLevelString = "warning"
	InfoLevelString    = "info"
	DebugLevelString   = "debug"
	TraceLevelString   = "trace"
	DefaultLevelString = InfoLevelString
)

// Log levels, mapped onto zapcore levels. Trace doesn't exist as a named
// zap level, so it sits one level below debug and is named on the way out
// by the level encoder installed in NewLogger.
const (
	ErrorLevel   = zapcore.ErrorLevel
	WarningLevel = zapcore.WarnLevel
	InfoLevel    = zapcore.InfoLevel
	DebugLevel   = zapcore.DebugLevel
	TraceLevel   = zapcore.Level(zapcore.DebugLevel - 1)
	DefaultLevel = InfoLevel
)

type loggerKey struct{}

var globalLogger = logr.Discard()

// SetLogger installs the logger used by every package-level helper in this
// file and returned by FromContext when the context carries none.
func SetLogger(logger logr.Logger) {
	globalLogger = logger
}

// GetLogger returns the currently installed global logger.
func GetLogger() logr.Logger {
	return globalLogger
}

// FromContext returns the logger attached to ctx, or the global logger if
// none was attached with IntoContext.
func FromContext(ctx context.Context) logr.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(logr.Logger); ok {
		return logger
	}
	return globalLogger
}

// IntoContext attaches logger to ctx.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Error logs err at error level with msg and the given key/value pairs.
func Error(err error, msg string, keysAndValues ...interface{}) {
	globalLogger.Error(err, msg, keysAndValues...)
}

// Warning logs msg through logr at V(0), the same zap level as Info (logr
// has no warning level), so it is dropped when the level is warning or
// error.
func Warning(msg string, keysAndValues ...interface{}) {
	globalLogger.V(warningVerbosity).Info(msg, keysAndValues...)
}

// Info logs msg at info level.
func Info(msg string, keysAndValues ...interface{}) {
	globalLogger.Info(msg, keysAndValues...)
}

// Debug logs msg at debug level.
func Debug(msg string, keysAndValues ...interface{}) {
	globalLogger.V(debugVerbosity).Info(msg, keysAndValues...)
}

// Trace logs msg at trace level, the most verbose level this package
// defines.
func Trace(msg string, keysAndValues ...interface{}) {
	globalLogger.V(traceVerbosity).Info(msg, keysAndValues...)
}

// logr verbosity levels corresponding to the zap levels above the default
// (info, V(0)) level.
const (
	warningVerbosity = 0
	debugVerbosity   = 1
	traceVerbosity   = 2
)

// NewLogger builds a ready-to-use logr.Logger backed by zap, writing
// console-encoded, leveled output to destination (os.Stderr if nil). level
// selects the minimum level that will actually be emitted.
func NewLogger(level zapcore.Level, destination *os.File) logr.Logger {
	if destination == nil {
		destination = os.Stderr
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = levelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(destination)),
		toZapLevel(level),
	)

	return zapr.NewLogger(zap.New(core))
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case ErrorLevel:
		enc.AppendString(ErrorLevelString)
	case WarningLevel:
		enc.AppendString(WarningLevelString)
	case InfoLevel:
		enc.AppendString(InfoLevelString)
	case DebugLevel:
		enc.AppendString(DebugLevelString)
	default:
		enc.AppendString(TraceLevelString)
	}
}

func toZapLevel(level zapcore.Level) zapcore.Level {
	if level < DebugLevel {
		// trace requests ask zap (which has no named level below debug)
		// for everything down to TraceLevel, so V(2) output is emitted
		return TraceLevel
	}
	return level
}

// ParseLevel converts one of the *LevelString constants into its zapcore
// level, falling back to DefaultLevel for anything unrecognized.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case ErrorLevelString:
		return ErrorLevel
	case WarningLevelString:
		return WarningLevel
	case InfoLevelString:
		return InfoLevel
	case DebugLevelString:
		return DebugLevel
	case TraceLevelString:
		return TraceLevel
	default:
		return DefaultLevel
	}
}
