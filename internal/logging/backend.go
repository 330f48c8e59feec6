package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the process-wide log backend.
type Options struct {
	Path  string // log file; "-" writes to stderr
	Level string // debug, info, warn, error
}

// DefaultLogPath is ~/autoloom-debug.log.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "autoloom-debug.log"
	}
	return filepath.Join(home, "autoloom-debug.log")
}

var backend atomic.Pointer[zap.Logger]

// Configure installs the zap backend behind every component logger and
// returns a flush-and-close func.
func Configure(opts Options) (func() error, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	path := opts.Path
	if path == "" {
		path = DefaultLogPath()
	}

	var (
		sink    zapcore.WriteSyncer
		closeFn = func() error { return nil }
	)
	if path == "-" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.AddSync(file)
		closeFn = file.Close
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "component",
		CallerKey:        "caller",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:      bracketLevelEncoder,
		EncodeName:       bracketNameEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	backend.Store(logger)

	return func() error {
		_ = logger.Sync()
		backend.Store(nil)
		return closeFn()
	}, nil
}

// UseZap installs an existing zap logger, mainly for tests.
func UseZap(logger *zap.Logger) {
	backend.Store(logger)
}

func bracketLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

func bracketNameEncoder(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + name + "]")
}

// zapLogger resolves the backend on every call so loggers created before
// Configure still reach the file.
type zapLogger struct {
	name string
}

func (l *zapLogger) Debug(format string, args ...any) { l.log(zapcore.DebugLevel, format, args...) }
func (l *zapLogger) Info(format string, args ...any)  { l.log(zapcore.InfoLevel, format, args...) }
func (l *zapLogger) Warn(format string, args ...any)  { l.log(zapcore.WarnLevel, format, args...) }
func (l *zapLogger) Error(format string, args ...any) { l.log(zapcore.ErrorLevel, format, args...) }

func (l *zapLogger) log(level zapcore.Level, format string, args ...any) {
	base := backend.Load()
	if base == nil {
		return
	}
	if ce := base.Named(l.name).Check(level, ""); ce != nil {
		ce.Message = sanitize(fmt.Sprintf(format, args...))
		ce.Write()
	}
}

var (
	bearerTokenPattern      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	standaloneSecretPattern = regexp.MustCompile(`(sk-[A-Za-z0-9\-_]{16,}|AIza[0-9A-Za-z\-_]{20,})`)
)

const redacted = "[REDACTED]"

func sanitize(line string) string {
	line = bearerTokenPattern.ReplaceAllString(line, "${1}"+redacted)
	return standaloneSecretPattern.ReplaceAllString(line, redacted)
}
