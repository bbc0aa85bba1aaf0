package logger

import (
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	mu   sync.RWMutex
	once sync.Once
)

// Options controls how the global logger is built
type Options struct {
	Debug   bool
	LogFile string // Rotated JSON log file, empty disables file output

	// Rotation limits for LogFile
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Init initializes the global logger with console output only
func Init(debug bool) {
	InitWithOptions(Options{Debug: debug})
}

// InitWithFile initializes the global logger with both console and file output
func InitWithFile(debug bool, logFile string) {
	InitWithOptions(Options{Debug: debug, LogFile: logFile})
}

// InitWithOptions initializes the global logger once; later calls are no-ops
func InitWithOptions(opts Options) {
	once.Do(func() {
		l := build(opts)
		mu.Lock()
		log = l
		mu.Unlock()
	})
}

func build(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	encoderConfig := zap.NewProductionEncoderConfig()
	if opts.Debug {
		level = zapcore.DebugLevel
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	}

	if opts.LogFile != "" {
		if opts.MaxSizeMB == 0 {
			opts.MaxSizeMB = 50
		}
		if opts.MaxBackups == 0 {
			opts.MaxBackups = 5
		}
		if opts.MaxAgeDays == 0 {
			opts.MaxAgeDays = 30
		}
		fileEncoder := zap.NewProductionEncoderConfig()
		fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoder),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   opts.LogFile,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
			}),
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Get returns the global logger
func Get() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l == nil {
		Init(false)
		mu.RLock()
		l = log
		mu.RUnlock()
	}
	return l
}

// Stage returns the global logger annotated with a pipeline stage name
func Stage(name string) *zap.Logger {
	return Get().With(zap.String("stage", name))
}

// Replace swaps the global logger and returns a function restoring the previous one.
// Tests use it with zap.NewNop or an observer core.
func Replace(l *zap.Logger) func() {
	once.Do(func() {})
	mu.Lock()
	prev := log
	log = l
	mu.Unlock()
	return func() {
		mu.Lock()
		log = prev
		mu.Unlock()
	}
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
