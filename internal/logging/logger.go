// Package logging provides category-based structured logging for the
// Spacebot kernel, backed by zap.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logical subsystem for routing and filtering logs.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryKernel    Category = "kernel"
	CategoryRegistry  Category = "registry"
	CategoryChannel   Category = "channel"
	CategoryBranch    Category = "branch"
	CategoryWorker    Category = "worker"
	CategoryCompactor Category = "compactor"
	CategoryCortex    Category = "cortex"
	CategoryStatus    Category = "status"
	CategoryMemory    Category = "memory"
	CategoryEmbedding Category = "embedding"
	CategoryStore     Category = "store"
	CategoryLLM       Category = "llm"
	CategoryAdapter   Category = "adapter"
)

var (
	mu       sync.RWMutex
	base     *zap.Logger
	sugars   = map[Category]*zap.SugaredLogger{}
	debug    bool
	initOnce sync.Once
)

// Initialize configures the package-level logger. Safe to call multiple
// times; only the first call takes effect. When debugMode is true the
// logger runs at debug level with human-readable console output whatever
// jsonFormat says; when false it runs at info level, with JSON output if
// jsonFormat is true and console output if it is false.
func Initialize(debugMode bool, jsonFormat bool) error {
	var err error
	initOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		if debugMode {
			cfg = zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		if jsonFormat && !debugMode {
			cfg.Encoding = "json"
		} else if !jsonFormat {
			cfg.Encoding = "console"
		}
		var l *zap.Logger
		l, err = cfg.Build()
		if err != nil {
			return
		}
		mu.Lock()
		base = l
		debug = debugMode
		mu.Unlock()
	})
	return err
}

// IsDebugMode reports whether the logger was initialized in debug mode.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debug
}

func ensureBase() *zap.Logger {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		return l
	}
	_ = Initialize(false, true)
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Logger is a per-category structured logger.
type Logger struct {
	sugar *zap.SugaredLogger
}

// Get returns the logger for a category, creating and caching it on first
// use. Never returns nil.
func Get(category Category) *Logger {
	mu.RLock()
	s, ok := sugars[category]
	mu.RUnlock()
	if ok {
		return &Logger{sugar: s}
	}

	l := ensureBase()
	s = l.Named(string(category)).Sugar()

	mu.Lock()
	sugars[category] = s
	mu.Unlock()

	return &Logger{sugar: s}
}

// Debug logs at debug level using printf-style formatting.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs at info level using printf-style formatting.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs at warn level using printf-style formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs at error level using printf-style formatting.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// StructuredLog logs a message with attached key-value fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	switch level {
	case "debug":
		l.sugar.Debugw(msg, args...)
	case "warn":
		l.sugar.Warnw(msg, args...)
	case "error":
		l.sugar.Errorw(msg, args...)
	default:
		l.sugar.Infow(msg, args...)
	}
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}

// =============================================================================
// CATEGORY SHORTHAND HELPERS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{})  { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})   { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{})  { Get(CategoryBoot).Error(format, args...) }

func Kernel(format string, args ...interface{})     { Get(CategoryKernel).Info(format, args...) }
func KernelDebug(format string, args ...interface{}) { Get(CategoryKernel).Debug(format, args...) }
func KernelWarn(format string, args ...interface{}) { Get(CategoryKernel).Warn(format, args...) }
func KernelError(format string, args ...interface{}) { Get(CategoryKernel).Error(format, args...) }

func Registry(format string, args ...interface{})     { Get(CategoryRegistry).Info(format, args...) }
func RegistryDebug(format string, args ...interface{}) { Get(CategoryRegistry).Debug(format, args...) }
func RegistryWarn(format string, args ...interface{}) { Get(CategoryRegistry).Warn(format, args...) }
func RegistryError(format string, args ...interface{}) { Get(CategoryRegistry).Error(format, args...) }

func Channel(format string, args ...interface{})     { Get(CategoryChannel).Info(format, args...) }
func ChannelDebug(format string, args ...interface{}) { Get(CategoryChannel).Debug(format, args...) }
func ChannelWarn(format string, args ...interface{}) { Get(CategoryChannel).Warn(format, args...) }
func ChannelError(format string, args ...interface{}) { Get(CategoryChannel).Error(format, args...) }

func Branch(format string, args ...interface{})     { Get(CategoryBranch).Info(format, args...) }
func BranchDebug(format string, args ...interface{}) { Get(CategoryBranch).Debug(format, args...) }
func BranchWarn(format string, args ...interface{}) { Get(CategoryBranch).Warn(format, args...) }
func BranchError(format string, args ...interface{}) { Get(CategoryBranch).Error(format, args...) }

func Worker(format string, args ...interface{})     { Get(CategoryWorker).Info(format, args...) }
func WorkerDebug(format string, args ...interface{}) { Get(CategoryWorker).Debug(format, args...) }
func WorkerWarn(format string, args ...interface{}) { Get(CategoryWorker).Warn(format, args...) }
func WorkerError(format string, args ...interface{}) { Get(CategoryWorker).Error(format, args...) }

func Compactor(format string, args ...interface{})     { Get(CategoryCompactor).Info(format, args...) }
func CompactorDebug(format string, args ...interface{}) { Get(CategoryCompactor).Debug(format, args...) }
func CompactorWarn(format string, args ...interface{}) { Get(CategoryCompactor).Warn(format, args...) }
func CompactorError(format string, args ...interface{}) { Get(CategoryCompactor).Error(format, args...) }

func Cortex(format string, args ...interface{})     { Get(CategoryCortex).Info(format, args...) }
func CortexDebug(format string, args ...interface{}) { Get(CategoryCortex).Debug(format, args...) }
func CortexWarn(format string, args ...interface{}) { Get(CategoryCortex).Warn(format, args...) }
func CortexError(format string, args ...interface{}) { Get(CategoryCortex).Error(format, args...) }

func Status(format string, args ...interface{})     { Get(CategoryStatus).Info(format, args...) }
func StatusDebug(format string, args ...interface{}) { Get(CategoryStatus).Debug(format, args...) }

func Memory(format string, args ...interface{})     { Get(CategoryMemory).Info(format, args...) }
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debug(format, args...) }
func MemoryWarn(format string, args ...interface{}) { Get(CategoryMemory).Warn(format, args...) }
func MemoryError(format string, args ...interface{}) { Get(CategoryMemory).Error(format, args...) }

func Embedding(format string, args ...interface{})     { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) { Get(CategoryEmbedding).Debug(format, args...) }
func EmbeddingWarn(format string, args ...interface{}) { Get(CategoryEmbedding).Warn(format, args...) }

func Store(format string, args ...interface{})     { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{}) { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func LLM(format string, args ...interface{})     { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }
func LLMWarn(format string, args ...interface{}) { Get(CategoryLLM).Warn(format, args...) }
func LLMError(format string, args ...interface{}) { Get(CategoryLLM).Error(format, args...) }

func Adapter(format string, args ...interface{})     { Get(CategoryAdapter).Info(format, args...) }
func AdapterDebug(format string, args ...interface{}) { Get(CategoryAdapter).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures an operation's duration and logs it on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs at warn level if elapsed exceeds threshold,
// otherwise at debug level.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
