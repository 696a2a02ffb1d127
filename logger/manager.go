package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Manager hands out one CtxZapLogger per module and owns the rotating
// file writers behind them.
type Manager struct {
	cfg     ManagerConfig
	loggers map[string]*CtxZapLogger
	bases   map[string]*zap.Logger
	writers map[string][]*lumberjack.Logger
	mu      sync.RWMutex
}

// NewManager creates an isolated Manager. Zero-valued fields of cfg are
// filled with defaults.
func NewManager(cfg ManagerConfig) *Manager {
	cfg.ApplyDefaults()
	return &Manager{
		cfg:     cfg,
		loggers: make(map[string]*CtxZapLogger),
		bases:   make(map[string]*zap.Logger),
		writers: make(map[string][]*lumberjack.Logger),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

// GetLogger returns the logger bound to module, creating it on first use.
func (m *Manager) GetLogger(module string) *CtxZapLogger {
	m.mu.RLock()
	if l, ok := m.loggers[module]; ok {
		m.mu.RUnlock()
		return l
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[module]; ok {
		return l
	}

	base := m.createLogger(module).With(zap.String("module", module))
	l := &CtxZapLogger{
		base:   base.WithOptions(zap.AddCallerSkip(1)),
		module: module,
		config: &m.cfg,
	}
	m.loggers[module] = l
	m.bases[module] = base
	return l
}

func (m *Manager) createLogger(module string) *zap.Logger {
	encoder := newEncoder(m.cfg.Encoding)
	level := ParseLevel(m.cfg.Level)

	var cores []zapcore.Core
	if m.cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}
	if m.cfg.EnableFile {
		infoWriter, infoLumber := newFileWriter(m.cfg.filePath(module, "info"), m.cfg)
		errWriter, errLumber := newFileWriter(m.cfg.filePath(module, "error"), m.cfg)
		m.writers[module] = []*lumberjack.Logger{infoLumber, errLumber}

		cores = append(cores,
			zapcore.NewCore(encoder, infoWriter, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= level && lvl < zapcore.ErrorLevel
			})),
			zapcore.NewCore(encoder, errWriter, zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
				return lvl >= zapcore.ErrorLevel
			})),
		)
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}

	var opts []zap.Option
	if m.cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...)
}

// CloseAll flushes every logger and closes file handles.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.bases {
		_ = l.Sync()
	}
	for _, ws := range m.writers {
		for _, w := range ws {
			_ = w.Close()
		}
	}
	m.loggers = make(map[string]*CtxZapLogger)
	m.bases = make(map[string]*zap.Logger)
	m.writers = make(map[string][]*lumberjack.Logger)
}

func newEncoder(encoding string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func newFileWriter(filename string, cfg ManagerConfig) (zapcore.WriteSyncer, *lumberjack.Logger) {
	_ = os.MkdirAll(filepath.Dir(filename), 0o755)
	lj := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	return zapcore.AddSync(lj), lj
}
