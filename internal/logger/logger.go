package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 日志级别
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogFormat 日志格式
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// 常用字段名
const (
	FieldJobID    = "job_id"
	FieldSymbol   = "symbol"
	FieldProvider = "provider"
	FieldStore    = "store"
)

// Config 日志配置
type Config struct {
	Level      LogLevel  `yaml:"level" json:"level"`
	Format     LogFormat `yaml:"format" json:"format"`
	Output     string    `yaml:"output" json:"output"`           // stdout, stderr, file, discard
	Filename   string    `yaml:"filename" json:"filename"`       // 日志文件路径
	MaxSize    int       `yaml:"max_size" json:"max_size"`       // 单个日志文件最大大小(MB)
	MaxAge     int       `yaml:"max_age" json:"max_age"`         // 日志文件保留天数
	MaxBackups int       `yaml:"max_backups" json:"max_backups"` // 最大备份文件数
	Compress   bool      `yaml:"compress" json:"compress"`
	Caller     bool      `yaml:"caller" json:"caller"`
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Level:      LevelInfo,
	Format:     FormatJSON,
	Output:     "stdout",
	MaxSize:    100,
	MaxAge:     30,
	MaxBackups: 10,
	Compress:   true,
}

// Logger 日志器接口
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

type contextKey string

// RequestIDKey 请求ID在context中的键
const RequestIDKey contextKey = "request_id"

// StructuredLogger 结构化日志器
type StructuredLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
	level  *levelHolder
}

type levelHolder struct {
	mu    sync.RWMutex
	level LogLevel
}

// NewLogger 创建新的日志器
func NewLogger(config Config) Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		level = logrus.InfoLevel
		config.Level = LevelInfo
	}
	logger.SetLevel(level)

	prettyCaller := func(f *runtime.Frame) (string, string) {
		return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}
	if config.Format == FormatText {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: prettyCaller,
		})
	}

	logger.SetOutput(openOutput(&config))
	logger.SetReportCaller(config.Caller)

	return &StructuredLogger{
		logger: logger,
		entry:  logrus.NewEntry(logger),
		level:  &levelHolder{level: config.Level},
	}
}

// NewNop 创建丢弃所有输出的日志器，用于测试
func NewNop() Logger {
	return NewLogger(Config{Level: LevelError, Format: FormatText, Output: "discard"})
}

func openOutput(config *Config) io.Writer {
	switch config.Output {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	case "file":
		if config.Filename == "" {
			config.Filename = "logs/backtester.log"
		}
		if err := os.MkdirAll(filepath.Dir(config.Filename), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   config.Filename,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			Compress:   config.Compress,
		}
	default:
		return os.Stdout
	}
}

// Debug 记录debug级别日志
func (l *StructuredLogger) Debug(msg string, fields ...interface{}) {
	l.logWithFields(logrus.DebugLevel, msg, fields...)
}

// Info 记录info级别日志
func (l *StructuredLogger) Info(msg string, fields ...interface{}) {
	l.logWithFields(logrus.InfoLevel, msg, fields...)
}

// Warn 记录warn级别日志
func (l *StructuredLogger) Warn(msg string, fields ...interface{}) {
	l.logWithFields(logrus.WarnLevel, msg, fields...)
}

// Error 记录error级别日志
func (l *StructuredLogger) Error(msg string, fields ...interface{}) {
	l.logWithFields(logrus.ErrorLevel, msg, fields...)
}

// Fatal 记录fatal级别日志并退出
func (l *StructuredLogger) Fatal(msg string, fields ...interface{}) {
	l.logWithFields(logrus.FatalLevel, msg, fields...)
}

// WithField 添加单个字段
func (l *StructuredLogger) WithField(key string, value interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithField(key, value), level: l.level}
}

// WithFields 添加多个字段
func (l *StructuredLogger) WithFields(fields map[string]interface{}) Logger {
	return &StructuredLogger{logger: l.logger, entry: l.entry.WithFields(fields), level: l.level}
}

// WithContext 添加上下文
func (l *StructuredLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		entry = entry.WithField(string(RequestIDKey), requestID)
	}
	return &StructuredLogger{logger: l.logger, entry: entry, level: l.level}
}

// SetLevel 设置日志级别
func (l *StructuredLogger) SetLevel(level LogLevel) {
	logrusLevel, err := logrus.ParseLevel(string(level))
	if err != nil {
		return
	}

	l.level.mu.Lock()
	defer l.level.mu.Unlock()
	l.logger.SetLevel(logrusLevel)
	l.level.level = level
}

// GetLevel 获取日志级别
func (l *StructuredLogger) GetLevel() LogLevel {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.level
}

// logWithFields 把 key/value 形式的参数转为 logrus 字段
func (l *StructuredLogger) logWithFields(level logrus.Level, msg string, fields ...interface{}) {
	entry := l.entry
	if len(fields) > 1 {
		fieldMap := make(map[string]interface{}, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			key, ok := fields[i].(string)
			if !ok {
				continue
			}
			if err, isErr := fields[i+1].(error); isErr {
				fieldMap[key] = err.Error()
				continue
			}
			fieldMap[key] = fields[i+1]
		}
		if len(fieldMap) > 0 {
			entry = entry.WithFields(fieldMap)
		}
	}
	entry.Log(level, msg)
}

// 全局日志器实例
var (
	globalMu     sync.RWMutex
	globalLogger = NewLogger(DefaultConfig)
)

// Init 初始化全局日志器
func Init(config Config) Logger {
	l := NewLogger(config)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger 设置全局日志器
func SetGlobalLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger 获取全局日志器
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...interface{}) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...interface{})  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...interface{})  { GetGlobalLogger().Warn(msg, fields...) }
func Error(msg string, fields ...interface{}) { GetGlobalLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...interface{}) { GetGlobalLogger().Fatal(msg, fields...) }

// WithField 添加单个字段
func WithField(key string, value interface{}) Logger {
	return GetGlobalLogger().WithField(key, value)
}

// HTTPRequestInfo HTTP请求信息
type HTTPRequestInfo struct {
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	ClientIP   string
	UserAgent  string
	BodySize   int
	RequestID  string
}

// LogHTTPRequest 记录HTTP请求日志，级别由状态码决定
func LogHTTPRequest(l Logger, info HTTPRequestInfo) {
	fields := map[string]interface{}{
		"method":      info.Method,
		"path":        info.Path,
		"status_code": info.StatusCode,
		"latency_ms":  info.Latency.Milliseconds(),
		"client_ip":   info.ClientIP,
		"user_agent":  info.UserAgent,
		"body_size":   info.BodySize,
	}
	if info.RequestID != "" {
		fields[string(RequestIDKey)] = info.RequestID
	}

	msg := fmt.Sprintf("%s %s - %d", info.Method, info.Path, info.StatusCode)
	entry := l.WithFields(fields)
	switch {
	case info.StatusCode >= 500:
		entry.Error(msg)
	case info.StatusCode >= 400:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}
