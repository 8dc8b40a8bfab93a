package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志选项
type Options struct {
	Debug      bool
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger 封装了 zerolog.Logger 并包含同步机制
type Logger struct {
	logger zerolog.Logger
	mutex  sync.RWMutex
	file   *lumberjack.Logger
}

// consoleWriter 用于控制台输出
var consoleWriter = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// NewLogger 初始化日志系统，只输出到控制台
func NewLogger(debug bool) *Logger {
	l := &Logger{}
	setLevel(debug, "")
	l.build(consoleWriter)
	return l
}

// New 按选项初始化日志系统，配置了文件时同时写入滚动文件
func New(opts Options) *Logger {
	l := &Logger{}
	setLevel(opts.Debug, opts.Level)

	if opts.File == "" {
		l.build(consoleWriter)
		return l
	}

	l.file = newFileWriter(opts)
	l.build(consoleWriter, l.file)
	return l
}

// GetLogger 返回带有组件名的日志记录器
func (l *Logger) GetLogger(component string) zerolog.Logger {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.logger.With().
		Str("component", component).
		Logger()
}

// SetLogOutput 追加滚动文件输出
func (l *Logger) SetLogOutput(logFilePath string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.file = newFileWriter(Options{
		File:       logFilePath,
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	})
	l.logger = newZerolog(consoleWriter, l.file)
	log.Logger = l.logger
}

// Close 关闭文件输出
func (l *Logger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) build(writers ...io.Writer) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.logger = newZerolog(writers...)
	// 设置全局 logger
	log.Logger = l.logger
}

func newZerolog(writers ...io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Caller().
		Logger()
}

func newFileWriter(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB, // megabytes
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays, // days
		Compress:   opts.Compress,
	}
}

// setLevel debug 优先于 level 字符串
func setLevel(debug bool, level string) {
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
