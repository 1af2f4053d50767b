package common

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger = zap.NewNop()

func GetLogger() *zap.Logger {
	return logger
}

// SetLogger replaces the package logger, mainly for tests.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

func InitLog(logPath, level string) {
	// 配置日志轮转
	fileSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath, // 日志文件路径
		MaxSize:    10,      // 单个文件最大大小（MB）
		MaxBackups: 10,      // 保留最大备份数
		MaxAge:     7,       // 保留最大天数（天）
		LocalTime:  true,
	})

	// 自定义时间编码器：使用本地时间并格式化
	customTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		MessageKey:     "M",
		CallerKey:      "C",
		NameKey:        "N",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     customTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	// 文件和控制台同时输出
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, fileSyncer, lvl),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), lvl),
	)
	logger = zap.New(core, zap.AddCaller())
}
