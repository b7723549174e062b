// Package logger — централизованная обёртка над zap для всего приложения.
// Инициализирует уровень и формат один раз на старте, позволяет переназначать
// целевые потоки на лету (например, при запуске интерактивной консоли) и
// отдаёт именованные логгеры подсистемам. Динамический уровень реализован
// через zap.AtomicLevel, глобальное состояние защищено мьютексом.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// mu защищает глобальный экземпляр и writer'ы от одновременной перестройки.
	mu sync.Mutex
	// log — текущий корневой zap.Logger; лениво создаётся при первом обращении.
	log *zap.Logger
	// logLevel — динамический уровень; меняется без пересоздания core.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// stdoutWriter и stderrWriter — целевые потоки; по умолчанию stdout/stderr процесса.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
)

// encoderConfig формирует консольный encoder: короткий caller, фиксированный
// формат времени. Для машинной обработки логов достаточно перейти на
// JSON-encoder в одном месте.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// rebuildLocked пересобирает корневой логгер с текущими потоками и уровнем.
// Вызывающий обязан удерживать mu. AddCallerSkip(1) прячет обёртки logger.*
// из caller-стека; предыдущий логгер перед заменой Sync()-ается.
func rebuildLocked() {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), stdoutWriter, logLevel)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init выставляет уровень логирования. Допустимо: debug, info, warn, error;
// сравнение без учёта регистра, неизвестное значение трактуется как info.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}
	rebuildLocked()
}

// SetWriters переназначает целевые потоки и пересобирает core. Nil означает
// возврат к stdout/stderr процесса. Используется интерактивной консолью,
// чтобы лог не рвал строку ввода readline.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}
	rebuildLocked()
}

// Logger возвращает корневой zap.Logger, лениво создавая его при первом обращении.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		rebuildLocked()
	}
	return log
}

// Named возвращает дочерний логгер с именем подсистемы (ephemeral, outbox, ...).
func Named(name string) *zap.Logger {
	return Logger().Named(name)
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение, сбрасывает буферы и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync()
	os.Exit(1)
}

// Debugf форматирует через fmt.Sprintf. Для горячих путей предпочтительны
// структурированные поля: форматирование аллоцирует.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
