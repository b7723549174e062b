// Пакет config отвечает за сбор и предоставление конфигурации всего приложения
// (почтовый чат-клиент). Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. предоставляет потокобезопасный доступ через R/W мьютекс.
//
// Бизнес-контекст: здесь живут только «операционные» настройки запуска — пути
// к базе сообщений и к файлу локальных настроек устройства, лог-уровень,
// скорость исходящей отправки и адрес собственного аккаунта. Пользовательские
// настройки, меняющиеся в рантайме (сроки хранения сообщений), хранятся
// отдельно в settings и сюда намеренно не попадают.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	SelfAddr       string // адрес собственного почтового аккаунта (From у исходящих)
	DatabaseFile   string // sqlite-база чатов/сообщений/джобов
	SettingsFile   string // bbolt-файл локальных настроек устройства
	LogLevel       string
	OutboxRPS      int // ограничение скорости исходящей отправки (сообщений в секунду)
	RunTimeoutSec  int // автозавершение процесса через N секунд; 0 — отключено
	SweepOnStart   bool
	DumpDefaultDir string // каталог для диагностических снапшотов консоли
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: Warnings берёт RLock; Env отдаёт копию снимка, который
// после Load не меняется. Повторная загрузка запрещена (см. Load).
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultDatabaseFile   = "data/mailchat.db"
	defaultSettingsFile   = "data/settings.bbolt"
	defaultLogLevel       = "info"
	defaultOutboxRPS      = 1
	defaultRunTimeoutSec  = 0
	defaultDumpDefaultDir = "data/dumps"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton. Повторный вызов запрещён, чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	selfAddr := strings.TrimSpace(os.Getenv("SELF_ADDR"))
	if selfAddr == "" {
		return nil, errors.New("env SELF_ADDR must be set")
	}

	var warnings []string

	env := EnvConfig{
		SelfAddr:       selfAddr,
		DatabaseFile:   sanitizeFile("DATABASE_FILE", os.Getenv("DATABASE_FILE"), defaultDatabaseFile, &warnings),
		SettingsFile:   sanitizeFile("SETTINGS_FILE", os.Getenv("SETTINGS_FILE"), defaultSettingsFile, &warnings),
		LogLevel:       sanitizeLogLevel(os.Getenv("LOG_LEVEL"), &warnings),
		OutboxRPS:      parseIntDefault("OUTBOX_RPS", defaultOutboxRPS, greaterThanZero, &warnings),
		RunTimeoutSec:  parseIntDefault("RUN_TIMEOUT_SEC", defaultRunTimeoutSec, nonNegative, &warnings),
		SweepOnStart:   strings.EqualFold(strings.TrimSpace(os.Getenv("SWEEP_ON_START")), "true"),
		DumpDefaultDir: sanitizeFile("DUMP_DIR", os.Getenv("DUMP_DIR"), defaultDumpDefaultDir, &warnings),
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultLogLevel.
func sanitizeLogLevel(level string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultLogLevel)
		return defaultLogLevel
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultLogLevel)
		return defaultLogLevel
	}
}

// sanitizeFile нормализует путь к файлу/каталогу; пустое значение заменяется
// дефолтом с предупреждением.
func sanitizeFile(name, value, defaultVal string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	return v
}
