// Package main — точка входа чат-клиента.
// Здесь парсим флаги, загружаем конфигурацию, настраиваем логирование и
// организуем корректное завершение по системным сигналам (Ctrl+C/SIGTERM).
// Главная задача: инициализировать App и отдать ему управление, обеспечив
// graceful shutdown.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailchat/internal/app"
	"mailchat/internal/infra/config"
	"mailchat/internal/infra/logger"
	"mailchat/internal/infra/pr"
)

// main поднимает окружение, стартует приложение и блокируется до завершения.
// Порядок:
//  1. bootstrap: stdout/stderr → pr, базовый log с префиксом времени,
//  2. flags/env: путь к .env,
//  3. config: загрузка и предупреждения,
//  4. logger: уровень и перенаправление вывода в pr,
//  5. signals: контекст с отменой по Ctrl+C/SIGTERM,
//  6. app: Init(ctx, stop) и Run(ctx).
func main() {
	log.SetFlags(0)
	log.SetPrefix(time.Now().Format("2006-01-02 15:04:05 "))
	if err := pr.Init("> "); err != nil {
		log.Fatalf("failed to assign stdout and stderr: %v", err)
	}

	// envPath определяет расположение .env с настройками запуска.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов. stop() обязателен к вызову,
	// чтобы снять подписку на сигналы.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Автозавершение для стендов и прогонов: RUN_TIMEOUT_SEC > 0 гасит
	// процесс по таймеру.
	if timeout := config.Env().RunTimeoutSec; timeout > 0 {
		timer := time.AfterFunc(time.Duration(timeout)*time.Second, stop)
		defer timer.Stop()
	}

	a := app.New()
	if iniErr := a.Init(ctx, stop); iniErr != nil {
		stop()
		log.Fatalf("app init failed: %v", iniErr)
	}

	if runErr := a.Run(ctx); runErr != nil {
		stop()
		log.Fatalf("app run failed: %v", runErr)
	}
	stop()
	log.Println("Graceful shutdown complete")
}
