// Package app — верхний уровень сборки чат-клиента: здесь связываются
// конфигурация, база сообщений, локальные настройки устройства, шина событий,
// исходящая очередь, движок истечения и консоль оператора. Отсюда стартуют
// фоновые сервисы и обеспечивается корректный shutdown: сначала гаснут
// консоль и очередь, затем задача пробуждения, последними закрываются
// хранилища.
package app

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"mailchat/internal/adapters/cli"
	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/ephemeral"
	"mailchat/internal/domain/events"
	"mailchat/internal/domain/message"
	"mailchat/internal/domain/outbox"
	"mailchat/internal/infra/config"
	"mailchat/internal/infra/db"
	"mailchat/internal/infra/logger"
	"mailchat/internal/infra/settings"
)

// App агрегирует зависимости клиента и управляет их жизненным циклом.
type App struct {
	conn     *sql.DB
	set      *settings.Store
	bus      *events.Bus
	engine   *ephemeral.Engine
	timers   *ephemeral.TimerStore
	outq     *outbox.Queue
	console  *cli.Service
	stopApp  context.CancelFunc
	unsubBus func()
}

// New создаёт пустой каркас приложения; фактическая инициализация — в Init.
func New() *App {
	return &App{}
}

// Init собирает все подсистемы. stop — отмена корневого контекста, её
// получают консоль (команда exit) и обработчики сигналов.
func (a *App) Init(ctx context.Context, stop context.CancelFunc) error {
	env := config.Env()
	a.stopApp = stop

	conn, err := db.Open(ctx, env.DatabaseFile)
	if err != nil {
		return err
	}
	a.conn = conn
	if err := chat.EnsureSpecialRange(ctx, conn); err != nil {
		return err
	}

	set, err := settings.Open(env.SettingsFile)
	if err != nil {
		return err
	}
	a.set = set

	a.bus = events.NewBus()

	outq, err := outbox.NewQueue(outbox.Options{
		DB:        conn,
		Transport: &mailTransport{selfAddr: env.SelfAddr},
		RPS:       env.OutboxRPS,
	})
	if err != nil {
		return err
	}
	a.outq = outq

	engine, err := ephemeral.NewEngine(ephemeral.EngineOptions{
		DB:       conn,
		Settings: set,
		Bus:      a.bus,
		Slot:     ephemeral.NewTaskSlot(),
	})
	if err != nil {
		return err
	}
	a.engine = engine
	a.timers = ephemeral.NewTimerStore(conn, a.bus, outq)

	a.console = cli.NewService(conn, engine, a.timers, set, outq, stop)

	return nil
}

// Run запускает сервисы, выполняет стартовое обслуживание и блокируется до
// отмены контекста, после чего разбирает всё в обратном порядке.
func (a *App) Run(ctx context.Context) error {
	a.outq.Start(ctx)

	// Обслуживание на старте: довзводим пропущенные таймеры (падения,
	// старые версии), затем перевзводим пробуждение; sweep — по желанию.
	if err := a.engine.StartEphemeralTimers(ctx); err != nil {
		logger.Errorf("app: repair pass failed: %v", err)
	}
	if _, err := a.engine.PurgeRedactedMessages(ctx); err != nil {
		logger.Errorf("app: purge pass failed: %v", err)
	}
	a.engine.Reschedule(ctx)
	if config.Env().SweepOnStart {
		if changed, err := a.engine.DeleteExpiredMessages(ctx); err != nil {
			logger.Errorf("app: startup sweep failed: %v", err)
		} else {
			logger.Debugf("app: startup sweep changed=%t", changed)
		}
	}

	a.watchEvents(ctx)
	a.console.Start(ctx)
	logger.Info("mailchat started")

	<-ctx.Done()
	logger.Info("shutting down")

	a.console.Stop()
	a.outq.Stop()
	a.engine.Slot().Stop()
	if a.unsubBus != nil {
		a.unsubBus()
	}
	if err := a.set.Close(); err != nil {
		logger.Errorf("app: settings close: %v", err)
	}
	if err := a.conn.Close(); err != nil {
		logger.Errorf("app: database close: %v", err)
	}
	return nil
}

// watchEvents подписывает логирующего потребителя: в полноценном клиенте на
// этих событиях перечитывает данные UI, здесь они видны в логе. Срабатывание
// MsgsChanged дополнительно запускает sweep — так задача пробуждения
// действительно приводит к локальному удалению.
func (a *App) watchEvents(ctx context.Context) {
	ch, unsubscribe := a.bus.Subscribe()
	a.unsubBus = unsubscribe

	go func() {
		for ev := range ch {
			switch ev.Kind {
			case events.KindChatEphemeralTimerModified:
				logger.Info("chat ephemeral timer modified",
					zap.Int64("chat_id", ev.ChatID),
					zap.Uint32("timer", ev.TimerSeconds))
			case events.KindMsgsChanged:
				logger.Debug("messages changed, sweeping",
					zap.Int64("chat_id", ev.ChatID),
					zap.Int64("msg_id", ev.MsgID))
				if changed, err := a.engine.DeleteExpiredMessages(ctx); err != nil {
					logger.Errorf("app: sweep failed: %v", err)
				} else if changed {
					logger.Debug("sweep removed expired messages")
				}
			}
		}
	}()
}

// mailTransport — место стыковки с SMTP-слоем. Сборка и отправка MIME живут в
// транспортном слое клиента; эта реализация фиксирует факт передачи, чтобы
// конвейер был наблюдаем без почтового сервера.
type mailTransport struct {
	selfAddr string
}

// Deliver передаёт сообщение транспортному слою.
func (t *mailTransport) Deliver(_ context.Context, msg message.Message) error {
	logger.Info("submitting outgoing message",
		zap.Int64("msg_id", int64(msg.ID)),
		zap.Int64("chat_id", msg.ChatID),
		zap.String("from", t.selfAddr),
		zap.Int("cmd", int(message.DecodeParamCmd(msg.Param))))
	return nil
}
