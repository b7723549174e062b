// Package outbox — исходящий конвейер сообщений: постановка в персистентную
// очередь и фоновая доставка через транспорт (SMTP-слой — внешний
// коллаборатор за интерфейсом Transport). Очередь переживает рестарты:
// строки таблицы outbox ссылаются на уже созданные строки msgs, при запуске
// воркер просто продолжает дренировать хвост. Темп доставки ограничен
// токен-бакетом, ошибки транспорта не снимают задание — оно остаётся в
// очереди до успешной попытки.

package outbox

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/message"
	"mailchat/internal/infra/clock"
	"mailchat/internal/infra/logger"
)

// Transport доставляет одно подготовленное сообщение. Реализации обязаны быть
// идемпотентными на ретраях: очередь повторяет Deliver после любой ошибки.
type Transport interface {
	Deliver(ctx context.Context, msg message.Message) error
}

// retryDelay — пауза перед повторной попыткой после ошибки транспорта.
// Сетевые сбои у почтового транспорта обычно длятся дольше секунд, более
// агрессивный ретрай только жёг бы лимиты сервера.
const retryDelay = 30 * time.Second

// Options — зависимости очереди. Clock подменяется в тестах; RPS задаёт
// скорость дренирования (сообщений в секунду).
type Options struct {
	DB        *sql.DB
	Transport Transport
	RPS       int
	Clock     clock.Func
}

// Queue — персистентная очередь исходящих. Потокобезопасна: постановка
// выполняется из любых горутин, дренирует единственный воркер.
type Queue struct {
	db        *sql.DB
	transport Transport
	limiter   *rate.Limiter
	now       clock.Func

	wakeCh chan struct{}

	runOnce sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue валидирует опции и готовит очередь; воркер стартует отдельно (Start).
func NewQueue(opts Options) (*Queue, error) {
	if opts.DB == nil {
		return nil, errors.New("outbox: db is nil")
	}
	if opts.Transport == nil {
		return nil, errors.New("outbox: transport is nil")
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 1
	}
	return &Queue{
		db:        opts.DB,
		transport: opts.Transport,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		now:       opts.Clock,
		wakeCh:    make(chan struct{}, 1),
	}, nil
}

// Start запускает воркер доставки; повторный вызов игнорируется.
// Незавершённый хвост очереди с прошлого запуска подхватывается сразу.
func (q *Queue) Start(ctx context.Context) {
	q.runOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.workerLoop(runCtx)
		}()
		q.signal()
	})
}

// Stop останавливает воркер и дожидается его завершения. Недоставленные
// задания остаются в таблице до следующего запуска.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// SendText создаёт исходящее текстовое сообщение в msgs, ставит его в очередь
// доставки и будит воркер. Сообщение наследует текущий таймер исчезновения
// своего чата — так каждое исходящее письмо несёт актуальное значение в
// выделенном заголовке и участвует в сходимости настройки.
func (q *Queue) SendText(
	ctx context.Context,
	chatID int64,
	text string,
	cmd message.SystemMessage,
) (message.MsgID, error) {
	var chatTimer int64
	err := q.db.QueryRowContext(ctx,
		`SELECT ephemeral_timer FROM chats WHERE id=?`, chatID).Scan(&chatTimer)
	if errors.Is(err, sql.ErrNoRows) {
		chatTimer = 0
	} else if err != nil {
		return 0, errors.Wrap(err, "outbox: chat timer")
	}

	nowTS := clock.Unix(q.now)
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO msgs (chat_id, from_id, timestamp, state, txt, param, ephemeral_timer)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, int64(message.ContactSelf), nowTS, int(message.StateOutPending),
		text, message.EncodeParamCmd(cmd), chatTimer)
	if err != nil {
		return 0, errors.Wrap(err, "outbox: insert message")
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "outbox: message id")
	}

	if _, err = q.db.ExecContext(ctx,
		`INSERT INTO outbox (created_ts, msg_id) VALUES (?, ?)`, nowTS, msgID); err != nil {
		return 0, errors.Wrap(err, "outbox: enqueue")
	}

	logger.Debugf("outbox: message %d enqueued (chat=%d cmd=%d)", msgID, chatID, cmd)
	q.signal()
	return message.MsgID(msgID), nil
}

// Pending возвращает размер очереди (для консоли и тестов).
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "outbox: pending count")
	}
	return n, nil
}

// signal неблокирующе будит воркер.
func (q *Queue) signal() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// workerLoop дренирует очередь до опустошения, затем ждёт сигнала.
// После ошибки транспорта пауза retryDelay, чтобы не молотить сбоящий сервер.
func (q *Queue) workerLoop(ctx context.Context) {
	for {
		drained, err := q.drain(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Errorf("outbox: drain error: %v", err)
		}

		if drained {
			select {
			case <-ctx.Done():
				return
			case <-q.wakeCh:
			}
			continue
		}

		// Очередь не пуста, но доставка не удалась: ретрай по таймеру,
		// сигнал новой постановки тоже будит досрочно.
		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// drain доставляет задания по одному, пока очередь не опустеет (true) или
// попытка не сорвётся (false).
func (q *Queue) drain(ctx context.Context) (bool, error) {
	for {
		item, ok, err := q.head(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		if err := q.deliverOne(ctx, item); err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			logger.Warnf("outbox: delivery of message %d failed (attempt %d): %v",
				item.msgID, item.attempts+1, err)
			_, markErr := q.db.ExecContext(ctx,
				`UPDATE outbox SET attempts = attempts + 1 WHERE id=?`, item.id)
			if markErr != nil {
				return false, errors.Wrap(markErr, "outbox: mark attempt")
			}
			return false, nil
		}
	}
}

// queueItem — голова очереди.
type queueItem struct {
	id       int64
	msgID    int64
	attempts int
}

// head читает самое старое задание.
func (q *Queue) head(ctx context.Context) (queueItem, bool, error) {
	var item queueItem
	err := q.db.QueryRowContext(ctx,
		`SELECT id, msg_id, attempts FROM outbox ORDER BY id LIMIT 1`).
		Scan(&item.id, &item.msgID, &item.attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return queueItem{}, false, nil
	}
	if err != nil {
		return queueItem{}, false, errors.Wrap(err, "outbox: head")
	}
	return item, true, nil
}

// deliverOne доставляет одно задание: пейсинг лимитером, загрузка сообщения,
// Deliver, затем снятие с очереди и перевод сообщения в Delivered.
// Сообщение, успевшее исчезнуть локально (строка в корзине), доставке не
// подлежит — задание просто снимается.
func (q *Queue) deliverOne(ctx context.Context, item queueItem) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	msg, err := message.Load(ctx, q.db, message.MsgID(item.msgID))
	if errors.Is(err, sql.ErrNoRows) {
		logger.Warnf("outbox: message %d vanished, dropping queue entry", item.msgID)
		_, delErr := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id=?`, item.id)
		return delErr
	}
	if err != nil {
		return err
	}

	if msg.ChatID == int64(chat.Trash) {
		logger.Warnf("outbox: message %d already redacted, dropping queue entry", item.msgID)
		_, delErr := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id=?`, item.id)
		return delErr
	}

	if err := q.transport.Deliver(ctx, msg); err != nil {
		return err
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE id=?`, item.id); err != nil {
		return errors.Wrap(err, "outbox: dequeue")
	}
	if _, err := q.db.ExecContext(ctx,
		`UPDATE msgs SET state=? WHERE id=? AND state=?`,
		int(message.StateOutDelivered), item.msgID, int(message.StateOutPending)); err != nil {
		return errors.Wrap(err, "outbox: mark delivered")
	}
	logger.Debugf("outbox: message %d delivered", item.msgID)
	return nil
}
