// Движок истечения: локальное удаление просроченных сообщений и выборка
// кандидатов на серверное удаление.
//
// Локальное удаление двухфазное. Фаза A — нормативный механизм исчезающих
// сообщений: содержимое вычищается полностью, строка переезжает в корзину, но
// ephemeral_timestamp и server_uid сохраняются — по ним серверная половина
// ещё найдёт удаляемую копию. Фаза B — грубая крышка «не хранить дольше N»
// для всего устройства: вместо вычистки остаётся надгробие 'DELETED', чаты
// «сохранённые сообщения» и уведомления устройства не трогаются.
//
// Обе фазы — по одному батчевому UPDATE, поэтому параллельные вызовы
// безопасны: повторный проход просто не найдёт строк. Падение между фазами
// оставляет корректное промежуточное состояние, его доделает следующий вызов.

package ephemeral

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/events"
	"mailchat/internal/domain/jobs"
	"mailchat/internal/domain/message"
	"mailchat/internal/infra/clock"
	"mailchat/internal/infra/logger"
	"mailchat/internal/infra/settings"
)

// ageTombstone — текст, остающийся в строке после фазы B. Отличает
// возрастное удаление от таймерного при разборе инцидентов.
const ageTombstone = "DELETED"

// EngineOptions — зависимости движка. Clock подменяется в тестах.
// Slot может быть общим с другими владельцами пробуждения; nil означает
// собственный слот.
type EngineOptions struct {
	DB       *sql.DB
	Settings *settings.Store
	Bus      *events.Bus
	Slot     *TaskSlot
	Clock    clock.Func
}

// Engine выполняет обе политики удаления и перевзводит планировщик после
// каждой мутации, способной сдвинуть ближайший срок. Сроки хранения
// (delete_device_after / delete_server_after) читаются из settings на каждом
// вызове: пользователь меняет их в рантайме, кешировать нельзя.
type Engine struct {
	db       *sql.DB
	settings *settings.Store
	bus      *events.Bus
	slot     *TaskSlot
	now      clock.Func
	log      *zap.Logger
}

// NewEngine валидирует зависимости и собирает движок.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.DB == nil {
		return nil, errors.New("ephemeral engine: db is nil")
	}
	if opts.Settings == nil {
		return nil, errors.New("ephemeral engine: settings is nil")
	}
	if opts.Bus == nil {
		return nil, errors.New("ephemeral engine: bus is nil")
	}
	slot := opts.Slot
	if slot == nil {
		slot = NewTaskSlot()
	}
	return &Engine{
		db:       opts.DB,
		settings: opts.Settings,
		bus:      opts.Bus,
		slot:     slot,
		now:      opts.Clock,
		log:      logger.Named("ephemeral"),
	}, nil
}

// Slot возвращает слот задачи пробуждения (нужен приложению для остановки).
func (e *Engine) Slot() *TaskSlot {
	return e.slot
}

// MessageTimer возвращает таймер, унаследованный сообщением от чата на момент
// доставки. Отсутствующая строка — таймер выключен.
func (e *Engine) MessageTimer(ctx context.Context, id message.MsgID) (Timer, error) {
	var raw sql.NullInt64
	err := e.db.QueryRowContext(ctx,
		`SELECT ephemeral_timer FROM msgs WHERE id=?`, int64(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DisabledTimer, nil
	}
	if err != nil {
		return DisabledTimer, errors.Wrap(err, "message timer")
	}
	if !raw.Valid {
		return DisabledTimer, nil
	}
	return TimerFromInt64(raw.Int64)
}

// StartEphemeralTimer взводит срок локального удаления сообщения: момент
// «просмотрено» плюс таймер. Повторные вызовы монотонны — срок может только
// приблизиться, уже взведённое более раннее значение не перезаписывается.
func (e *Engine) StartEphemeralTimer(ctx context.Context, id message.MsgID) error {
	timer, err := e.MessageTimer(ctx, id)
	if err != nil {
		return err
	}
	if !timer.Enabled() {
		return nil
	}

	deadline := clock.Unix(e.now) + int64(timer.Duration())
	_, err = e.db.ExecContext(ctx,
		`UPDATE msgs SET ephemeral_timestamp = ?
		 WHERE (ephemeral_timestamp = 0 OR ephemeral_timestamp > ?) AND id = ?`,
		deadline, deadline, int64(id))
	if err != nil {
		return errors.Wrap(err, "start ephemeral timer")
	}

	e.Reschedule(ctx)
	return nil
}

// DeleteExpiredMessages — один «sweep»: фаза A, затем фаза B, затем перевзвод
// пробуждения. Возвращает true, если хоть одна строка изменилась — вызывающий
// сам решает, публиковать ли событие обновления UI. Сам движок MsgsChanged не
// публикует: перезагрузка чатлиста тоже вызывает sweep, событие отсюда
// зациклило бы перечитывание.
func (e *Engine) DeleteExpiredMessages(ctx context.Context) (bool, error) {
	nowTS := clock.Unix(e.now)

	// Фаза A. Состав вычищаемых колонок согласован со схемой msgs: всё,
	// что восстанавливает содержимое или адресатов, обнуляется.
	res, err := e.db.ExecContext(ctx,
		`UPDATE msgs
		 SET chat_id=?, txt='', subject='', txt_raw='',
		     mime_headers='', from_id=0, to_id=0, param=''
		 WHERE ephemeral_timestamp != 0
		   AND ephemeral_timestamp <= ?
		   AND chat_id != ?`,
		int64(chat.Trash), nowTS, int64(chat.Trash))
	if err != nil {
		return false, errors.Wrap(err, "redact expired messages")
	}
	redacted, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "redact expired messages: rows")
	}
	updated := redacted > 0

	deleteDeviceAfter, configured, err := e.settings.DeleteDeviceAfter()
	if err != nil {
		return updated, errors.Wrap(err, "read delete_device_after")
	}
	if configured {
		selfChat, err := chat.LookupByContactID(ctx, e.db, message.ContactSelf)
		if err != nil {
			return updated, err
		}
		deviceChat, err := chat.LookupByContactID(ctx, e.db, message.ContactDevice)
		if err != nil {
			return updated, err
		}

		// Фаза B. Обновляются только строки, которым действительно пора:
		// лишние касания породили бы ложные события «чат изменился».
		res, err := e.db.ExecContext(ctx,
			`UPDATE msgs SET txt=?, chat_id=?
			 WHERE timestamp < ?
			   AND chat_id > ?
			   AND chat_id != ?
			   AND chat_id != ?`,
			ageTombstone, int64(chat.Trash), nowTS-deleteDeviceAfter,
			int64(chat.LastSpecial), int64(selfChat), int64(deviceChat))
		if err != nil {
			return updated, errors.Wrap(err, "delete old device messages")
		}
		aged, err := res.RowsAffected()
		if err != nil {
			return updated, errors.Wrap(err, "delete old device messages: rows")
		}
		updated = updated || aged > 0

		if aged > 0 {
			e.log.Debug("device-age pass removed messages", zap.Int64("count", aged))
		}
	}

	e.Reschedule(ctx)
	return updated, nil
}

// StartEphemeralTimers — ремонтный проход: взводит сроки сообщениям, у которых
// таймер унаследован, но запуск при «просмотрено» был пропущен (падение
// процесса, старая версия клиента). Непросмотренные и черновики исключаются,
// чтобы непрочитанное не начинало исчезать.
func (e *Engine) StartEphemeralTimers(ctx context.Context) error {
	res, err := e.db.ExecContext(ctx,
		`UPDATE msgs SET ephemeral_timestamp = ? + ephemeral_timer
		 WHERE ephemeral_timer > 0
		   AND ephemeral_timestamp = 0
		   AND state NOT IN (?, ?, ?)`,
		clock.Unix(e.now),
		int(message.StateInFresh), int(message.StateInNoticed), int(message.StateOutDraft))
	if err != nil {
		return errors.Wrap(err, "repair ephemeral timers")
	}
	if repaired, rowsErr := res.RowsAffected(); rowsErr == nil && repaired > 0 {
		e.log.Info("armed missed ephemeral timers", zap.Int64("count", repaired))
		e.Reschedule(ctx)
	}
	return nil
}

// PurgeRedactedMessages окончательно удаляет строки, прошедшие обе стадии:
// локально в корзине и без серверной копии (server_uid = 0). После этого от
// сообщения не остаётся следа. Вызывается из housekeeping и после того, как
// IMAP-исполнитель обнулил server_uid.
func (e *Engine) PurgeRedactedMessages(ctx context.Context) (int64, error) {
	res, err := e.db.ExecContext(ctx,
		`DELETE FROM msgs WHERE chat_id=? AND server_uid=0`, int64(chat.Trash))
	if err != nil {
		return 0, errors.Wrap(err, "purge redacted messages")
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "purge redacted messages: rows")
	}
	if purged > 0 {
		e.log.Debug("purged fully deleted messages", zap.Int64("count", purged))
	}
	return purged, nil
}

// LoadIMAPDeletionMsgID возвращает одно сообщение, чью серверную копию пора
// удалить: либо по возрастному порогу delete_server_after, либо по
// сработавшему пер-сообщенческому таймеру. Сообщения с уже ожидающим заданием
// DeleteMsgOnImap исключаются анти-джойном — так на сообщение существует не
// более одного задания. Корзина намеренно не фильтруется: локально удалённая
// строка ещё хранит server_uid до зачистки на сервере.
func (e *Engine) LoadIMAPDeletionMsgID(ctx context.Context) (message.MsgID, bool, error) {
	nowTS := clock.Unix(e.now)

	deleteServerAfter, configured, err := e.settings.DeleteServerAfter()
	if err != nil {
		return 0, false, errors.Wrap(err, "read delete_server_after")
	}
	// Без настройки порог равен нулю: реальные штампы положительны, ветка
	// возраста не срабатывает.
	var threshold int64
	if configured {
		threshold = nowTS - deleteServerAfter
	}

	var id int64
	err = e.db.QueryRowContext(ctx,
		`SELECT id FROM msgs
		 WHERE (timestamp < ?
		        OR (ephemeral_timestamp != 0 AND ephemeral_timestamp <= ?))
		   AND server_uid != 0
		   AND id NOT IN (SELECT foreign_id FROM jobs WHERE action = ?)
		 LIMIT 1`,
		threshold, nowTS, int(jobs.DeleteMsgOnImap)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "load imap deletion candidate")
	}
	return message.MsgID(id), true, nil
}
