// Хранение пер-чатового таймера и его согласование между участниками.
//
// Запись бывает двух видов: «тихая» (SetSilent) — для пути приёма, когда
// значение пришло от другого участника, и полная (Set) — для локального
// пользователя, которая дополнительно рассылает системное сообщение о смене.
// Тихая запись никогда не порождает исходящих сообщений; эта асимметрия
// принципиальна, иначе два устройства зациклили бы друг друга уведомлениями.

package ephemeral

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/events"
	"mailchat/internal/domain/message"
	"mailchat/internal/infra/logger"
)

// ErrSpecialChat возвращается при попытке задать таймер служебному псевдочату.
var ErrSpecialChat = errors.New("ephemeral timer is not allowed on a special chat")

// SystemMessageSender — исходящий конвейер в объёме, нужном согласованию
// таймера. Реализуется очередью outbox.
type SystemMessageSender interface {
	SendText(ctx context.Context, chatID int64, text string, cmd message.SystemMessage) (message.MsgID, error)
}

// TimerStore читает и пишет таймер исчезающих сообщений чата.
type TimerStore struct {
	db     *sql.DB
	bus    *events.Bus
	sender SystemMessageSender
}

// NewTimerStore собирает хранилище. Sender может быть nil только если Set
// никогда не вызывается (например, в пути приёма).
func NewTimerStore(conn *sql.DB, bus *events.Bus, sender SystemMessageSender) *TimerStore {
	return &TimerStore{db: conn, bus: bus, sender: sender}
}

// Get возвращает таймер чата. Отсутствующая строка или NULL — таймер выключен.
func (s *TimerStore) Get(ctx context.Context, chatID chat.ID) (Timer, error) {
	var raw sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT ephemeral_timer FROM chats WHERE id=?`, int64(chatID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return DisabledTimer, nil
	}
	if err != nil {
		return DisabledTimer, errors.Wrap(err, "get chat timer")
	}
	if !raw.Valid {
		return DisabledTimer, nil
	}
	return TimerFromInt64(raw.Int64)
}

// SetSilent записывает таймер без отправки системного сообщения и публикует
// событие изменения. Используется путём приёма (значение пришло от другого
// участника) и как нижняя половина Set.
func (s *TimerStore) SetSilent(ctx context.Context, chatID chat.ID, t Timer) error {
	if chatID.IsSpecial() {
		return errors.Wrapf(ErrSpecialChat, "chat %d", chatID)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET ephemeral_timer=? WHERE id=?`,
		int64(t.ToInt()), int64(chatID)); err != nil {
		return errors.Wrap(err, "set chat timer")
	}

	s.bus.Emit(events.Event{
		Kind:         events.KindChatEphemeralTimerModified,
		ChatID:       int64(chatID),
		TimerSeconds: t.ToInt(),
	})
	return nil
}

// Set меняет таймер от имени локального пользователя. Совпадающее значение —
// no-op. После записи рассылается системное сообщение с текстом смены; отказ
// отправки логируется и глотается: локальное значение уже изменено и
// откатывать его нельзя — входящие копии от других участников при
// необходимости разнесут значение повторно.
func (s *TimerStore) Set(ctx context.Context, chatID chat.ID, t Timer) error {
	current, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if current == t {
		return nil
	}
	if err := s.SetSilent(ctx, chatID, t); err != nil {
		return err
	}

	text := StockEphemeralTimerChanged(t, message.ContactSelf)
	if _, err := s.sender.SendText(ctx, int64(chatID), text,
		message.SystemMessageEphemeralTimerChanged); err != nil {
		logger.Errorf("ephemeral: failed to send timer change message for chat %d: %v", chatID, err)
	}
	return nil
}

// ApplyIncoming — хук пути приёма: каждое входящее письмо несёт таймер
// отправителя, и он применяется к чату как есть. Побеждает последний по
// порядку получения; сравнение с текущим значением делает повторное
// применение дешёвым и не спамит событиями.
func (s *TimerStore) ApplyIncoming(ctx context.Context, chatID chat.ID, t Timer) error {
	current, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if current == t {
		return nil
	}
	return s.SetSilent(ctx, chatID, t)
}
