// Package stock — каталог строковых заготовок для системных сообщений.
// Подсистема жизненного цикла подставляет сюда числовой фрагмент и актора,
// а слой локализации может заменить любой шаблон переводом через Set.
// Дефолты — английские строки, чтобы клиент был работоспособен без переводов.

package stock

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/message"
)

// ID идентифицирует строковую заготовку.
type ID int

// Заготовки смены таймера исчезающих сообщений: по одной на каждую из
// девяти «корзин» длительности плюс выключение.
const (
	MsgEphemeralTimerDisabled ID = iota + 1
	MsgEphemeralTimerEnabled
	MsgEphemeralTimerMinute
	MsgEphemeralTimerMinutes
	MsgEphemeralTimerHour
	MsgEphemeralTimerHours
	MsgEphemeralTimerDay
	MsgEphemeralTimerDays
	MsgEphemeralTimerWeek
	MsgEphemeralTimerWeeks
)

// defaults — английские шаблоны. Первый %s — числовой фрагмент (если есть),
// последний — имя актора.
var defaults = map[ID]string{
	MsgEphemeralTimerDisabled: "Message deletion timer is disabled by %s.",
	MsgEphemeralTimerEnabled:  "Message deletion timer is set to %s s by %s.",
	MsgEphemeralTimerMinute:   "Message deletion timer is set to 1 minute by %s.",
	MsgEphemeralTimerMinutes:  "Message deletion timer is set to %s minutes by %s.",
	MsgEphemeralTimerHour:     "Message deletion timer is set to 1 hour by %s.",
	MsgEphemeralTimerHours:    "Message deletion timer is set to %s hours by %s.",
	MsgEphemeralTimerDay:      "Message deletion timer is set to 1 day by %s.",
	MsgEphemeralTimerDays:     "Message deletion timer is set to %s days by %s.",
	MsgEphemeralTimerWeek:     "Message deletion timer is set to 1 week by %s.",
	MsgEphemeralTimerWeeks:    "Message deletion timer is set to %s weeks by %s.",
}

var (
	mu        sync.RWMutex
	overrides = map[ID]string{}
	// contactName разрешает идентификатор контакта в отображаемое имя.
	// Слой контактов подменяет реализацию на старте; дефолт покрывает
	// собственный аккаунт и даёт нейтральную подпись остальным.
	contactName = func(id message.ContactID) string {
		if id == message.ContactSelf {
			return "me"
		}
		return fmt.Sprintf("member #%d", id)
	}
)

// Set заменяет шаблон переводом. Количество подстановок должно совпадать с
// дефолтом, иначе перевод отклоняется — битый шаблон хуже английского.
func Set(id ID, template string) error {
	def, ok := defaults[id]
	if !ok {
		return errors.New("unknown stock id")
	}
	if strings.Count(def, "%s") != strings.Count(template, "%s") {
		return errors.New("translation placeholder count mismatch")
	}
	mu.Lock()
	overrides[id] = template
	mu.Unlock()
	return nil
}

// SetContactNameFn подменяет разрешение имён контактов (слой адресной книги).
func SetContactNameFn(fn func(message.ContactID) string) {
	if fn == nil {
		return
	}
	mu.Lock()
	contactName = fn
	mu.Unlock()
}

// template возвращает актуальный шаблон: перевод, если задан, иначе дефолт.
func template(id ID) string {
	mu.RLock()
	defer mu.RUnlock()
	if t, ok := overrides[id]; ok {
		return t
	}
	return defaults[id]
}

// ContactName возвращает отображаемое имя контакта для подстановки в шаблоны.
func ContactName(id message.ContactID) string {
	mu.RLock()
	fn := contactName
	mu.RUnlock()
	return fn(id)
}

// Plain рендерит заготовку без числового фрагмента (единственный %s — актор).
func Plain(id ID, actor message.ContactID) string {
	return fmt.Sprintf(template(id), ContactName(actor))
}

// WithValue рендерит заготовку с числовым фрагментом и актором.
func WithValue(id ID, value string, actor message.ContactID) string {
	return fmt.Sprintf(template(id), value, ContactName(actor))
}
