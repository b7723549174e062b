// Package ephemeral — подсистема исчезающих сообщений: модель таймера,
// пер-чатовое хранение и согласование значения между участниками, движок
// локального удаления и планировщик пробуждения.
//
// Таймер — это срок в секундах, по истечении которого увиденное сообщение
// редактируется локально (содержимое стирается, запись переезжает в
// мусорный чат) и помечается к удалению с сервера. Значение согласуется
// между участниками только через сами письма: каждое входящее несёт таймер
// отправителя в выделенном заголовке, последний принятый побеждает.

package ephemeral

import (
	"math"
	"strconv"

	"github.com/go-faster/errors"
)

// ErrOutOfRange возвращается при декодировании таймера, не помещающегося в
// беззнаковые 32 бита. Такое значение в колонке — порча данных, молча
// приводить его к нулю нельзя.
var ErrOutOfRange = errors.New("ephemeral timer value out of range")

// Timer — значение таймера исчезающих сообщений чата: либо выключен, либо
// включён с положительной длительностью в секундах. Нулевое значение
// структуры — «выключен»; состояние «включён с нулём секунд» непредставимо,
// ноль при конструировании сворачивается в Disabled.
type Timer struct {
	duration uint32
}

// DisabledTimer — таймер в выключенном состоянии.
var DisabledTimer = Timer{}

// TimerFromSeconds конструирует таймер из числа секунд; 0 даёт Disabled.
func TimerFromSeconds(duration uint32) Timer {
	return Timer{duration: duration}
}

// TimerFromInt64 декодирует значение целочисленной колонки. Отрицательные и
// не влезающие в uint32 значения — ошибка ErrOutOfRange.
func TimerFromInt64(value int64) (Timer, error) {
	if value < 0 || value > math.MaxUint32 {
		return Timer{}, errors.Wrap(ErrOutOfRange, strconv.FormatInt(value, 10))
	}
	return Timer{duration: uint32(value)}, nil
}

// ParseTimer разбирает десятичную строку с числом секунд.
func ParseTimer(input string) (Timer, error) {
	v, err := strconv.ParseUint(input, 10, 32)
	if err != nil {
		return Timer{}, errors.Wrap(err, "parse timer")
	}
	return Timer{duration: uint32(v)}, nil
}

// Enabled сообщает, включён ли таймер.
func (t Timer) Enabled() bool {
	return t.duration != 0
}

// Duration возвращает длительность в секундах; 0 у выключенного таймера.
func (t Timer) Duration() uint32 {
	return t.duration
}

// ToInt кодирует таймер в целочисленную колонку: 0 ≡ выключен.
func (t Timer) ToInt() uint32 {
	return t.duration
}

// String возвращает десятичное число секунд — формат выделенного заголовка
// исходящих писем.
func (t Timer) String() string {
	return strconv.FormatUint(uint64(t.duration), 10)
}
