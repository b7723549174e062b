// Рендеринг таймера в человекочитаемый текст системного сообщения.
//
// Длительность раскладывается по девяти «корзинам» с адаптивной единицей:
// секунды, минута, минуты с одним десятичным знаком, час, часы, день, дни,
// неделя, недели. Округление — до десятых, половина от нуля. Числовой
// фрагмент и актор подставляются в шаблоны пакета stock, итоговую локализацию
// делает слой переводов.

package ephemeral

import (
	"math"
	"strconv"

	"mailchat/internal/domain/message"
	"mailchat/internal/domain/stock"
)

// Границы корзин длительности, в секундах.
const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
	secondsPerDay    = 86400
	secondsPerWeek   = 604800
)

// StockEphemeralTimerChanged возвращает текст «таймер изменён актором from»
// для значения t.
func StockEphemeralTimerChanged(t Timer, from message.ContactID) string {
	if !t.Enabled() {
		return stock.Plain(stock.MsgEphemeralTimerDisabled, from)
	}

	d := t.Duration()
	switch {
	case d < secondsPerMinute:
		return stock.WithValue(stock.MsgEphemeralTimerEnabled, t.String(), from)
	case d == secondsPerMinute:
		return stock.Plain(stock.MsgEphemeralTimerMinute, from)
	case d < secondsPerHour:
		return stock.WithValue(stock.MsgEphemeralTimerMinutes, tenth(d, secondsPerMinute), from)
	case d == secondsPerHour:
		return stock.Plain(stock.MsgEphemeralTimerHour, from)
	case d < secondsPerDay:
		return stock.WithValue(stock.MsgEphemeralTimerHours, tenth(d, secondsPerHour), from)
	case d == secondsPerDay:
		return stock.Plain(stock.MsgEphemeralTimerDay, from)
	case d < secondsPerWeek:
		return stock.WithValue(stock.MsgEphemeralTimerDays, tenth(d, secondsPerDay), from)
	case d == secondsPerWeek:
		return stock.Plain(stock.MsgEphemeralTimerWeek, from)
	default:
		return stock.WithValue(stock.MsgEphemeralTimerWeeks, tenth(d, secondsPerWeek), from)
	}
}

// tenth форматирует d/unit с точностью до одной десятой: 90/60 → "1.5",
// 2419200/604800 → "4". Хвостовой ноль не печатается.
func tenth(d uint32, unit uint32) string {
	value := math.Round(float64(d)/(float64(unit)/10)) / 10
	return strconv.FormatFloat(value, 'f', -1, 64)
}
