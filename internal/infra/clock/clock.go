// Пакет clock — единая точка получения времени для подсистемы жизненного
// цикла сообщений. Все штампы в базе хранятся в unix-секундах, поэтому пакет
// оперирует ими же. Компоненты, зависящие от времени, принимают Func в своих
// опциях — так тесты подменяют часы, не трогая глобальное состояние.
package clock

import "time"

// Func — источник текущего времени. Подписывается под time.Now.
type Func func() time.Time

// Unix возвращает текущее время в unix-секундах по переданным часам.
// Nil означает системные часы.
func Unix(now Func) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}

// Frozen возвращает часы, застывшие на указанной unix-секунде. Для тестов.
func Frozen(unix int64) Func {
	t := time.Unix(unix, 0)
	return func() time.Time { return t }
}
