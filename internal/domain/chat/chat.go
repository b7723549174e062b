// Package chat — идентификаторы чатов, зарезервированные значения и доступ к
// строкам таблицы chats. Сама таблица принадлежит слою чатов/приёма; подсистеме
// жизненного цикла отсюда нужны резолв служебных чатов и заведение чатов в
// тестах и консоли.

package chat

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/message"
)

// ID — целочисленный ключ чата.
type ID int64

// Зарезервированные идентификаторы чатов. Значения до LastSpecial — служебные
// псевдочаты, обычные чаты нумеруются дальше.
const (
	// Trash — корзина: сюда переезжают локально удалённые сообщения, пока
	// их копию не удалят с сервера.
	Trash ID = 3
	// LastSpecial — верхняя граница служебного диапазона.
	LastSpecial ID = 9
)

// IsSpecial сообщает, лежит ли идентификатор в служебном диапазоне.
func (id ID) IsSpecial() bool {
	return id <= LastSpecial
}

// LookupByContactID возвращает чат 1:1 с указанным контактом. Отсутствие
// такого чата — не ошибка: возвращается 0 (идентификаторы чатов начинаются
// дальше служебного диапазона, ноль ни с чем не совпадёт).
func LookupByContactID(ctx context.Context, conn *sql.DB, contact message.ContactID) (ID, error) {
	var id int64
	err := conn.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE contact_id=? ORDER BY id LIMIT 1`, int64(contact)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "lookup chat by contact")
	}
	return ID(id), nil
}

// Create заводит чат 1:1 с контактом и возвращает его идентификатор.
// Используется консолью и тестами; основной путь создания чатов живёт в слое
// приёма сообщений.
func Create(ctx context.Context, conn *sql.DB, name string, contact message.ContactID) (ID, error) {
	res, err := conn.ExecContext(ctx,
		`INSERT INTO chats (name, contact_id) VALUES (?, ?)`, name, int64(contact))
	if err != nil {
		return 0, errors.Wrap(err, "create chat")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "create chat id")
	}
	return ID(id), nil
}

// EnsureSpecialRange резервирует служебный диапазон идентификаторов в свежей
// базе, чтобы AUTOINCREMENT выдавал обычным чатам значения строго больше
// LastSpecial. Повторный вызов безвреден.
func EnsureSpecialRange(ctx context.Context, conn *sql.DB) error {
	_, err := conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (id, name) VALUES (?, 'reserved')`, int64(LastSpecial))
	if err != nil {
		return errors.Wrap(err, "reserve special chat range")
	}
	return nil
}
