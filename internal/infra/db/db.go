// Package db — открытие и схема локальной sqlite-базы чат-клиента.
// База — единственный источник истины для чатов, сообщений, джобов серверного
// удаления и очереди исходящих. Конкурентные вызовы полагаются на
// транзакционность sqlite: каждая мутация подсистемы — один батчевый UPDATE.
//
// Часть колонок msgs принадлежит соседним подсистемам (парсер MIME, приём
// сообщений); здесь они заводятся в схеме целиком, чтобы база оставалась
// согласованной при любом порядке запуска.
package db

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3" // драйвер sqlite3

	"mailchat/internal/infra/storage"
)

// schema — DDL всей базы. IF NOT EXISTS позволяет вызывать Open при каждом
// старте без отдельной машинерии миграций.
const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT    NOT NULL DEFAULT '',
	contact_id      INTEGER NOT NULL DEFAULT 0,
	ephemeral_timer INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS msgs (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id             INTEGER NOT NULL DEFAULT 0,
	from_id             INTEGER NOT NULL DEFAULT 0,
	to_id               INTEGER NOT NULL DEFAULT 0,
	timestamp           INTEGER NOT NULL DEFAULT 0,
	state               INTEGER NOT NULL DEFAULT 0,
	txt                 TEXT    NOT NULL DEFAULT '',
	subject             TEXT    NOT NULL DEFAULT '',
	txt_raw             TEXT    NOT NULL DEFAULT '',
	mime_headers        TEXT    NOT NULL DEFAULT '',
	param               TEXT    NOT NULL DEFAULT '',
	server_folder       TEXT    NOT NULL DEFAULT '',
	server_uid          INTEGER NOT NULL DEFAULT 0,
	ephemeral_timer     INTEGER NOT NULL DEFAULT 0,
	ephemeral_timestamp INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_msgs_ephemeral_timestamp ON msgs (ephemeral_timestamp);
CREATE INDEX IF NOT EXISTS idx_msgs_chat_id ON msgs (chat_id);

CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	added_ts   INTEGER NOT NULL DEFAULT 0,
	action     INTEGER NOT NULL DEFAULT 0,
	foreign_id INTEGER NOT NULL DEFAULT 0,
	param      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_action ON jobs (action);

CREATE TABLE IF NOT EXISTS outbox (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_ts INTEGER NOT NULL DEFAULT 0,
	msg_id     INTEGER NOT NULL DEFAULT 0,
	attempts   INTEGER NOT NULL DEFAULT 0
);
`

// Open открывает sqlite-базу по указанному пути и готовит схему.
// Путь ":memory:" поддерживается для тестов; в этом случае пул соединений
// ограничивается одним коннектом, иначе каждый коннект получит свою пустую базу.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := storage.EnsureDir(path); err != nil {
			return nil, errors.Wrap(err, "database dir")
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err = conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err = conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return conn, nil
}
