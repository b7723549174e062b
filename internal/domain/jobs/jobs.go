// Package jobs — персистентная очередь фоновых заданий для IMAP-исполнителя.
// Подсистема жизненного цикла только ставит задания на серверное удаление и
// проверяет их наличие; исполняет и снимает их отдельный цикл IMAP.
// Завершение задания фиксируется удалением строки — на этом держится гарантия
// «не более одного ожидающего задания на сообщение».

package jobs

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/message"
	"mailchat/internal/infra/clock"
)

// Action — тип фонового задания.
type Action int

// DeleteMsgOnImap — удалить копию сообщения с IMAP-сервера.
const DeleteMsgOnImap Action = 110

// Job — строка таблицы jobs.
type Job struct {
	ID        int64
	AddedTS   int64
	Action    Action
	ForeignID int64
	Param     string
}

// Add ставит задание в очередь. Дедупликация здесь не выполняется: выборка
// кандидатов (движок истечения) сама исключает сообщения с уже ожидающим
// заданием, поэтому Add вызывается не более одного раза на живое задание.
func Add(ctx context.Context, conn *sql.DB, now clock.Func, action Action, foreignID message.MsgID) (Job, error) {
	added := clock.Unix(now)
	res, err := conn.ExecContext(ctx,
		`INSERT INTO jobs (added_ts, action, foreign_id) VALUES (?, ?, ?)`,
		added, int(action), int64(foreignID))
	if err != nil {
		return Job{}, errors.Wrap(err, "add job")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Job{}, errors.Wrap(err, "add job id")
	}
	return Job{ID: id, AddedTS: added, Action: action, ForeignID: int64(foreignID)}, nil
}

// Exists сообщает, есть ли в очереди задание данного типа для сообщения.
func Exists(ctx context.Context, conn *sql.DB, action Action, foreignID message.MsgID) (bool, error) {
	var one int
	err := conn.QueryRowContext(ctx,
		`SELECT 1 FROM jobs WHERE action=? AND foreign_id=? LIMIT 1`,
		int(action), int64(foreignID)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "job exists")
	}
	return true, nil
}

// Delete снимает задание с очереди (вызывается исполнителем после успеха).
func Delete(ctx context.Context, conn *sql.DB, jobID int64) error {
	_, err := conn.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, jobID)
	return errors.Wrap(err, "delete job")
}

// Pending возвращает все ожидающие задания указанного типа в порядке постановки.
// Используется консолью для диагностики.
func Pending(ctx context.Context, conn *sql.DB, action Action) ([]Job, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, added_ts, action, foreign_id, param FROM jobs WHERE action=? ORDER BY id`,
		int(action))
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.AddedTS, &j.Action, &j.ForeignID, &j.Param); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, errors.Wrap(rows.Err(), "iterate jobs")
}
