// Package message — модель строки сообщения и связанные константы.
// Схемой таблицы msgs владеет слой приёма/хранения; подсистема жизненного
// цикла читает и чистит перечисленные здесь колонки. Пакет — лист доменного
// графа: его импортируют и хранение таймеров, и движок истечения, и консоль.

package message

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// MsgID — стабильный целочисленный ключ строки сообщения.
type MsgID int64

// ContactID — целочисленный ключ контакта. Значения до LastSpecial
// зарезервированы.
type ContactID int64

// Зарезервированные контакты.
const (
	ContactSelf        ContactID = 1 // собственный аккаунт («сохранённые сообщения»)
	ContactDevice      ContactID = 2 // виртуальный контакт для уведомлений клиента
	ContactLastSpecial ContactID = 9
)

// State — состояние жизненного цикла сообщения (владеет слой приёма).
// Значения стабильны, они хранятся в базе.
type State int

const (
	StateUndefined    State = 0
	StateInFresh      State = 10 // получено, пользователь ещё не видел ни чат, ни сообщение
	StateInNoticed    State = 13 // чат открывали, но само сообщение не показано
	StateInSeen       State = 16 // показано на экране; отсюда стартует таймер исчезновения
	StateOutDraft     State = 19
	StateOutPending   State = 20
	StateOutDelivered State = 26
)

// Viewtype — тип содержимого сообщения. Подсистеме нужен только текст.
type Viewtype int

// ViewtypeText — обычное текстовое сообщение.
const ViewtypeText Viewtype = 10

// SystemMessage — маркер системного сообщения в param (ключ "S").
type SystemMessage int

const (
	// SystemMessageNone — обычное пользовательское сообщение.
	SystemMessageNone SystemMessage = 0
	// SystemMessageEphemeralTimerChanged — уведомление о смене таймера
	// исчезающих сообщений; входящая сторона показывает его как инфо-строку.
	SystemMessageEphemeralTimerChanged SystemMessage = 10
)

// paramCmdKey — ключ маркера системного сообщения в колонке param.
const paramCmdKey = "S"

// EncodeParamCmd сериализует маркер в формат param ("S=<n>"); для
// SystemMessageNone возвращает пустую строку.
func EncodeParamCmd(cmd SystemMessage) string {
	if cmd == SystemMessageNone {
		return ""
	}
	return paramCmdKey + "=" + strconv.Itoa(int(cmd))
}

// DecodeParamCmd извлекает маркер из значения param. Повреждённые или
// посторонние строки дают SystemMessageNone: param делят несколько подсистем.
func DecodeParamCmd(param string) SystemMessage {
	for _, line := range strings.Split(param, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), paramCmdKey+"=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			return SystemMessageNone
		}
		return SystemMessage(n)
	}
	return SystemMessageNone
}

// Message — снимок строки msgs в объёме, нужном подсистеме жизненного цикла.
type Message struct {
	ID                 MsgID
	ChatID             int64
	FromID             ContactID
	ToID               ContactID
	Timestamp          int64
	State              State
	Text               string
	Subject            string
	TextRaw            string
	MimeHeaders        string
	Param              string
	ServerUID          uint32
	EphemeralTimer     uint32
	EphemeralTimestamp int64
}

// Load читает строку сообщения. sql.ErrNoRows прокидывается вызывающему.
func Load(ctx context.Context, conn *sql.DB, id MsgID) (Message, error) {
	var m Message
	err := conn.QueryRowContext(ctx,
		`SELECT id, chat_id, from_id, to_id, timestamp, state,
		        txt, subject, txt_raw, mime_headers, param,
		        server_uid, ephemeral_timer, ephemeral_timestamp
		 FROM msgs WHERE id=?`, int64(id)).
		Scan(&m.ID, &m.ChatID, &m.FromID, &m.ToID, &m.Timestamp, &m.State,
			&m.Text, &m.Subject, &m.TextRaw, &m.MimeHeaders, &m.Param,
			&m.ServerUID, &m.EphemeralTimer, &m.EphemeralTimestamp)
	if err != nil {
		return Message{}, errors.Wrap(err, "load message")
	}
	return m, nil
}

// TimerStarter — та часть движка истечения, которая нужна при отметке
// «просмотрено». Интерфейс объявлен здесь, чтобы не замыкать цикл импорта
// message → ephemeral.
type TimerStarter interface {
	StartEphemeralTimer(ctx context.Context, id MsgID) error
}

// MarkSeen переводит входящие сообщения в состояние «просмотрено» и запускает
// для каждого таймер исчезновения. Повторная отметка безвредна: состояние уже
// InSeen не трогаем, а запуск таймера монотонен (повторный вызов срок не
// увеличит).
func MarkSeen(ctx context.Context, conn *sql.DB, starter TimerStarter, ids []MsgID) error {
	for _, id := range ids {
		_, err := conn.ExecContext(ctx,
			`UPDATE msgs SET state=? WHERE id=? AND state IN (?, ?)`,
			StateInSeen, int64(id), StateInFresh, StateInNoticed)
		if err != nil {
			return errors.Wrap(err, "mark seen")
		}
		if starter != nil {
			if err := starter.StartEphemeralTimer(ctx, id); err != nil {
				return errors.Wrap(err, "start ephemeral timer")
			}
		}
	}
	return nil
}
