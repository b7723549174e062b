// Package cli — интерактивная командная консоль оператора чат-клиента.
// Сервис стартует фоном, читает команды из readline и взаимодействует с
// подсистемой жизненного цикла: таймеры чатов, ручной sweep, ремонтный проход,
// очередь серверного удаления, настройки хранения и очередь исходящих.
// Интеграция в lifecycle корректная: Start/Stop идемпотентны.
package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/ephemeral"
	"mailchat/internal/domain/jobs"
	"mailchat/internal/domain/message"
	"mailchat/internal/domain/outbox"
	"mailchat/internal/infra/logger"
	"mailchat/internal/infra/pr"
	"mailchat/internal/infra/settings"
	"mailchat/internal/infra/storage"
)

// commandDescriptor описывает одну CLI-команду: имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "get <chat>", description: "Print the chat's ephemeral timer"},
	{name: "timer <chat> <seconds>", description: "Set the chat's ephemeral timer (0 disables)"},
	{name: "seen <msg> [...]", description: "Mark messages seen and start their timers"},
	{name: "sweep", description: "Run local expiry passes right now"},
	{name: "repair", description: "Arm timers missed by crashed mark-seen calls"},
	{name: "purge", description: "Drop rows that are redacted and gone from the server"},
	{name: "next", description: "Show the nearest local expiry deadline"},
	{name: "select", description: "Pick one server-deletion candidate and queue a job"},
	{name: "jobs", description: "List pending server-deletion jobs"},
	{name: "retention [device|server] [sec|off]", description: "Show or change device retention bounds"},
	{name: "pending", description: "Show outbound queue size"},
	{name: "dump <file>", description: "Write a JSON snapshot of pending expiries"},
	{name: "inspect <msg>", description: "Pretty-print a message row"},
	{name: "newchat <name> <contact>", description: "Create a 1:1 chat (for driving the client)"},
	{name: "exit", description: "Stop the console and terminate the client"},
}

// Service инкапсулирует консоль и её зависимости. Собственный cancel и
// WaitGroup обеспечивают синхронную остановку через Stop().
type Service struct {
	conn    *sql.DB
	engine  *ephemeral.Engine
	timers  *ephemeral.TimerStore
	set     *settings.Store
	outq    *outbox.Queue
	stopApp context.CancelFunc

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт консоль. stopApp — «глобальная» остановка приложения
// (команда exit, Ctrl-C на пустой строке).
func NewService(
	conn *sql.DB,
	engine *ephemeral.Engine,
	timers *ephemeral.TimerStore,
	set *settings.Store,
	outq *outbox.Queue,
	stopApp context.CancelFunc,
) *Service {
	return &Service{
		conn:    conn,
		engine:  engine,
		timers:  timers,
		set:     set,
		outq:    outq,
		stopApp: stopApp,
	}
}

// Start запускает цикл чтения команд в отдельной горутине; повторные вызовы
// игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.ctx = runCtx
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(runCtx)
		}()
	})
}

// Stop завершает консоль: прерывает readline, отменяет контекст и дожидается
// завершения цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if pr.Rl() != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл: подсказка, построчное чтение, разбор команд.
// Выход — по отмене контекста или EOF от readline.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.Println("mailchat console. Type 'help' for commands.")

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}
		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			if s.stopApp != nil {
				s.stopApp()
			}
			return
		}
		if s.handleCommand(strings.TrimSpace(line)) {
			if s.stopApp != nil {
				s.stopApp()
			}
			return
		}
	}
}

// handleCommand разбирает команду и выполняет действие. Возвращает true для
// команд, завершающих консоль.
func (s *Service) handleCommand(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		for _, d := range commandDescriptors {
			pr.Printf("  %-42s %s\n", d.name, d.description)
		}
	case "get":
		s.cmdGet(args)
	case "timer":
		s.cmdTimer(args)
	case "seen":
		s.cmdSeen(args)
	case "sweep":
		s.cmdSweep()
	case "repair":
		s.cmdRepair()
	case "purge":
		s.cmdPurge()
	case "next":
		s.cmdNext()
	case "select":
		s.cmdSelect()
	case "jobs":
		s.cmdJobs()
	case "retention":
		s.cmdRetention(args)
	case "pending":
		s.cmdPending()
	case "dump":
		s.cmdDump(args)
	case "inspect":
		s.cmdInspect(args)
	case "newchat":
		s.cmdNewChat(args)
	case "exit":
		return true
	default:
		pr.Printf("unknown command %q, try 'help'\n", cmd)
	}
	return false
}

func parseID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	return id, err == nil && id > 0
}

func (s *Service) cmdGet(args []string) {
	if len(args) != 1 {
		pr.Println("usage: get <chat>")
		return
	}
	id, ok := parseID(args[0])
	if !ok {
		pr.Println("bad chat id")
		return
	}
	timer, err := s.timers.Get(s.ctx, chat.ID(id))
	if err != nil {
		pr.ErrPrintf("get: %v\n", err)
		return
	}
	if !timer.Enabled() {
		pr.Printf("chat %d: timer disabled\n", id)
		return
	}
	pr.Printf("chat %d: %s seconds\n", id, timer.String())
}

func (s *Service) cmdTimer(args []string) {
	if len(args) != 2 {
		pr.Println("usage: timer <chat> <seconds>")
		return
	}
	id, ok := parseID(args[0])
	if !ok {
		pr.Println("bad chat id")
		return
	}
	timer, err := ephemeral.ParseTimer(args[1])
	if err != nil {
		pr.ErrPrintf("bad seconds value: %v\n", err)
		return
	}
	if err := s.timers.Set(s.ctx, chat.ID(id), timer); err != nil {
		pr.ErrPrintf("set timer: %v\n", err)
		return
	}
	pr.Printf("chat %d timer set to %s\n", id, timer.String())
}

func (s *Service) cmdSeen(args []string) {
	if len(args) == 0 {
		pr.Println("usage: seen <msg> [...]")
		return
	}
	ids := make([]message.MsgID, 0, len(args))
	for _, arg := range args {
		id, ok := parseID(arg)
		if !ok {
			pr.Printf("bad message id %q\n", arg)
			return
		}
		ids = append(ids, message.MsgID(id))
	}
	if err := message.MarkSeen(s.ctx, s.conn, s.engine, ids); err != nil {
		pr.ErrPrintf("mark seen: %v\n", err)
		return
	}
	pr.Printf("%d message(s) marked seen\n", len(ids))
}

func (s *Service) cmdSweep() {
	changed, err := s.engine.DeleteExpiredMessages(s.ctx)
	if err != nil {
		pr.ErrPrintf("sweep: %v\n", err)
		return
	}
	pr.Printf("sweep done, changed=%t\n", changed)
}

func (s *Service) cmdRepair() {
	if err := s.engine.StartEphemeralTimers(s.ctx); err != nil {
		pr.ErrPrintf("repair: %v\n", err)
		return
	}
	pr.Println("repair pass done")
}

func (s *Service) cmdPurge() {
	purged, err := s.engine.PurgeRedactedMessages(s.ctx)
	if err != nil {
		pr.ErrPrintf("purge: %v\n", err)
		return
	}
	pr.Printf("%d row(s) purged\n", purged)
}

func (s *Service) cmdNext() {
	var next int64
	err := s.conn.QueryRowContext(s.ctx,
		`SELECT ephemeral_timestamp FROM msgs
		 WHERE ephemeral_timestamp != 0 AND chat_id != ?
		 ORDER BY ephemeral_timestamp ASC LIMIT 1`, int64(chat.Trash)).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		pr.Println("no pending local expiries")
		return
	}
	if err != nil {
		pr.ErrPrintf("next: %v\n", err)
		return
	}
	pr.Printf("next local expiry at %s (slot armed=%t)\n",
		time.Unix(next, 0).Format(time.RFC3339), s.engine.Slot().Armed())
}

func (s *Service) cmdSelect() {
	id, ok, err := s.engine.LoadIMAPDeletionMsgID(s.ctx)
	if err != nil {
		pr.ErrPrintf("select: %v\n", err)
		return
	}
	if !ok {
		pr.Println("no server-deletion candidates")
		return
	}
	job, err := jobs.Add(s.ctx, s.conn, nil, jobs.DeleteMsgOnImap, id)
	if err != nil {
		pr.ErrPrintf("queue job: %v\n", err)
		return
	}
	pr.Printf("job %d queued for message %d\n", job.ID, id)
}

func (s *Service) cmdJobs() {
	pending, err := jobs.Pending(s.ctx, s.conn, jobs.DeleteMsgOnImap)
	if err != nil {
		pr.ErrPrintf("jobs: %v\n", err)
		return
	}
	if len(pending) == 0 {
		pr.Println("no pending server-deletion jobs")
		return
	}
	for _, j := range pending {
		pr.Printf("job %d: delete message %d from server (queued %s)\n",
			j.ID, j.ForeignID, time.Unix(j.AddedTS, 0).Format(time.RFC3339))
	}
}

func (s *Service) cmdRetention(args []string) {
	if len(args) == 0 {
		s.printRetention("device", settings.KeyDeleteDeviceAfter)
		s.printRetention("server", settings.KeyDeleteServerAfter)
		return
	}
	if len(args) != 2 {
		pr.Println("usage: retention [device|server] [seconds|off]")
		return
	}
	key := ""
	switch args[0] {
	case "device":
		key = settings.KeyDeleteDeviceAfter
	case "server":
		key = settings.KeyDeleteServerAfter
	default:
		pr.Println("usage: retention [device|server] [seconds|off]")
		return
	}
	if args[1] == "off" {
		if err := s.set.Clear(key); err != nil {
			pr.ErrPrintf("retention: %v\n", err)
			return
		}
		pr.Printf("%s retention disabled\n", args[0])
		return
	}
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || seconds <= 0 {
		pr.Println("seconds must be a positive number or 'off'")
		return
	}
	if err := s.set.SetSeconds(key, seconds); err != nil {
		pr.ErrPrintf("retention: %v\n", err)
		return
	}
	pr.Printf("%s retention set to %d seconds\n", args[0], seconds)
}

func (s *Service) printRetention(label, key string) {
	v, ok, err := s.set.Seconds(key)
	if err != nil {
		pr.ErrPrintf("retention %s: %v\n", label, err)
		return
	}
	if !ok {
		pr.Printf("%s retention: off\n", label)
		return
	}
	pr.Printf("%s retention: %d seconds\n", label, v)
}

func (s *Service) cmdPending() {
	n, err := s.outq.Pending(s.ctx)
	if err != nil {
		pr.ErrPrintf("pending: %v\n", err)
		return
	}
	pr.Printf("outbound queue: %d message(s)\n", n)
}

// expirySnapshot — строка диагностического снапшота pending-истечений.
type expirySnapshot struct {
	MsgID    int64 `json:"msg_id"`
	ChatID   int64 `json:"chat_id"`
	Deadline int64 `json:"deadline"`
}

func (s *Service) cmdDump(args []string) {
	if len(args) != 1 {
		pr.Println("usage: dump <file>")
		return
	}
	rows, err := s.conn.QueryContext(s.ctx,
		`SELECT id, chat_id, ephemeral_timestamp FROM msgs
		 WHERE ephemeral_timestamp != 0 AND chat_id != ?
		 ORDER BY ephemeral_timestamp ASC`, int64(chat.Trash))
	if err != nil {
		pr.ErrPrintf("dump: %v\n", err)
		return
	}
	defer func() { _ = rows.Close() }()

	var snapshot []expirySnapshot
	for rows.Next() {
		var e expirySnapshot
		if err := rows.Scan(&e.MsgID, &e.ChatID, &e.Deadline); err != nil {
			pr.ErrPrintf("dump: %v\n", err)
			return
		}
		snapshot = append(snapshot, e)
	}
	if err := rows.Err(); err != nil {
		pr.ErrPrintf("dump: %v\n", err)
		return
	}

	enc, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		pr.ErrPrintf("dump: %v\n", err)
		return
	}
	if err := storage.AtomicWriteFile(args[0], enc); err != nil {
		pr.ErrPrintf("dump: %v\n", err)
		return
	}
	pr.Printf("%d pending expirie(s) written to %s\n", len(snapshot), args[0])
}

func (s *Service) cmdInspect(args []string) {
	if len(args) != 1 {
		pr.Println("usage: inspect <msg>")
		return
	}
	id, ok := parseID(args[0])
	if !ok {
		pr.Println("bad message id")
		return
	}
	m, err := message.Load(s.ctx, s.conn, message.MsgID(id))
	if err != nil {
		pr.ErrPrintf("inspect: %v\n", err)
		return
	}
	pr.PP(m)
}

func (s *Service) cmdNewChat(args []string) {
	if len(args) != 2 {
		pr.Println("usage: newchat <name> <contact>")
		return
	}
	contact, ok := parseID(args[1])
	if !ok {
		pr.Println("bad contact id")
		return
	}
	id, err := chat.Create(s.ctx, s.conn, args[0], message.ContactID(contact))
	if err != nil {
		pr.ErrPrintf("newchat: %v\n", err)
		return
	}
	pr.Printf("chat %d created\n", id)
}
