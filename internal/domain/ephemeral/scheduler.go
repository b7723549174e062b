// Планировщик пробуждения: одна отложенная задача, стреляющая в момент
// ближайшего локального истечения.
//
// Слот — отдельный ресурс, а не поле движка: задача должна публиковать в шину
// событий и быть отменяемой из движка, при этом ни один из них не владеет
// другим (слотом владеет собирающий всё воедино слой приложения). В каждый
// момент взведено не более одной задачи; любой перевзвод сначала отменяет
// предыдущую.

package ephemeral

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"mailchat/internal/domain/chat"
	"mailchat/internal/domain/events"
)

// wakeCushion — зазор поверх срока истечения. Штамп срока и часы сна — разные
// источники времени; без зазора задача просыпалась бы на долю секунды раньше
// и будила UI впустую.
const wakeCushion = time.Second

// TaskSlot — одноместный держатель отложенной задачи пробуждения.
// Писатель эксклюзивен: менять содержимое слота может только Reschedule
// (и Stop при завершении).
type TaskSlot struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskSlot создаёт пустой слот.
func NewTaskSlot() *TaskSlot {
	return &TaskSlot{}
}

// cancelLocked отменяет текущую задачу, если она есть. Вызывается под mu.
func (s *TaskSlot) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Armed сообщает, взведена ли задача. Для диагностики и тестов.
func (s *TaskSlot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop отменяет задачу и дожидается завершения её горутины. Используется при
// остановке приложения и в тестах на утечки горутин.
func (s *TaskSlot) Stop() {
	s.mu.Lock()
	s.cancelLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// Reschedule перевзводит пробуждение по ближайшему сроку локального истечения.
// Вызывается после каждой мутации, способной сдвинуть горизонт: взвода
// таймера, sweep-а, установки срока путём приёма. Идемпотентна и дешева.
//
// Возрастная политика устройства здесь не участвует: её гранулярность — часы,
// а sweep и так выполняется при каждой загрузке чатлиста.
func (e *Engine) Reschedule(ctx context.Context) {
	// Корзину пропускаем: локальное удаление этих строк уже произошло.
	var nextTS int64
	err := e.db.QueryRowContext(ctx,
		`SELECT ephemeral_timestamp FROM msgs
		 WHERE ephemeral_timestamp != 0 AND chat_id != ?
		 ORDER BY ephemeral_timestamp ASC
		 LIMIT 1`, int64(chat.Trash)).Scan(&nextTS)
	if errors.Is(err, sql.ErrNoRows) {
		e.slot.mu.Lock()
		e.slot.cancelLocked()
		e.slot.mu.Unlock()
		return
	}
	if err != nil {
		// Слот не трогаем: пробуждение best-effort, пусть доживает прежняя
		// задача, следующий перевзвод повторит запрос.
		e.log.Warn("cannot query next ephemeral deadline: " + err.Error())
		return
	}

	e.slot.mu.Lock()
	defer e.slot.mu.Unlock()
	e.slot.cancelLocked()

	deadline := time.Unix(nextTS, 0).Add(wakeCushion)
	delay := deadline.Sub(e.clockNow())
	if delay <= 0 {
		// Срок уже наступил: будим немедленно, слот остаётся пустым.
		e.bus.Emit(broadcastMsgsChanged())
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e.slot.cancel = cancel
	e.slot.wg.Add(1)
	go func() {
		defer e.slot.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-taskCtx.Done():
			// Отмена после истечения сна, но до публикации — допустима:
			// событие подавляется, следующий Reschedule выстрелит заново.
			return
		case <-timer.C:
			e.bus.Emit(broadcastMsgsChanged())
		}
	}()
}

// clockNow возвращает текущее время по часам движка.
func (e *Engine) clockNow() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

// broadcastMsgsChanged — широковещательная форма MsgsChanged: нулевые
// идентификаторы означают «перечитайте всё».
func broadcastMsgsChanged() events.Event {
	return events.Event{Kind: events.KindMsgsChanged}
}
