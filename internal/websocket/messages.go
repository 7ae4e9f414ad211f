package websocket

import (
	"time"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/report"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRunStarted - прогон начат или возобновлён
	MessageTypeRunStarted MessageType = "runStarted"

	// MessageTypeRunProgress - завершена обработка счёта в прогоне
	// Отправляется после каждого чекпоинта
	MessageTypeRunProgress MessageType = "runProgress"

	// MessageTypeRunFinished - прогон завершён или прерван, с итоговым отчётом
	MessageTypeRunFinished MessageType = "runFinished"

	// MessageTypeViolation - записано новое нарушение
	MessageTypeViolation MessageType = "violation"

	// MessageTypeViolationRemoved - оператор снял нарушение
	MessageTypeViolationRemoved MessageType = "violationRemoved"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunStartedMessage - сообщение о запуске прогона
type RunStartedMessage struct {
	BaseMessage
	RunID   string `json:"run_id"`
	Resumed bool   `json:"resumed"`
}

// RunProgressMessage - сообщение о ходе прогона
type RunProgressMessage struct {
	BaseMessage
	Data *RunProgressData `json:"data"`
}

// RunProgressData - состояние прогона после очередного счёта
type RunProgressData struct {
	RunID     string  `json:"run_id"`
	AccountID int64   `json:"account_id"`
	Status    string  `json:"status"`
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
	Cursor    int64   `json:"cursor"`
	Breaker   string  `json:"breaker"`
}

// RunFinishedMessage - итоговый отчёт прогона
type RunFinishedMessage struct {
	BaseMessage
	Data *report.Summary `json:"data"`
}

// ViolationMessage - новое нарушение с доказательствами
type ViolationMessage struct {
	BaseMessage
	Data *models.Violation `json:"data"`
}

// ViolationRemovedMessage - аудит снятия нарушения
type ViolationRemovedMessage struct {
	BaseMessage
	Data *models.Removal `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewRunStartedMessage создает сообщение о запуске прогона
func NewRunStartedMessage(runID string, resumed bool) *RunStartedMessage {
	return &RunStartedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRunStarted, Timestamp: time.Now()},
		RunID:       runID,
		Resumed:     resumed,
	}
}

// NewRunProgressMessage создает сообщение о ходе прогона
func NewRunProgressMessage(p batch.Progress) *RunProgressMessage {
	data := &RunProgressData{
		RunID:     p.RunID,
		AccountID: p.AccountID,
		Status:    string(p.Status),
		Processed: p.Processed,
		Total:     p.Total,
		Cursor:    p.Cursor,
		Breaker:   p.Breaker,
	}
	if p.Total > 0 {
		data.Percent = float64(p.Processed) * 100 / float64(p.Total)
	}

	return &RunProgressMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRunProgress, Timestamp: time.Now()},
		Data:        data,
	}
}

// NewRunFinishedMessage создает сообщение с итогом прогона
func NewRunFinishedMessage(s *report.Summary) *RunFinishedMessage {
	return &RunFinishedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRunFinished, Timestamp: time.Now()},
		Data:        s,
	}
}

// NewViolationMessage создает сообщение о нарушении
func NewViolationMessage(v *models.Violation) *ViolationMessage {
	return &ViolationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeViolation, Timestamp: time.Now()},
		Data:        v,
	}
}

// NewViolationRemovedMessage создает сообщение о снятии нарушения
func NewViolationRemovedMessage(r *models.Removal) *ViolationRemovedMessage {
	return &ViolationRemovedMessage{
		BaseMessage: BaseMessage{Type: MessageTypeViolationRemoved, Timestamp: time.Now()},
		Data:        r,
	}
}

// ============ Маршрутизация по подпискам ============

// routed - сообщение, знающее свой тип и счёт (0 - уровень прогона)
type routed interface {
	route() (MessageType, int64)
}

func (m *RunStartedMessage) route() (MessageType, int64)  { return m.Type, 0 }
func (m *RunFinishedMessage) route() (MessageType, int64) { return m.Type, 0 }

func (m *RunProgressMessage) route() (MessageType, int64) {
	return m.Type, m.Data.AccountID
}

func (m *ViolationMessage) route() (MessageType, int64) {
	return m.Type, m.Data.AccountID
}

func (m *ViolationRemovedMessage) route() (MessageType, int64) {
	return m.Type, m.Data.AccountID
}
