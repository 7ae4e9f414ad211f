package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/report"
	"riskengine/internal/sink"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sync.Pool для JSON буферов broadcast
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub управляет всеми активными WebSocket соединениями
//
// Рассылает операторам ход пакетных прогонов и события нарушений.
// Broadcast не блокирует вызывающего: при переполненном канале
// сообщение отбрасывается и учитывается в DroppedMessages, поэтому
// медленный клиент не тормозит диспетчер прогона.
//
// Типы сообщений:
// - runStarted, runProgress, runFinished: ход прогона
// - violation: новое нарушение
// - violationRemoved: снятие нарушения оператором
//
// Использование:
// 1. Создать hub: hub := NewHub()
// 2. Запустить в горутине: go hub.Run()
// 3. Остановить: hub.Stop()
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	dropped atomic.Int64
	log     *utils.Logger

	mu sync.RWMutex
}

var _ sink.Publisher = (*Hub)(nil)

// outbound - сериализованное сообщение с ключами подписки
type outbound struct {
	kind      MessageType
	accountID int64
	data      []byte
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(nil),
		log:        utils.L().WithComponent("ws"),
	}
}

// SetAllowedOrigins ограничивает Origin браузерных клиентов; пустой список = все
func (h *Hub) SetAllowedOrigins(origins []string) {
	h.origins = NewOriginChecker(origins)
}

// Run запускает главный цикл Hub до вызова Stop
//
// Список клиентов копируется под коротким RLock, отправка идёт без
// блокировки, медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", utils.Count("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", utils.Count("clients", n))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.filter.Allows(message.kind, message.accountID) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message.data:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.log.Warn("removed slow clients", utils.Count("removed", len(toRemove)), utils.Count("clients", n))
			}
		}
	}
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast отправляет сообщение подключенным клиентам
//
// Сообщения пакета доставляются по подпискам клиентов (см. StreamFilter),
// произвольные значения - только клиентам без фильтра по типу.
func (h *Hub) Broadcast(message interface{}) {
	var out outbound
	if r, ok := message.(routed); ok {
		out.kind, out.accountID = r.route()
	}

	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	out.data = make([]byte, len(data))
	copy(out.data, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- out:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastRunStarted сообщает о запуске прогона
func (h *Hub) BroadcastRunStarted(runID string, resumed bool) {
	h.Broadcast(NewRunStartedMessage(runID, resumed))
}

// BroadcastProgress отправляет ход прогона
func (h *Hub) BroadcastProgress(p batch.Progress) {
	h.Broadcast(NewRunProgressMessage(p))
}

// BroadcastRunFinished отправляет итоговый отчёт
func (h *Hub) BroadcastRunFinished(s *report.Summary) {
	h.Broadcast(NewRunFinishedMessage(s))
}

// PublishViolations рассылает новые нарушения
func (h *Hub) PublishViolations(_ context.Context, vs []models.Violation) error {
	for i := range vs {
		h.Broadcast(NewViolationMessage(&vs[i]))
	}
	return nil
}

// PublishRemoval рассылает снятие нарушения
func (h *Hub) PublishRemoval(_ context.Context, r *models.Removal) error {
	h.Broadcast(NewViolationRemovedMessage(r))
	return nil
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число сообщений, отброшенных при переполнении
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
