package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

// ============================================================
// Публикация событий нарушений
// ============================================================
//
// Новые нарушения и снятия публикуются после коммита транзакции.
// Ошибка публикации не откатывает запись: хранилище остаётся
// источником истины, потребители могут перечитать его через API.

// Типы событий
const (
	EventViolationCreated = "violation.created"
	EventViolationRemoved = "violation.removed"
)

// Event - сообщение для внешних потребителей
type Event struct {
	Type      string            `json:"type"`
	AccountID int64             `json:"account_id"`
	Violation *models.Violation `json:"violation,omitempty"`
	Removal   *models.Removal   `json:"removal,omitempty"`
	At        time.Time         `json:"at"`
}

// Publisher - получатель событий нарушений
type Publisher interface {
	PublishViolations(ctx context.Context, vs []models.Violation) error
	PublishRemoval(ctx context.Context, r *models.Removal) error
}

// NoopPublisher ничего не публикует
type NoopPublisher struct{}

func (NoopPublisher) PublishViolations(context.Context, []models.Violation) error { return nil }
func (NoopPublisher) PublishRemoval(context.Context, *models.Removal) error       { return nil }

// multiPublisher рассылает события нескольким получателям
type multiPublisher []Publisher

// Multi объединяет получателей; ошибки не прерывают рассылку
func Multi(pubs ...Publisher) Publisher {
	out := make(multiPublisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multiPublisher) PublishViolations(ctx context.Context, vs []models.Violation) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishViolations(ctx, vs); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiPublisher) PublishRemoval(ctx context.Context, r *models.Removal) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishRemoval(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ============================================================
// Kafka
// ============================================================

// KafkaConfig - параметры продюсера
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// messageWriter - часть *kafka.Writer, нужная публикатору
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик, ключ сообщения - ID счёта
//
// Ключ по счёту сохраняет порядок событий одного счёта в партиции.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *utils.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher создаёт продюсер
func NewKafkaPublisher(cfg KafkaConfig, log *utils.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, cfg.Topic, log), nil
}

func newKafkaPublisher(w messageWriter, topic string, log *utils.Logger) *KafkaPublisher {
	if log == nil {
		log = utils.L()
	}
	return &KafkaPublisher{writer: w, topic: topic, log: log.WithComponent("kafka")}
}

// PublishViolations отправляет новые нарушения одним вызовом
func (p *KafkaPublisher) PublishViolations(ctx context.Context, vs []models.Violation) error {
	if len(vs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(vs))
	for i := range vs {
		v := vs[i]
		msg, err := p.message(Event{Type: EventViolationCreated, AccountID: v.AccountID, Violation: &v, At: now})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish violations", utils.Count("count", len(msgs)), utils.String("topic", p.topic), utils.Err(err))
		return fmt.Errorf("publish violations: %w", err)
	}
	return nil
}

// PublishRemoval отправляет событие снятия нарушения
func (p *KafkaPublisher) PublishRemoval(ctx context.Context, r *models.Removal) error {
	msg, err := p.message(Event{Type: EventViolationRemoved, AccountID: r.AccountID, Removal: r, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("failed to publish removal", utils.AccountID(r.AccountID), utils.String("topic", p.topic), utils.Err(err))
		return fmt.Errorf("publish removal: %w", err)
	}
	return nil
}

// Close закрывает продюсер, дожидаясь отправки буфера
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) message(e Event) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(e.AccountID, 10)),
		Value: data,
		Time:  e.At,
	}, nil
}
