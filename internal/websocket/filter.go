package websocket

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// StreamFilter - подписка клиента на часть потока
//
// Задаётся параметрами запроса при подключении:
//
//	/ws/stream?types=violation,violationRemoved&account_id=42
//
// types ограничивает типы сообщений. account_id оставляет только
// сообщения этого счёта; события уровня прогона (runStarted,
// runFinished) к счёту не привязаны и проходят всегда.
type StreamFilter struct {
	types     map[MessageType]struct{}
	accountID int64
}

var knownTypes = map[MessageType]struct{}{
	MessageTypeRunStarted:       {},
	MessageTypeRunProgress:      {},
	MessageTypeRunFinished:      {},
	MessageTypeViolation:        {},
	MessageTypeViolationRemoved: {},
}

// ParseStreamFilter разбирает параметры подписки; nil - весь поток
func ParseStreamFilter(q url.Values) (*StreamFilter, error) {
	f := &StreamFilter{}

	if raw := q.Get("types"); raw != "" {
		f.types = make(map[MessageType]struct{})
		for _, part := range strings.Split(raw, ",") {
			t := MessageType(strings.TrimSpace(part))
			if t == "" {
				continue
			}
			if _, ok := knownTypes[t]; !ok {
				return nil, fmt.Errorf("unknown message type %q", t)
			}
			f.types[t] = struct{}{}
		}
	}

	if raw := q.Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("account_id must be a positive number")
		}
		f.accountID = id
	}

	if len(f.types) == 0 && f.accountID == 0 {
		return nil, nil
	}
	return f, nil
}

// Allows проверяет, нужно ли отправлять сообщение клиенту
func (f *StreamFilter) Allows(kind MessageType, accountID int64) bool {
	if f == nil {
		return true
	}
	if len(f.types) > 0 {
		if _, ok := f.types[kind]; !ok {
			return false
		}
	}
	if f.accountID != 0 && accountID != 0 && accountID != f.accountID {
		return false
	}
	return true
}
