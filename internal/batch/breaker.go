package batch

import (
	"errors"
	"time"

	"riskengine/internal/models"
)

// ============================================================
// Circuit breaker диспетчера
// ============================================================
//
// Breaker принадлежит диспетчеру и не защищён мьютексом: воркеры
// только возвращают результаты, состояние меняет один поток.
//
// closed    → open       доля отказов в окне превысила порог
// open      → half-open  истёк cool-down, допускается probe-пакет
// half-open → closed     все пробы успешны
// half-open → open       отказ пробы, cool-down умножается
//
// Каждый переход начинает новое поколение. Исход учитывается только
// в том поколении, в котором счёт был выдан: счета, выданные до
// срабатывания, не считаются пробами.

// ErrCircuitOpen - диспетчер должен приостановить выдачу счетов
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState - состояние breaker
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[BreakerState][]BreakerState{
	StateClosed:   {StateOpen},
	StateOpen:     {StateHalfOpen},
	StateHalfOpen: {StateClosed, StateOpen},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to BreakerState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// BreakerConfig - параметры breaker
type BreakerConfig struct {
	Window             int           // размер скользящего окна исходов
	Threshold          float64       // порог доли отказов (строго больше)
	CoolDown           time.Duration // начальная пауза после срабатывания
	CoolDownMultiplier float64       // рост паузы после неудачной пробы
	MaxCoolDown        time.Duration
	ProbeSize          int // счетов в half-open
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:             10,
		Threshold:          0.5,
		CoolDown:           30 * time.Second,
		CoolDownMultiplier: 2,
		MaxCoolDown:        10 * time.Minute,
		ProbeSize:          3,
	}
}

func (c *BreakerConfig) applyDefaults() {
	def := DefaultBreakerConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		c.Threshold = def.Threshold
	}
	if c.CoolDown <= 0 {
		c.CoolDown = def.CoolDown
	}
	if c.CoolDownMultiplier < 1 {
		c.CoolDownMultiplier = def.CoolDownMultiplier
	}
	if c.MaxCoolDown < c.CoolDown {
		c.MaxCoolDown = c.CoolDown
	}
	if c.ProbeSize <= 0 {
		c.ProbeSize = def.ProbeSize
	}
}

// CircuitBreaker - скользящее окно исходов и таблица переходов
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	state    BreakerState
	gen      uint64
	outcomes []bool // true = отказ, кольцевой буфер
	next     int
	failures int

	openedAt time.Time
	coolDown time.Duration
	trips    int

	probesAdmitted  int
	probesSucceeded int

	onTransition func(from, to BreakerState)
}

// NewCircuitBreaker создаёт breaker в состоянии closed
func NewCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	cfg.applyDefaults()
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		cfg:      cfg,
		now:      now,
		state:    StateClosed,
		outcomes: make([]bool, cfg.Window),
		coolDown: cfg.CoolDown,
	}
}

// OnTransition задаёт callback смены состояния
func (b *CircuitBreaker) OnTransition(fn func(from, to BreakerState)) {
	b.onTransition = fn
}

// State возвращает текущее состояние
func (b *CircuitBreaker) State() BreakerState { return b.state }

// Trips возвращает число срабатываний closed/half-open → open
func (b *CircuitBreaker) Trips() int { return b.trips }

// CoolDown возвращает текущую длительность паузы
func (b *CircuitBreaker) CoolDown() time.Duration { return b.coolDown }

// Generation возвращает текущее поколение
func (b *CircuitBreaker) Generation() uint64 { return b.gen }

// Allow решает, можно ли выдать следующий счёт
func (b *CircuitBreaker) Allow() error {
	_, err := b.Admit()
	return err
}

// Admit выдаёт счёт и возвращает поколение, в котором он выдан
//
// В open по истечении cool-down переводит breaker в half-open.
// В half-open допускает не больше ProbeSize счетов.
func (b *CircuitBreaker) Admit() (uint64, error) {
	switch b.state {
	case StateClosed:
		return b.gen, nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return 0, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probesAdmitted >= b.cfg.ProbeSize {
			return 0, ErrCircuitOpen
		}
		b.probesAdmitted++
		return b.gen, nil
	}
	return 0, ErrCircuitOpen
}

// RetryAfter возвращает остаток cool-down (0 вне состояния open)
func (b *CircuitBreaker) RetryAfter() time.Duration {
	if b.state != StateOpen {
		return 0
	}
	left := b.coolDown - b.now().Sub(b.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Record учитывает исход счёта, выданного в текущем поколении
func (b *CircuitBreaker) Record(failed bool) {
	b.RecordAt(b.gen, failed)
}

// RecordAt учитывает исход счёта, выданного в поколении gen
//
// Исходы прошлых поколений отбрасываются.
func (b *CircuitBreaker) RecordAt(gen uint64, failed bool) {
	if gen != b.gen {
		return
	}
	switch b.state {
	case StateClosed:
		if b.outcomes[b.next] {
			b.failures--
		}
		b.outcomes[b.next] = failed
		if failed {
			b.failures++
		}
		b.next = (b.next + 1) % len(b.outcomes)

		if float64(b.failures)/float64(len(b.outcomes)) > b.cfg.Threshold {
			b.trip(b.cfg.CoolDown)
		}
	case StateHalfOpen:
		if failed {
			next := time.Duration(float64(b.coolDown) * b.cfg.CoolDownMultiplier)
			if next > b.cfg.MaxCoolDown {
				next = b.cfg.MaxCoolDown
			}
			b.trip(next)
			return
		}
		b.probesSucceeded++
		if b.probesSucceeded >= b.cfg.ProbeSize {
			b.transition(StateClosed)
			b.resetWindow()
			b.coolDown = b.cfg.CoolDown
		}
	}
}

func (b *CircuitBreaker) trip(coolDown time.Duration) {
	b.transition(StateOpen)
	b.trips++
	b.coolDown = coolDown
	b.openedAt = b.now()
}

func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	if !CanTransition(from, to) {
		return
	}
	b.state = to
	b.gen++
	b.probesAdmitted, b.probesSucceeded = 0, 0
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

func (b *CircuitBreaker) resetWindow() {
	for i := range b.outcomes {
		b.outcomes[i] = false
	}
	b.next, b.failures = 0, 0
}

// Snapshot возвращает состояние для чекпоинта прогона
func (b *CircuitBreaker) Snapshot() models.BreakerSnapshot {
	return models.BreakerSnapshot{State: string(b.state), Trips: b.trips, CoolDown: b.coolDown}
}

// Restore восстанавливает breaker возобновлённого прогона
//
// Прогон, прерванный в open или half-open, продолжается с probe-пакета
// с сохранённым cool-down.
func (b *CircuitBreaker) Restore(s models.BreakerSnapshot) {
	b.trips = s.Trips
	if s.CoolDown > 0 {
		b.coolDown = s.CoolDown
	}
	switch BreakerState(s.State) {
	case StateOpen, StateHalfOpen:
		b.state = StateHalfOpen
	default:
		b.state = StateClosed
		b.coolDown = b.cfg.CoolDown
	}
	b.gen++
	b.probesAdmitted, b.probesSucceeded = 0, 0
	b.resetWindow()
}
