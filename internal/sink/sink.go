package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
	"riskengine/pkg/crypto"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Violation Sink
// ============================================================
//
// Запись нарушений идемпотентна по ключу (account, ref, rule).
// Каждый кандидат получает отпечаток blake2b от ключа и доказательств:
// снятое оператором нарушение с тем же отпечатком больше не
// записывается, а с изменившимися доказательствами записывается заново.

// ErrViolationNotFound - нарушения с таким ключом нет
var ErrViolationNotFound = repository.ErrViolationNotFound

// Store - хранилище нарушений
type Store interface {
	UpsertViolations(ctx context.Context, vs []models.Violation) (*repository.UpsertResult, error)
	DeleteViolation(ctx context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error)
	ListViolations(ctx context.Context, f repository.ViolationFilter) ([]models.Violation, error)
	ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error)
}

var _ Store = (*repository.ViolationRepository)(nil)

// Meta - метаданные оценки, которыми помечается каждое нарушение
type Meta struct {
	RuleSetID      int64
	RuleSetVersion int
	RunID          string
	EvaluatedAt    time.Time
}

// RecordResult - итог записи кандидатов одного счёта
type RecordResult struct {
	New        []models.Violation
	Existing   int
	Suppressed int
	ByRule     map[models.RuleType]int // только новые
}

// Sink записывает и снимает нарушения
type Sink struct {
	store     Store
	publisher Publisher
	log       *utils.Logger
}

// New создаёт sink; publisher может быть nil
func New(store Store, publisher Publisher, log *utils.Logger) *Sink {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if log == nil {
		log = utils.L()
	}
	return &Sink{store: store, publisher: publisher, log: log.WithComponent("sink")}
}

// Fingerprint возвращает отпечаток ключа и доказательств нарушения
func Fingerprint(v *models.Violation) (string, error) {
	ev, err := models.MarshalEvidence(v.Evidence)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", v.Key(), err)
	}
	return crypto.Fingerprint([]byte(v.Key().String()), ev), nil
}

// RecordViolations записывает кандидатов одного счёта в одной транзакции
//
// Кандидаты чужого счёта отклоняются целиком. Сбой хранилища
// возвращается как risk.TransientIOError: запись повторяема.
func (s *Sink) RecordViolations(ctx context.Context, accountID int64, candidates []models.Violation, meta Meta) (*RecordResult, error) {
	res := &RecordResult{ByRule: make(map[models.RuleType]int)}
	if len(candidates) == 0 {
		return res, nil
	}
	if meta.EvaluatedAt.IsZero() {
		meta.EvaluatedAt = time.Now().UTC()
	}

	batch := make([]models.Violation, len(candidates))
	for i := range candidates {
		v := candidates[i]
		if v.AccountID != accountID {
			return nil, fmt.Errorf("candidate %s does not belong to account %d", v.Key(), accountID)
		}
		fp, err := Fingerprint(&v)
		if err != nil {
			return nil, err
		}
		v.Fingerprint = fp
		v.RuleSetID = meta.RuleSetID
		v.RuleSetVersion = meta.RuleSetVersion
		v.RunID = meta.RunID
		v.EvaluatedAt = meta.EvaluatedAt
		batch[i] = v
	}

	up, err := s.store.UpsertViolations(ctx, batch)
	if err != nil {
		return nil, risk.Transient(fmt.Sprintf("record violations for account %d", accountID), err)
	}

	res.New, res.Existing, res.Suppressed = up.Inserted, up.Existing, up.Suppressed
	for _, v := range res.New {
		res.ByRule[v.Rule]++
	}

	if len(res.New) > 0 {
		s.log.Info("violations recorded",
			utils.AccountID(accountID),
			utils.RunID(meta.RunID),
			utils.Count("new", len(res.New)),
			utils.Count("existing", res.Existing),
			utils.Count("suppressed", res.Suppressed))

		if err := s.publisher.PublishViolations(ctx, res.New); err != nil {
			s.log.Warn("violation events not published", utils.AccountID(accountID), utils.Err(err))
		}
	}
	return res, nil
}

// RemoveViolation снимает нарушение с записью аудита
//
// Возвращает ErrViolationNotFound, если ключа нет.
func (s *Sink) RemoveViolation(ctx context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error) {
	if err := utils.ValidateOperator(operator); err != nil {
		return nil, fmt.Errorf("operator: %w", err)
	}

	removal, err := s.store.DeleteViolation(ctx, key, operator, reason)
	if err != nil {
		if errors.Is(err, repository.ErrViolationNotFound) {
			return nil, ErrViolationNotFound
		}
		return nil, fmt.Errorf("remove violation %s: %w", key, err)
	}

	s.log.Info("violation removed",
		utils.AccountID(key.AccountID),
		utils.RuleType(string(key.Rule)),
		utils.String("ref", key.Ref),
		utils.Operator(operator))

	if err := s.publisher.PublishRemoval(ctx, removal); err != nil {
		s.log.Warn("removal event not published", utils.AccountID(key.AccountID), utils.Err(err))
	}
	return removal, nil
}

// ListViolations возвращает нарушения по фильтру
func (s *Sink) ListViolations(ctx context.Context, f repository.ViolationFilter) ([]models.Violation, error) {
	return s.store.ListViolations(ctx, f)
}

// ListRemovals возвращает аудит снятий (accountID = 0 - по всем счетам)
func (s *Sink) ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error) {
	return s.store.ListRemovals(ctx, accountID)
}
