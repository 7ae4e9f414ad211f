package models

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownEvidenceKind возвращается при декодировании неизвестного варианта
var ErrUnknownEvidenceKind = errors.New("unknown evidence kind")

// evidenceEnvelope - формат хранения доказательства: {"kind": ..., "data": {...}}
type evidenceEnvelope struct {
	Kind EvidenceKind        `json:"kind"`
	Data jsoniter.RawMessage `json:"data"`
}

// MarshalEvidence кодирует доказательство вместе с тегом варианта
func MarshalEvidence(e Evidence) ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s evidence: %w", e.Kind(), err)
	}
	return json.Marshal(evidenceEnvelope{Kind: e.Kind(), Data: data})
}

// UnmarshalEvidence декодирует доказательство по тегу варианта
func UnmarshalEvidence(data []byte) (Evidence, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var env evidenceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode evidence envelope: %w", err)
	}

	var (
		ev  Evidence
		err error
	)
	switch env.Kind {
	case EvidenceDrawdown:
		ev, err = decodeAs[DrawdownEvidence](env.Data)
	case EvidenceDailyLoss:
		ev, err = decodeAs[DailyLossEvidence](env.Data)
	case EvidenceTradeRisk:
		ev, err = decodeAs[TradeRiskEvidence](env.Data)
	case EvidenceDuration:
		ev, err = decodeAs[DurationEvidence](env.Data)
	case EvidenceLotSize:
		ev, err = decodeAs[LotSizeEvidence](env.Data)
	case EvidenceWindow:
		ev, err = decodeAs[WindowEvidence](env.Data)
	case EvidenceConsistency:
		ev, err = decodeAs[ConsistencyEvidence](env.Data)
	case EvidenceSequence:
		ev, err = decodeAs[SequenceEvidence](env.Data)
	case EvidenceHedging:
		ev, err = decodeAs[HedgingEvidence](env.Data)
	case EvidenceAutomation:
		ev, err = decodeAs[AutomationEvidence](env.Data)
	case EvidenceTradeCount:
		ev, err = decodeAs[TradeCountEvidence](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvidenceKind, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s evidence: %w", env.Kind, err)
	}
	return ev, nil
}

func decodeAs[T Evidence](data []byte) (Evidence, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ============ JSON для API ============

type violationJSON struct {
	ID             int64               `json:"id"`
	AccountID      int64               `json:"account_id"`
	Ref            string              `json:"ref"`
	Rule           RuleType            `json:"rule_type"`
	Severity       Severity            `json:"severity"`
	Evidence       jsoniter.RawMessage `json:"evidence"`
	Description    string              `json:"description"`
	Fingerprint    string              `json:"fingerprint"`
	RuleSetID      int64               `json:"rule_set_id"`
	RuleSetVersion int                 `json:"rule_set_version"`
	RunID          string              `json:"run_id,omitempty"`
	EvaluatedAt    time.Time           `json:"evaluated_at"`
	CreatedAt      time.Time           `json:"created_at"`
}

// MarshalJSON включает доказательство в формате {"kind","data"}
func (v Violation) MarshalJSON() ([]byte, error) {
	ev, err := MarshalEvidence(v.Evidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(violationJSON{
		ID:             v.ID,
		AccountID:      v.AccountID,
		Ref:            v.Ref,
		Rule:           v.Rule,
		Severity:       v.Severity,
		Evidence:       ev,
		Description:    v.Description,
		Fingerprint:    v.Fingerprint,
		RuleSetID:      v.RuleSetID,
		RuleSetVersion: v.RuleSetVersion,
		RunID:          v.RunID,
		EvaluatedAt:    v.EvaluatedAt,
		CreatedAt:      v.CreatedAt,
	})
}

// UnmarshalJSON восстанавливает вариант доказательства по тегу
func (v *Violation) UnmarshalJSON(data []byte) error {
	var raw violationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ev, err := UnmarshalEvidence(raw.Evidence)
	if err != nil {
		return err
	}
	*v = Violation{
		ID:             raw.ID,
		AccountID:      raw.AccountID,
		Ref:            raw.Ref,
		Rule:           raw.Rule,
		Severity:       raw.Severity,
		Evidence:       ev,
		Description:    raw.Description,
		Fingerprint:    raw.Fingerprint,
		RuleSetID:      raw.RuleSetID,
		RuleSetVersion: raw.RuleSetVersion,
		RunID:          raw.RunID,
		EvaluatedAt:    raw.EvaluatedAt,
		CreatedAt:      raw.CreatedAt,
	}
	return nil
}

type removalJSON struct {
	ID          string              `json:"id"`
	AccountID   int64               `json:"account_id"`
	Ref         string              `json:"ref"`
	Rule        RuleType            `json:"rule_type"`
	Fingerprint string              `json:"fingerprint"`
	Evidence    jsoniter.RawMessage `json:"evidence"`
	Operator    string              `json:"operator"`
	Reason      string              `json:"reason"`
	RemovedAt   time.Time           `json:"removed_at"`
}

// MarshalJSON включает снятое доказательство в ответ аудита
func (r Removal) MarshalJSON() ([]byte, error) {
	ev, err := MarshalEvidence(r.Evidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(removalJSON{
		ID:          r.ID,
		AccountID:   r.AccountID,
		Ref:         r.Ref,
		Rule:        r.Rule,
		Fingerprint: r.Fingerprint,
		Evidence:    ev,
		Operator:    r.Operator,
		Reason:      r.Reason,
		RemovedAt:   r.RemovedAt,
	})
}
