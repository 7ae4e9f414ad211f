package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
	"riskengine/pkg/crypto"
	"riskengine/pkg/utils"
)

type recordingPublisher struct {
	violations []models.Violation
	removals   []models.Removal
	err        error
}

func (p *recordingPublisher) PublishViolations(_ context.Context, vs []models.Violation) error {
	p.violations = append(p.violations, vs...)
	return p.err
}

func (p *recordingPublisher) PublishRemoval(_ context.Context, r *models.Removal) error {
	p.removals = append(p.removals, *r)
	return p.err
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) UpsertViolations(context.Context, []models.Violation) (*repository.UpsertResult, error) {
	return nil, s.err
}

func lotViolation(account, ticket int64, volume string) models.Violation {
	return models.Violation{
		AccountID: account,
		Ref:       models.TicketRef(ticket),
		Rule:      models.RuleLotSize,
		Severity:  models.SeverityCritical,
		Evidence: models.LotSizeEvidence{
			EvidenceBase: models.EvidenceBase{
				Metric:    decimal.RequireFromString(volume),
				Threshold: decimal.NewFromInt(5),
				Tickets:   []int64{ticket},
			},
			Symbol: "EURUSD",
		},
		Description: "lot size above limit",
	}
}

var testMeta = Meta{
	RuleSetID:      7,
	RuleSetVersion: 2,
	RunID:          "01HS0000000000000000000000",
	EvaluatedAt:    time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
}

func newTestSink() (*Sink, *MemoryStore, *recordingPublisher) {
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	return New(store, pub, utils.NewNopLogger()), store, pub
}

func TestRecordViolations_Idempotent(t *testing.T) {
	s, store, pub := newTestSink()
	ctx := context.Background()
	candidates := []models.Violation{lotViolation(1, 10, "6"), lotViolation(1, 11, "7.5")}

	first, err := s.RecordViolations(ctx, 1, candidates, testMeta)
	require.NoError(t, err)
	assert.Len(t, first.New, 2)
	assert.Equal(t, 2, first.ByRule[models.RuleLotSize])

	v := first.New[0]
	assert.Equal(t, int64(7), v.RuleSetID)
	assert.Equal(t, 2, v.RuleSetVersion)
	assert.Equal(t, testMeta.RunID, v.RunID)
	assert.True(t, crypto.ValidFingerprint(v.Fingerprint))

	second, err := s.RecordViolations(ctx, 1, candidates, testMeta)
	require.NoError(t, err)
	assert.Empty(t, second.New)
	assert.Equal(t, 2, second.Existing)

	assert.Equal(t, 2, store.Len())
	assert.Len(t, pub.violations, 2, "only new violations are published")
}

func TestRecordViolations_FingerprintStable(t *testing.T) {
	a := lotViolation(1, 10, "6")
	c := lotViolation(1, 10, "6.5")

	fa, err := Fingerprint(&a)
	require.NoError(t, err)
	fc, err := Fingerprint(&c)
	require.NoError(t, err)

	a.Description = "changed wording"
	fa2, err := Fingerprint(&a)
	require.NoError(t, err)

	assert.Equal(t, fa, fa2, "description is not part of the fingerprint")
	assert.NotEqual(t, fa, fc)
}

func TestRemoveViolation_SuppressesSameEvidence(t *testing.T) {
	s, _, pub := newTestSink()
	ctx := context.Background()
	candidate := lotViolation(1, 10, "6")

	_, err := s.RecordViolations(ctx, 1, []models.Violation{candidate}, testMeta)
	require.NoError(t, err)

	removal, err := s.RemoveViolation(ctx, candidate.Key(), "ops@desk", "broker rollover")
	require.NoError(t, err)
	assert.NotEmpty(t, removal.ID)
	assert.Equal(t, "ops@desk", removal.Operator)
	assert.True(t, crypto.ValidFingerprint(removal.Fingerprint))
	require.Len(t, pub.removals, 1)

	again, err := s.RecordViolations(ctx, 1, []models.Violation{candidate}, testMeta)
	require.NoError(t, err)
	assert.Empty(t, again.New)
	assert.Equal(t, 1, again.Suppressed)

	changed, err := s.RecordViolations(ctx, 1, []models.Violation{lotViolation(1, 10, "8")}, testMeta)
	require.NoError(t, err)
	assert.Len(t, changed.New, 1, "new evidence under the same key is recorded again")

	removals, err := s.ListRemovals(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, removals, 1)
}

func TestRemoveViolation_Errors(t *testing.T) {
	s, _, _ := newTestSink()
	key := models.ViolationKey{AccountID: 1, Ref: "ticket:99", Rule: models.RuleLotSize}

	_, err := s.RemoveViolation(context.Background(), key, "ops", "")
	assert.ErrorIs(t, err, ErrViolationNotFound)

	_, err = s.RemoveViolation(context.Background(), key, "  ", "")
	assert.Error(t, err)
}

func TestRecordViolations_Errors(t *testing.T) {
	s, _, _ := newTestSink()

	_, err := s.RecordViolations(context.Background(), 2, []models.Violation{lotViolation(1, 10, "6")}, testMeta)
	assert.Error(t, err, "candidates of another account are rejected")

	failing := New(&failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}, nil, utils.NewNopLogger())
	_, err = failing.RecordViolations(context.Background(), 1, []models.Violation{lotViolation(1, 10, "6")}, testMeta)
	require.Error(t, err)
	assert.Equal(t, risk.ClassTransientIO, risk.Classify(err))
}

func TestRecordViolations_PublishFailureKeepsWrite(t *testing.T) {
	s, store, pub := newTestSink()
	pub.err = errors.New("broker down")

	res, err := s.RecordViolations(context.Background(), 1, []models.Violation{lotViolation(1, 10, "6")}, testMeta)
	require.NoError(t, err)
	assert.Len(t, res.New, 1)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_ListFilters(t *testing.T) {
	s, _, _ := newTestSink()
	ctx := context.Background()

	_, err := s.RecordViolations(ctx, 1, []models.Violation{lotViolation(1, 10, "6"), lotViolation(1, 11, "6")}, testMeta)
	require.NoError(t, err)
	_, err = s.RecordViolations(ctx, 2, []models.Violation{lotViolation(2, 12, "6")}, testMeta)
	require.NoError(t, err)

	all, err := s.ListViolations(ctx, repository.ViolationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(2), all[0].AccountID, "newest first")

	one, err := s.ListViolations(ctx, repository.ViolationFilter{AccountID: 1, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

// ============================================================
// Kafka
// ============================================================

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "risk.violations", utils.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, p.PublishViolations(ctx, []models.Violation{lotViolation(42, 1, "6"), lotViolation(42, 2, "7")}))
	require.NoError(t, p.PublishViolations(ctx, nil))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	var ev struct {
		Type      string `json:"type"`
		AccountID int64  `json:"account_id"`
		Violation struct {
			Ref      string `json:"ref"`
			Evidence struct {
				Kind string `json:"kind"`
			} `json:"evidence"`
		} `json:"violation"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, EventViolationCreated, ev.Type)
	assert.Equal(t, int64(42), ev.AccountID)
	assert.Equal(t, "ticket:2", ev.Violation.Ref)

	require.NoError(t, p.PublishRemoval(ctx, &models.Removal{ID: "r1", AccountID: 42, Ref: "ticket:1", Rule: models.RuleLotSize, Operator: "ops"}))
	require.Len(t, w.msgs, 3)
	assert.Contains(t, string(w.msgs[2].Value), EventViolationRemoved)

	w.err = errors.New("leader not available")
	assert.Error(t, p.PublishViolations(ctx, []models.Violation{lotViolation(42, 3, "6")}))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, utils.NewNopLogger())
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, utils.NewNopLogger())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "risk.violations"}, utils.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestMulti(t *testing.T) {
	a, b := &recordingPublisher{err: errors.New("a failed")}, &recordingPublisher{}
	m := Multi(a, nil, b)

	err := m.PublishViolations(context.Background(), []models.Violation{lotViolation(1, 1, "6")})
	assert.Error(t, err)
	assert.Len(t, a.violations, 1)
	assert.Len(t, b.violations, 1, "a failing publisher does not stop the others")
}
