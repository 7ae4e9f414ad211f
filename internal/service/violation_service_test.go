package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"riskengine/internal/models"
)

func violationFixture() []models.Violation {
	return []models.Violation{
		{AccountID: 7, Ref: models.TicketRef(11), Rule: models.RuleLotSize, Severity: models.SeverityCritical},
		{AccountID: 7, Ref: models.DayRef("2024-03-05"), Rule: models.RuleDailyLoss, Severity: models.SeverityBreach},
	}
}

func TestViolationService_List(t *testing.T) {
	tests := []struct {
		name      string
		query     *ViolationQuery
		wantErr   error
		wantLimit int
		wantRule  models.RuleType
		wantSev   models.Severity
	}{
		{name: "nil query uses defaults", query: nil, wantLimit: DefaultViolationLimit},
		{name: "limit capped", query: &ViolationQuery{Limit: 50000}, wantLimit: MaxViolationLimit},
		{name: "rule filter", query: &ViolationQuery{Rule: string(models.RuleDailyLoss), Limit: 10}, wantLimit: 10, wantRule: models.RuleDailyLoss},
		{name: "severity normalized", query: &ViolationQuery{Severity: " Breach "}, wantLimit: DefaultViolationLimit, wantSev: models.SeverityBreach},
		{name: "unknown rule", query: &ViolationQuery{Rule: "spoofing"}, wantErr: ErrInvalidRuleType},
		{name: "unknown severity", query: &ViolationQuery{Severity: "fatal"}, wantErr: ErrInvalidSeverity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockViolationStore{violations: violationFixture()}
			svc := NewViolationService(store)

			got, err := svc.List(context.Background(), tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("List() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != 2 {
				t.Errorf("len = %d, want 2", len(got))
			}
			if store.lastFilter.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", store.lastFilter.Limit, tt.wantLimit)
			}
			if store.lastFilter.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", store.lastFilter.Rule, tt.wantRule)
			}
			if store.lastFilter.Severity != tt.wantSev {
				t.Errorf("Severity = %q, want %q", store.lastFilter.Severity, tt.wantSev)
			}
		})
	}
}

func TestViolationService_List_EmptyIsNotNil(t *testing.T) {
	svc := NewViolationService(&MockViolationStore{})

	got, err := svc.List(context.Background(), &ViolationQuery{AccountID: 99})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got == nil {
		t.Error("List must return an empty slice, not nil")
	}
}

func TestViolationService_Remove(t *testing.T) {
	valid := func() *RemoveViolationRequest {
		return &RemoveViolationRequest{
			AccountID: 7,
			Ref:       models.TicketRef(11),
			Rule:      string(models.RuleLotSize),
			Operator:  "ops@desk",
			Reason:    "broker confirmed a split fill",
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *RemoveViolationRequest)
		wantErr error
	}{
		{name: "success", mutate: func(r *RemoveViolationRequest) {}},
		{name: "zero account", mutate: func(r *RemoveViolationRequest) { r.AccountID = 0 }, wantErr: ErrInvalidViolationKey},
		{name: "empty ref", mutate: func(r *RemoveViolationRequest) { r.Ref = "  " }, wantErr: ErrInvalidViolationKey},
		{name: "bad rule", mutate: func(r *RemoveViolationRequest) { r.Rule = "spoofing" }, wantErr: ErrInvalidRuleType},
		{name: "no operator", mutate: func(r *RemoveViolationRequest) { r.Operator = "" }, wantErr: ErrInvalidOperator},
		{name: "no reason", mutate: func(r *RemoveViolationRequest) { r.Reason = " " }, wantErr: ErrReasonRequired},
		{name: "unknown key", mutate: func(r *RemoveViolationRequest) { r.Ref = models.TicketRef(999) }, wantErr: ErrViolationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockViolationStore{violations: violationFixture()}
			svc := NewViolationService(store)

			req := valid()
			tt.mutate(req)
			removal, err := svc.Remove(context.Background(), req)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Remove() error = %v, want %v", err, tt.wantErr)
				}
				if len(store.violations) != 2 {
					t.Error("failed removal must not change the store")
				}
				return
			}
			if err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if removal.Operator != "ops@desk" || removal.Rule != models.RuleLotSize {
				t.Errorf("unexpected removal: %+v", removal)
			}
			if len(store.violations) != 1 {
				t.Errorf("violations left = %d, want 1", len(store.violations))
			}
		})
	}
}

func TestViolationService_Remove_TruncatesReason(t *testing.T) {
	store := &MockViolationStore{violations: violationFixture()}
	svc := NewViolationService(store)

	removal, err := svc.Remove(context.Background(), &RemoveViolationRequest{
		AccountID: 7,
		Ref:       models.TicketRef(11),
		Rule:      string(models.RuleLotSize),
		Operator:  "ops",
		Reason:    strings.Repeat("x", 5000),
	})
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(removal.Reason) != maxReasonLength {
		t.Errorf("reason length = %d, want %d", len(removal.Reason), maxReasonLength)
	}
}

func TestViolationService_Remove_StoreError(t *testing.T) {
	storeErr := errors.New("tx aborted")
	store := &MockViolationStore{violations: violationFixture(), removeErr: storeErr}
	svc := NewViolationService(store)

	_, err := svc.Remove(context.Background(), &RemoveViolationRequest{
		AccountID: 7, Ref: models.TicketRef(11), Rule: string(models.RuleLotSize), Operator: "ops", Reason: "fp",
	})
	if !errors.Is(err, storeErr) {
		t.Errorf("Remove() error = %v, want %v", err, storeErr)
	}
}

func TestViolationService_ListRemovals(t *testing.T) {
	store := &MockViolationStore{removals: []models.Removal{
		{ID: "a", AccountID: 1},
		{ID: "b", AccountID: 2},
	}}
	svc := NewViolationService(store)

	all, err := svc.ListRemovals(context.Background(), 0)
	if err != nil || len(all) != 2 {
		t.Errorf("ListRemovals(0) = %d, %v; want 2", len(all), err)
	}

	one, err := svc.ListRemovals(context.Background(), 2)
	if err != nil || len(one) != 1 || one[0].ID != "b" {
		t.Errorf("ListRemovals(2) = %+v, %v", one, err)
	}

	none, err := svc.ListRemovals(context.Background(), 42)
	if err != nil || none == nil {
		t.Errorf("ListRemovals(42) = %v, %v; want empty slice", none, err)
	}

	if _, err := svc.ListRemovals(context.Background(), -1); !errors.Is(err, ErrInvalidViolationKey) {
		t.Errorf("ListRemovals(-1) error = %v", err)
	}
}
