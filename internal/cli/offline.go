package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/registry"
	"riskengine/internal/report"
	"riskengine/internal/repository"
	"riskengine/internal/sink"
	"riskengine/pkg/utils"
)

// Dataset - офлайн-выгрузка счетов с историей сделок (JSON)
//
//	{
//	  "accounts": [{"account": {...}, "trades": [...]}],
//	  "windows": [{"kind": "news", "label": "NFP", "start": "...", "end": "..."}]
//	}
type Dataset struct {
	Accounts []AccountHistory       `json:"accounts"`
	Windows  []models.CalendarWindow `json:"windows"`
}

// AccountHistory - счёт и его сделки
type AccountHistory struct {
	Account models.Account `json:"account"`
	Trades  []models.Trade `json:"trades"`
}

// LoadDataset читает выгрузку в StaticSource
func LoadDataset(path string) (*batch.StaticSource, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read dataset: %w", err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	src := batch.NewStaticSource()
	groups := make(map[string]bool)
	for _, h := range ds.Accounts {
		if h.Account.ID <= 0 {
			return nil, nil, fmt.Errorf("%s: account without positive id", path)
		}
		src.AddAccount(h.Account, h.Trades...)
		groups[h.Account.Group] = true
	}
	for _, w := range ds.Windows {
		src.AddWindow(w)
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return src, names, nil
}

// OfflineResult - итог офлайн-прогона
type OfflineResult struct {
	Summary    *report.Summary
	Violations []models.Violation
}

// OfflineRun оценивает выгрузку без базы данных
//
// Наборы правил берутся из sets; для групп выгрузки без набора
// используется models.DefaultRuleSet.
func OfflineRun(ctx context.Context, src *batch.StaticSource, groups []string, sets []models.RuleSetConfig,
	sel models.Selector, cfg batch.Config, log *utils.Logger) (*OfflineResult, error) {
	reg := registry.New(registry.NewMemoryStore(), registry.WithLogger(log))

	defined := make(map[string]bool, len(sets))
	for i := range sets {
		if _, err := reg.Publish(ctx, &sets[i]); err != nil {
			return nil, fmt.Errorf("rule set %s: %w", sets[i].Group, err)
		}
		defined[sets[i].Group] = true
	}
	for _, g := range groups {
		if defined[g] {
			continue
		}
		def := models.DefaultRuleSet(g)
		if _, err := reg.Publish(ctx, &def); err != nil {
			return nil, fmt.Errorf("default rule set %s: %w", g, err)
		}
	}

	store := sink.NewMemoryStore()
	s := sink.New(store, nil, log)
	p := batch.NewProcessor(cfg, src, reg, s, batch.NewMemoryRunStore(), batch.WithLogger(log))

	summary, err := p.Run(ctx, sel, batch.Options{Fresh: true})
	if err != nil {
		return nil, err
	}

	vs, err := store.ListViolations(ctx, repository.ViolationFilter{Limit: store.Len()})
	if err != nil {
		return nil, err
	}
	return &OfflineResult{Summary: summary, Violations: vs}, nil
}
