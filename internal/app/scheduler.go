package app

import (
	"context"
	"errors"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/service"
	"riskengine/pkg/utils"
)

// RunStarter - часть RunService, нужная расписанию
type RunStarter interface {
	Start(req *service.StartRunRequest) (*service.ActiveRun, error)
}

// Scheduler периодически запускает прогон по активным счетам
//
// Если предыдущий прогон ещё выполняется, тик пропускается.
// Незавершённый прогон той же выборки возобновляется.
type Scheduler struct {
	runs     RunStarter
	interval time.Duration
	selector models.Selector
	log      *utils.Logger
}

// NewScheduler создаёт расписание; group == "" означает все группы
func NewScheduler(runs RunStarter, interval time.Duration, group string, log *utils.Logger) *Scheduler {
	return &Scheduler{
		runs:     runs,
		interval: interval,
		selector: models.Selector{Group: group, Status: models.AccountStatusActive},
		log:      log.WithComponent("scheduler"),
	}
}

// Run выполняет первый тик сразу и далее по интервалу до отмены ctx
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	active, err := s.runs.Start(&service.StartRunRequest{Selector: s.selector})
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		s.log.Debug("previous run still in progress, tick skipped")
	case err != nil:
		s.log.Error("scheduled run failed to start", utils.Err(err))
	default:
		s.log.Info("scheduled run started", utils.RunID(active.RunID), utils.Group(s.selector.Group))
	}
}
