package florch

import (
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

var reportScheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ProgressReporter logs the latest snapshot of a run on a cron schedule.
type ProgressReporter struct {
	cronScheduler *cron.Cron
	snapshot      func() Snapshot
	logger        hclog.Logger
}

func NewProgressReporter(spec string, snapshot func() Snapshot, logger hclog.Logger) (*ProgressReporter, error) {
	reporter := &ProgressReporter{
		cronScheduler: cron.New(cron.WithParser(reportScheduleParser)),
		snapshot:      snapshot,
		logger:        logger,
	}
	if _, err := reporter.cronScheduler.AddFunc(spec, reporter.report); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return reporter, nil
}

func (pr *ProgressReporter) Start() {
	pr.cronScheduler.Start()
}

// Stop waits for a running report to finish.
func (pr *ProgressReporter) Stop() {
	<-pr.cronScheduler.Stop().Done()
}

func (pr *ProgressReporter) report() {
	s := pr.snapshot()
	pr.logger.Info(fmt.Sprintf("Step %d/%d, train loss %.4f, val loss %.4f, cost %.2f", s.Step, s.TotalSteps,
		s.TrainLoss, s.ValLoss, s.Cost), "weights", common.FormatWeights(s.Weights), "dropped", s.Dropped)
}
