package job

import (
	"context"
	"fmt"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks/logger"
	"github.com/gaborage/go-bricks/scheduler"
)

// Runner is implemented by service.Driver.
type Runner interface {
	RunVariants(ctx context.Context, names ...string) domain.Result
}

// ReportJob runs report variants on the scheduler. A failed run is returned
// as an error so the scheduler records it.
type ReportJob struct {
	runner   Runner
	variants []string
}

// NewReportJob runs the named variants, or all of them when none are given.
func NewReportJob(runner Runner, variants ...string) *ReportJob {
	return &ReportJob{runner: runner, variants: variants}
}

// Execute implements scheduler.Job
func (j *ReportJob) Execute(ctx scheduler.JobContext) error {
	return j.run(ctx, ctx.Logger(), ctx.JobID())
}

func (j *ReportJob) run(ctx context.Context, log logger.Logger, jobID string) error {
	log.Info().
		Str("jobID", jobID).
		Int("variants", len(j.variants)).
		Msg("Generating MIS reports")

	result := j.runner.RunVariants(ctx, j.variants...)
	if !result.OK() {
		log.Error().
			Str("jobID", jobID).
			Int("statusCode", result.StatusCode).
			Msg("MIS report job failed")
		return fmt.Errorf("report run failed with status %d: %s", result.StatusCode, result.Body)
	}

	log.Info().Str("jobID", jobID).Msg("MIS reports delivered")
	return nil
}
