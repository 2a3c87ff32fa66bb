package reports

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/job"
	"github.com/gaborage/go-bricks/app"
	"github.com/gaborage/go-bricks/logger"
)

type scheduledJob struct {
	id       string
	job      any
	interval time.Duration
}

// fakeScheduler records FixedRate registrations; other schedules are unused.
type fakeScheduler struct {
	app.JobRegistrar
	jobs []scheduledJob
}

func (s *fakeScheduler) FixedRate(jobID string, j any, interval time.Duration) error {
	s.jobs = append(s.jobs, scheduledJob{id: jobID, job: j, interval: interval})
	return nil
}

func newTestModule(vars ...string) *Module {
	env := append([]string{
		"MISREPORTS_DATABASE__HOST=mysql.internal",
		"MISREPORTS_DATABASE__NAME=reports",
		"MISREPORTS_DATABASE__USERNAME=reporter",
		"MISREPORTS_SECRETS__ENABLED=false",
		"MISREPORTS_STORAGE__REGION=eu-west-2",
	}, vars...)
	return NewModule(config.Options{
		SkipDotEnv: true,
		Environ:    func() []string { return env },
	})
}

func TestModuleRegistersScheduledJob(t *testing.T) {
	m := newTestModule("MISREPORTS_SCHEDULE__INTERVAL=6h")
	require.NoError(t, m.Init(&app.ModuleDeps{Logger: logger.New("info", false)}))
	defer func() { assert.NoError(t, m.Shutdown()) }()

	assert.Equal(t, "reports", m.Name())
	assert.Equal(t, []string{"transactions", "erp-invoice-sync", "ocr-failures"}, m.driver.Variants())

	scheduler := &fakeScheduler{}
	require.NoError(t, m.RegisterJobs(scheduler))
	require.Len(t, scheduler.jobs, 1)
	assert.Equal(t, "mis-reports", scheduler.jobs[0].id)
	assert.Equal(t, 6*time.Hour, scheduler.jobs[0].interval)
	assert.IsType(t, &job.ReportJob{}, scheduler.jobs[0].job)
}

func TestModuleScheduleDisabled(t *testing.T) {
	m := newTestModule("MISREPORTS_SCHEDULE__ENABLED=false")
	require.NoError(t, m.Init(&app.ModuleDeps{Logger: logger.New("info", false)}))

	scheduler := &fakeScheduler{}
	require.NoError(t, m.RegisterJobs(scheduler))
	assert.Empty(t, scheduler.jobs)
}

func TestModuleInitRejectsInvalidConfig(t *testing.T) {
	m := newTestModule("MISREPORTS_ENVIRONMENT=production")
	assert.ErrorContains(t, m.Init(&app.ModuleDeps{Logger: logger.New("info", false)}), "failed to load report config")
	assert.NoError(t, m.Shutdown())
}
