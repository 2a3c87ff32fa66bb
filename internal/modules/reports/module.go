package reports

import (
	"context"
	"fmt"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/handlers"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/job"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/service"
	"github.com/gaborage/go-bricks/app"
	"github.com/gaborage/go-bricks/logger"
	"github.com/gaborage/go-bricks/messaging"
	"github.com/gaborage/go-bricks/server"
)

const jobName = "mis-reports"

// Module runs the MIS report variants on a fixed schedule and exposes
// manual triggers over HTTP.
type Module struct {
	cfg     *config.Config
	opts    config.Options
	driver  *service.Driver
	handler *handlers.ReportHandler
	logger  logger.Logger
}

// NewModule creates a reports module reading configuration with opts.
func NewModule(opts config.Options) *Module {
	return &Module{opts: opts}
}

// Name returns the module name for registration
func (m *Module) Name() string {
	return "reports"
}

// Init loads the report configuration and wires the driver.
func (m *Module) Init(deps *app.ModuleDeps) error {
	m.logger = deps.Logger.WithFields(map[string]any{
		"module": "reports",
	})

	m.logger.Info().Msg("Initializing reports module")

	cfg, err := config.Load(m.opts)
	if err != nil {
		return fmt.Errorf("failed to load report config: %w", err)
	}
	m.cfg = cfg

	driver, err := service.NewFromConfig(context.Background(), cfg, m.logger)
	if err != nil {
		return fmt.Errorf("failed to wire report driver: %w", err)
	}
	m.driver = driver
	m.handler = handlers.NewReportHandler(driver, m.logger)

	m.logger.Info().
		Str("environment", cfg.Environment).
		Int("variants", len(cfg.Variants)).
		Msg("Reports module initialized successfully")

	return nil
}

func (m *Module) RegisterRoutes(hr *server.HandlerRegistry, r server.RouteRegistrar) {
	m.handler.RegisterRoutes(hr, r)
}

// DeclareMessaging declares messaging infrastructure for this module
func (m *Module) DeclareMessaging(_ *messaging.Declarations) {
	// Reports are delivered by email, not over the broker.
}

func (m *Module) RegisterJobs(scheduler app.JobRegistrar) error {
	if !m.cfg.Schedule.Enabled {
		m.logger.Info().Msg("Report schedule disabled")
		return nil
	}
	return scheduler.FixedRate(jobName, job.NewReportJob(m.driver), m.cfg.Schedule.Interval)
}

// Shutdown releases the secret store.
func (m *Module) Shutdown() error {
	if m.driver == nil {
		return nil
	}
	return m.driver.Close()
}
