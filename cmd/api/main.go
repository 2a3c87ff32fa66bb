// Package main is the entry point for the long-running MIS reports service:
// scheduled report runs plus HTTP triggers.
package main

import (
	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports"
	"github.com/gaborage/go-bricks/app"
)

func main() {
	application, log, err := app.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	// Report settings are read by the module itself from MISREPORTS_* and
	// the optional MISREPORTS_CONFIG_FILE.
	module := reports.NewModule(config.Options{})
	if err := application.RegisterModule(module); err != nil {
		log.Fatal().Err(err).Str("module", module.Name()).Msg("Failed to register module")
	}

	if err := application.Run(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}
}
