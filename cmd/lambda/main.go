// Package main runs MIS reports as an AWS Lambda function, typically fired by
// an EventBridge schedule. The function returns {"statusCode": 200} or
// {"statusCode": 500, "body": "..."}.
package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/service"
	"github.com/gaborage/go-bricks/logger"
)

// Event optionally narrows the run to some variants. Scheduled events carry
// no such field and run everything.
type Event struct {
	Variants []string `json:"variants"`
}

type runner interface {
	RunVariants(ctx context.Context, names ...string) domain.Result
}

func newHandler(r runner, log logger.Logger) func(context.Context, json.RawMessage) (domain.Result, error) {
	return func(ctx context.Context, payload json.RawMessage) (domain.Result, error) {
		var event Event
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event); err != nil {
				log.Warn().Err(err).Msg("Ignoring unparseable event payload")
			}
		}
		return r.RunVariants(ctx, event.Variants...), nil
	}
}

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		logger.New("info", false).Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	driver, err := service.NewFromConfig(context.Background(), cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire report driver")
	}

	lambda.Start(newHandler(driver, log))
}
