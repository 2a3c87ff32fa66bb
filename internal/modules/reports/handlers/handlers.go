// Package handlers exposes report runs over HTTP so operators can trigger a
// variant outside the schedule.
package handlers

import (
	"context"
	"fmt"
	"slices"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks/logger"
	"github.com/gaborage/go-bricks/server"
)

type RunReportsRequest struct {
	Variants []string `json:"variants"`
}

type RunReportsResponse struct {
	StatusCode int      `json:"statusCode"`
	Variants   []string `json:"variants"`
}

type ListVariantsRequest struct{}

type ListVariantsResponse struct {
	Variants []string `json:"variants"`
}

// ReportRunner is implemented by service.Driver.
type ReportRunner interface {
	RunVariants(ctx context.Context, names ...string) domain.Result
	Variants() []string
}

type ReportHandler struct {
	runner ReportRunner
	logger logger.Logger
}

func NewReportHandler(r ReportRunner, l logger.Logger) *ReportHandler {
	return &ReportHandler{
		runner: r,
		logger: l,
	}
}

// RunReports runs the requested variants synchronously, or every variant
// when none are named.
func (h *ReportHandler) RunReports(req RunReportsRequest, ctx server.HandlerContext) (*RunReportsResponse, server.IAPIError) {
	known := h.runner.Variants()
	for _, name := range req.Variants {
		if !slices.Contains(known, name) {
			return nil, server.NewBadRequestError(fmt.Sprintf("unknown report variant %q", name))
		}
	}

	result := h.runner.RunVariants(runContext(ctx), req.Variants...)
	if result == domain.RunInProgress() {
		return nil, server.NewConflictError(result.Body)
	}
	if !result.OK() {
		h.logger.Error().
			Int("statusCode", result.StatusCode).
			Str("body", result.Body).
			Msg("Manual report run failed")
		return nil, server.NewInternalServerError(result.Body)
	}

	ran := req.Variants
	if len(ran) == 0 {
		ran = known
	}
	return &RunReportsResponse{StatusCode: result.StatusCode, Variants: ran}, nil
}

// InvokeReports mirrors the Lambda contract: the run's Result is the raw
// response body, failures included, so callers written against the function
// can switch to HTTP unchanged.
func (h *ReportHandler) InvokeReports(req RunReportsRequest, ctx server.HandlerContext) (*domain.Result, server.IAPIError) {
	result := h.runner.RunVariants(runContext(ctx), req.Variants...)
	if !result.OK() {
		h.logger.Warn().
			Int("statusCode", result.StatusCode).
			Str("body", result.Body).
			Msg("Invoked report run failed")
	}
	return &result, nil
}

// runContext keeps request values but not its cancellation: a client that
// disconnects mid-run must not stop delivery between upload and email.
func runContext(ctx server.HandlerContext) context.Context {
	return context.WithoutCancel(ctx.Echo.Request().Context())
}

func (h *ReportHandler) ListVariants(_ ListVariantsRequest, _ server.HandlerContext) (*ListVariantsResponse, server.IAPIError) {
	return &ListVariantsResponse{Variants: h.runner.Variants()}, nil
}

func (h *ReportHandler) RegisterRoutes(hr *server.HandlerRegistry, r server.RouteRegistrar) {
	server.POST(hr, r, "/reports/run", h.RunReports, server.WithTags("reports"))
	server.GET(hr, r, "/reports/variants", h.ListVariants, server.WithTags("reports"))
	server.POST(hr, r, "/reports/invoke", h.InvokeReports,
		server.WithRawResponse(),
		server.WithTags("reports"),
	)
}
