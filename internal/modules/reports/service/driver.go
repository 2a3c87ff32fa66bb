// Package service runs report variants end to end: query, spreadsheet,
// upload, email.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/export"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/mail"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/metrics"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/repository"
	"github.com/gaborage/go-bricks/logger"
)

const tempDirPattern = "mis-report-*"

// Conn is a database handle owned by one variant run.
type Conn interface {
	repository.Queryer
	Close() error
}

// Connector opens the database connection for one variant run.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// ObjectStorage uploads a local file under bucket/key.
type ObjectStorage interface {
	Put(ctx context.Context, localPath, bucket, key string) error
}

// Options carries the delivery settings shared by every report.
type Options struct {
	Bucket     string
	KeyPrefix  string
	Sender     string
	SenderName string
	DateFormat string
	TempDir    string
}

type Option func(*Driver)

// WithClock replaces the wall clock used for date stamps and durations.
func WithClock(c clockwork.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithRecorder sends run metrics to r instead of discarding them.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithCloser registers a resource released by Close.
func WithCloser(fn func() error) Option {
	return func(d *Driver) { d.closers = append(d.closers, fn) }
}

// Driver runs the configured variants one after another. Each variant gets
// its own connection and its own temporary directory. Only one run is active
// at a time; a run started while another is in progress is refused.
type Driver struct {
	running   sync.Mutex
	variants  []domain.Variant
	connector Connector
	storage   ObjectStorage
	mailer    mail.Sender
	opts      Options
	clock     clockwork.Clock
	recorder  metrics.Recorder
	logger    logger.Logger
	closers   []func() error
}

// templateData is what subject and body templates can reference.
type templateData struct {
	Date    string
	Report  string
	Variant string
}

// artifactDelivery pairs a written artifact with the report it came from.
type artifactDelivery struct {
	report   domain.Report
	artifact *domain.ReportArtifact
}

// NewDriver builds a driver over the given collaborators. Every subject and
// body template is rendered once here, so a broken template fails wiring
// rather than a scheduled run.
func NewDriver(variants []domain.Variant, connector Connector, storage ObjectStorage, mailer mail.Sender, opts Options, log logger.Logger, options ...Option) (*Driver, error) {
	if opts.DateFormat == "" {
		opts.DateFormat = "02-01-2006"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	d := &Driver{
		variants:  variants,
		connector: connector,
		storage:   storage,
		mailer:    mailer,
		opts:      opts,
		clock:     clockwork.NewRealClock(),
		recorder:  metrics.Noop{},
		logger:    log,
	}
	for _, o := range options {
		o(d)
	}

	if err := d.checkTemplates(); err != nil {
		return nil, err
	}
	return d, nil
}

// Variants returns the configured variant names in run order.
func (d *Driver) Variants() []string {
	names := make([]string, len(d.variants))
	for i, v := range d.variants {
		names[i] = v.Name
	}
	return names
}

// Run executes every configured variant.
func (d *Driver) Run(ctx context.Context) domain.Result {
	return d.RunVariants(ctx)
}

// RunVariants executes the named variants, or all of them when names is
// empty. The first failing variant ends the run; reports already delivered
// stay delivered. Cancellation of ctx is ignored so a run never stops
// between upload and email.
func (d *Driver) RunVariants(ctx context.Context, names ...string) (result domain.Result) {
	if !d.running.TryLock() {
		d.logger.Warn().Int("variants", len(names)).Msg("Report run refused, another run is in progress")
		return domain.RunInProgress()
	}
	defer d.running.Unlock()

	ctx = context.WithoutCancel(ctx)
	runLog := d.logger.WithFields(map[string]any{"run_id": uuid.NewString()})

	defer func() {
		if r := recover(); r != nil {
			runLog.Error().Str("panic", fmt.Sprint(r)).Msg("Report run panicked")
			result = domain.Failure("An error occurred: %v", r)
		}
		if err := d.recorder.Flush(ctx); err != nil {
			runLog.Warn().Err(err).Msg("Failed to flush run metrics")
		}
	}()

	selected, err := d.selectVariants(names)
	if err != nil {
		runLog.Error().Err(err).Msg("Report run rejected")
		return domain.Failure("An error occurred: %v", err)
	}

	date := d.clock.Now().Format(d.opts.DateFormat)
	runLog.Info().
		Str("date", date).
		Int("variants", len(selected)).
		Msg("Starting report run")

	for _, v := range selected {
		if res := d.runVariant(ctx, runLog, v, date); !res.OK() {
			return res
		}
	}

	runLog.Info().Msg("Report run completed")
	return domain.Success()
}

// runVariant owns the connection for one variant. Connection failures are
// reported as database errors; anything after that, panics included, as a
// generic failure. The connection is closed exactly once on every path.
func (d *Driver) runVariant(ctx context.Context, runLog logger.Logger, v domain.Variant, date string) (result domain.Result) {
	log := runLog.WithFields(map[string]any{"variant": v.Name})
	started := d.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("Variant run panicked")
			result = domain.Failure("An error occurred: %v", r)
		}
		outcome := metrics.OutcomeSuccess
		if !result.OK() {
			outcome = metrics.OutcomeFailure
		}
		d.recorder.RunFinished(v.Name, outcome, d.clock.Since(started))
	}()

	conn, err := d.connector.Connect(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Database connection failed")
		return domain.Failure("Database error: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database connection")
		}
	}()

	if err := d.pipeline(ctx, log, conn, v, date); err != nil {
		source := "delivery"
		if repository.IsDatabaseError(err) {
			source = "database"
		}
		log.Error().Err(err).Str("source", source).Msg("Report pipeline failed")
		return domain.Failure("An error occurred: %v", err)
	}

	log.Info().Dur("elapsed", d.clock.Since(started)).Msg("Variant delivered")
	return domain.Success()
}

// pipeline writes every report, then uploads every artifact, then mails
// every artifact. Files live in a temporary directory removed on return.
func (d *Driver) pipeline(ctx context.Context, log logger.Logger, conn Conn, v domain.Variant, date string) error {
	dir, err := os.MkdirTemp(d.opts.TempDir, tempDirPattern)
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Failed to remove temp dir")
		}
	}()

	executor := repository.NewQueryExecutor(conn)
	writer := export.NewWriter(dir, log)

	deliveries := make([]artifactDelivery, 0, len(v.Reports))
	for _, r := range v.Reports {
		artifact, err := d.export(ctx, executor, writer, r, date)
		if err != nil {
			return fmt.Errorf("report %s: %w", r.Name, err)
		}
		d.recorder.ReportWritten(v.Name, r.Name, artifact.Rows, artifact.Chunks)
		deliveries = append(deliveries, artifactDelivery{report: r, artifact: artifact})
	}

	for _, del := range deliveries {
		key := d.opts.KeyPrefix + del.artifact.Name
		if err := d.storage.Put(ctx, del.artifact.Path, d.opts.Bucket, key); err != nil {
			return fmt.Errorf("upload %s: %w", del.artifact.Name, err)
		}
	}

	for _, del := range deliveries {
		id, err := d.send(ctx, v, del, date)
		if err != nil {
			return fmt.Errorf("email %s: %w", del.artifact.Name, err)
		}
		d.recorder.ReportDelivered(v.Name, del.report.Name)
		log.Info().
			Str("report", del.report.Name).
			Str("message_id", id).
			Int("rows", del.artifact.Rows).
			Msg("Report delivered")
	}
	return nil
}

func (d *Driver) export(ctx context.Context, executor *repository.QueryExecutor, writer *export.Writer, r domain.Report, date string) (*domain.ReportArtifact, error) {
	reader, err := executor.Execute(ctx, r.Query)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return writer.Write(reader, r.FilePrefix+"_"+date, r.Sheet)
}

func (d *Driver) send(ctx context.Context, v domain.Variant, del artifactDelivery, date string) (string, error) {
	data := templateData{Date: date, Report: del.report.Name, Variant: v.Name}

	subject, err := render(del.report.Subject, data)
	if err != nil {
		return "", fmt.Errorf("render subject: %w", err)
	}
	body, err := render(del.report.Body, data)
	if err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}

	content, err := os.ReadFile(del.artifact.Path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	return d.mailer.Send(ctx, &mail.Message{
		From:     d.opts.Sender,
		FromName: d.opts.SenderName,
		To:       slices.Clone(del.report.Recipients),
		Subject:  subject,
		Body:     body,
		Attachments: []mail.Attachment{{
			Filename:    del.artifact.Name,
			ContentType: mail.XLSXContentType,
			Data:        content,
		}},
	})
}

func (d *Driver) selectVariants(names []string) ([]domain.Variant, error) {
	if len(names) == 0 {
		return d.variants, nil
	}

	selected := make([]domain.Variant, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(d.variants, func(v domain.Variant) bool { return v.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVariant, name)
		}
		selected = append(selected, d.variants[i])
	}
	return selected, nil
}

func (d *Driver) checkTemplates() error {
	var errs []error
	for _, v := range d.variants {
		for _, r := range v.Reports {
			if _, err := render(r.Subject, templateData{}); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s subject: %w", v.Name, r.Name, err))
			}
			if _, err := render(r.Body, templateData{}); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s body: %w", v.Name, r.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases resources registered with WithCloser.
func (d *Driver) Close() error {
	var errs []error
	for _, fn := range d.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

func render(text string, data templateData) (string, error) {
	tmpl, err := template.New("").Parse(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
