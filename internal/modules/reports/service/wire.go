package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/domain"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/mail"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/metrics"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/repository"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/reports/storage"
	"github.com/gaborage/go-bricks-mis-reports/internal/modules/shared/secrets"
	"github.com/gaborage/go-bricks/logger"
)

// VariantsFromConfig converts configured variants into the driver's model.
func VariantsFromConfig(cfgs []config.VariantConfig) []domain.Variant {
	variants := make([]domain.Variant, 0, len(cfgs))
	for _, vc := range cfgs {
		v := domain.Variant{Name: vc.Name, Reports: make([]domain.Report, 0, len(vc.Reports))}
		for _, rc := range vc.Reports {
			v.Reports = append(v.Reports, domain.Report{
				Name:       rc.Name,
				FilePrefix: rc.FilePrefix,
				Sheet:      rc.Sheet,
				Query:      domain.ReportQuery{SQL: rc.Query, ChunkSize: rc.ChunkSize},
				Recipients: rc.Recipients,
				Subject:    rc.Subject,
				Body:       rc.Body,
			})
		}
		variants = append(variants, v)
	}
	return variants
}

// NewFromConfig wires the production driver: MySQL or Postgres through
// database/sql, S3 uploads, SES or SMTP mail, Secrets Manager credentials
// and Pushgateway metrics. Call Close on the driver when done.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (*Driver, error) {
	env, err := secrets.ParseEnvironment(cfg.Environment)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	store, err := newSecretStore(awsCfg, cfg, env, log)
	if err != nil {
		return nil, err
	}

	var dbPassword repository.PasswordSource
	if cfg.Secrets.Enabled {
		dbPassword = func(ctx context.Context) (string, error) {
			creds, err := store.Credentials(ctx, env)
			if err != nil {
				return "", err
			}
			return creds.DBPassword, nil
		}
	}
	recorder := metrics.NewPromRecorder(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job)

	var invalidate func()
	if awsStore, ok := store.(*secrets.AWSSecretStore); ok {
		invalidate = func() { awsStore.InvalidateCache(env) }
		if err := recorder.TrackSecretCache(awsStore.CacheMetrics); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	connector := refreshingConnector(repository.NewSQLConnector(cfg.Database, dbPassword, log).Connect, invalidate)

	var mailer mail.Sender
	switch cfg.Mail.Transport {
	case "smtp":
		mailer = &credentialedSMTP{
			base:   mail.NewSMTPSender(cfg.Mail.SMTP, log),
			store:  store,
			env:    env,
			lookup: cfg.Secrets.Enabled && cfg.Mail.SMTP.Password == "",
		}
	default:
		mailer = mail.NewSESSender(awsCfg, cfg.Mail.Region, log)
	}

	return NewDriver(
		VariantsFromConfig(cfg.Variants),
		connector,
		storage.NewS3Store(awsCfg, cfg.Storage, log),
		mailer,
		Options{
			Bucket:     cfg.Storage.Bucket,
			KeyPrefix:  cfg.Storage.KeyPrefix,
			Sender:     cfg.Mail.Sender,
			SenderName: cfg.Mail.SenderName,
			DateFormat: cfg.DateFormat,
			TempDir:    cfg.TempDir,
		},
		log,
		WithRecorder(recorder),
		WithCloser(store.Close),
	)
}

// refreshingConnector drops cached credentials after a failed connect, so a
// rotated database password is read again on the next run instead of after
// the cache TTL.
func refreshingConnector(connect func(ctx context.Context) (*sql.DB, error), invalidate func()) ConnectorFunc {
	return func(ctx context.Context) (Conn, error) {
		db, err := connect(ctx)
		if err != nil {
			if invalidate != nil {
				invalidate()
			}
			return nil, err
		}
		return db, nil
	}
}

func newSecretStore(awsCfg aws.Config, cfg *config.Config, env secrets.Environment, log logger.Logger) (secrets.Store, error) {
	if !cfg.Secrets.Enabled {
		static := secrets.NewStaticStore(log)
		static.Put(env, secrets.Credentials{
			DBPassword:   cfg.Database.Password,
			MailPassword: cfg.Mail.SMTP.Password,
		})
		return static, nil
	}
	return secrets.NewAWSSecretStore(awsCfg, cfg.Secrets, log)
}

// credentialedSMTP resolves the SMTP password from the secret store on each
// send, so rotated credentials are picked up once the cache expires.
type credentialedSMTP struct {
	base   *mail.SMTPSender
	store  secrets.Store
	env    secrets.Environment
	lookup bool
}

func (s *credentialedSMTP) Send(ctx context.Context, msg *mail.Message) (string, error) {
	if !s.lookup {
		return s.base.Send(ctx, msg)
	}
	creds, err := s.store.Credentials(ctx, s.env)
	if err != nil {
		return "", fmt.Errorf("failed to resolve mail password: %w", err)
	}
	if creds.MailPassword == "" {
		return "", fmt.Errorf("%w: mail password for %s", secrets.ErrSecretKeyMissing, s.env)
	}
	return s.base.WithPassword(creds.MailPassword).Send(ctx, msg)
}
