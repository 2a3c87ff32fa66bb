package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/gaborage/go-bricks/logger"
)

// SESAPI is the part of the SES v2 client the sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends raw MIME messages through Amazon SES v2.
type SESSender struct {
	client SESAPI
	logger logger.Logger
}

func NewSESSender(awsCfg aws.Config, region string, log logger.Logger) *SESSender {
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if region != "" {
			o.Region = region
		}
	})
	return NewSESSenderWithClient(client, log)
}

func NewSESSenderWithClient(client SESAPI, log logger.Logger) *SESSender {
	return &SESSender{client: client, logger: log}
}

// Send returns the SES message id.
func (s *SESSender) Send(ctx context.Context, msg *Message) (string, error) {
	raw, err := msg.Build()
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", classifySESError(err)
	}

	id := aws.ToString(out.MessageId)
	s.logger.Info().
		Str("message_id", id).
		Str("subject", msg.Subject).
		Int("recipients", len(msg.To)).
		Msg("Email sent via SES")
	return id, nil
}

func classifySESError(err error) error {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return fmt.Errorf("ses rejected message: %w", err)
	}
	var unverified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &unverified) {
		return fmt.Errorf("ses sender domain not verified: %w", err)
	}
	var paused *types.SendingPausedException
	if errors.As(err, &paused) {
		return fmt.Errorf("ses sending paused: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("ses send failed (%s): %w", apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("ses send failed: %w", err)
}
