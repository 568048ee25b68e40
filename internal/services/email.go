package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	appconfig "github.com/trustgate/backend/internal/config"
	"github.com/trustgate/backend/pkg/logger"
)

// Mailer is the outbound email collaborator. Callers treat delivery as
// fire-and-forget: failures are logged, never re-thrown into the primary
// operation.
type Mailer interface {
	Send(ctx context.Context, template, recipient string, data map[string]interface{}) error
}

type emailContent struct {
	subject string
	body    string
}

func renderTemplate(template string, data map[string]interface{}) (emailContent, error) {
	switch template {
	case "invitation_created":
		return emailContent{
			subject: "You've been invited to join an organization on TrustGate",
			body: fmt.Sprintf(
				"You have been invited as %v.\n\nAccept the invitation here: %v\n\nThe link expires %v.",
				data["role"], data["inviteURL"], data["expiresAt"],
			),
		}, nil
	case "invitation_resent":
		return emailContent{
			subject: "Your TrustGate invitation has been renewed",
			body: fmt.Sprintf(
				"A new invitation link was issued for you: %v\n\nAny earlier link no longer works. This one expires %v.",
				data["inviteURL"], data["expiresAt"],
			),
		}, nil
	default:
		return emailContent{}, fmt.Errorf("unknown email template: %s", template)
	}
}

// SESMailer sends through AWS SES.
type SESMailer struct {
	client      *ses.Client
	fromAddress string
}

func NewSESMailer(ctx context.Context, cfg appconfig.EmailConfig) (*SESMailer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &SESMailer{
		client:      ses.NewFromConfig(awsCfg),
		fromAddress: cfg.FromAddress,
	}, nil
}

func (m *SESMailer) Send(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	content, err := renderTemplate(template, data)
	if err != nil {
		return err
	}

	_, err = m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &sestypes.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{
				Data:    aws.String(content.subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &sestypes.Body{
				Text: &sestypes.Content{
					Data:    aws.String(content.body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sending email via ses: %w", err)
	}

	logger.Info("email_sent", map[string]interface{}{
		"template":  template,
		"recipient": recipient,
	})
	return nil
}

// LogMailer is the development/test mailer: it only logs what would be sent.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, template, recipient string, _ map[string]interface{}) error {
	logger.Info("email_skipped", map[string]interface{}{
		"template":  template,
		"recipient": recipient,
		"reason":    "email delivery disabled",
	})
	return nil
}
