package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/postguard/pkg/logger"
)

// EmailService delivers account emails.
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
}

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailService sends email through AWS SES.
type SESEmailService struct {
	client  SESAPI
	from    string
	baseURL string
	logger  *slog.Logger
}

func NewSESEmailService(ctx context.Context, region, fromAddress, fromName, baseURL string, logger *slog.Logger) (*SESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESEmailServiceWithClient(ses.NewFromConfig(cfg), fromAddress, fromName, baseURL, logger), nil
}

func NewSESEmailServiceWithClient(client SESAPI, fromAddress, fromName, baseURL string, logger *slog.Logger) *SESEmailService {
	from := fromAddress
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromAddress)
	}
	return &SESEmailService{client: client, from: from, baseURL: baseURL, logger: logger}
}

func verificationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/verify-email?token=%s", baseURL, url.QueryEscape(token))
}

func (s *SESEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := verificationLink(s.baseURL, token)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <h1>Verify your email address</h1>
  <p>Thanks for signing up. Confirm your address to finish setting up your account:</p>
  <p><a href="%s">Verify email address</a></p>
  <p>Or paste this link into your browser:<br><code>%s</code></p>
  <p>The link expires in 24 hours. If you did not create an account, ignore this email.</p>
</body>
</html>`, link, link)

	textBody := fmt.Sprintf(`Verify your email address

Thanks for signing up. Confirm your address to finish setting up your account:

%s

The link expires in 24 hours. If you did not create an account, ignore this email.
`, link)

	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{email}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Verify your email address")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification email sent",
		pkglogger.EmailAttr("email", email),
		slog.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// LogEmailService writes emails to the log instead of sending them. Used in
// development.
type LogEmailService struct {
	baseURL string
	logger  *slog.Logger
}

func NewLogEmailService(baseURL string, logger *slog.Logger) *LogEmailService {
	return &LogEmailService{baseURL: baseURL, logger: logger}
}

func (s *LogEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	s.logger.InfoContext(ctx, "verification email (not sent)",
		pkglogger.EmailAttr("email", email),
		slog.String("link", verificationLink(s.baseURL, token)))
	return nil
}
