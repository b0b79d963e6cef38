package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jimdaga/giftwise/internal/models"
	"github.com/wneessen/go-mail"
)

// Mailer hands a rendered mail to an outgoing mail server.
type Mailer interface {
	Send(ctx context.Context, to string, msg *MailMessage) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay, one connection per message.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to string, msg *MailMessage) error {
	message := mail.NewMsg()
	if err := message.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := message.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	message.Subject(msg.Subject)
	message.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// MailTransport delivers reminders by mail. Retries are left to the job.
type MailTransport struct {
	mailer   Mailer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMailTransport(mailer Mailer, logger *slog.Logger) *MailTransport {
	return &MailTransport{
		mailer:   mailer,
		validate: validator.New(),
		logger:   logger.With("component", "transport"),
	}
}

func (t *MailTransport) Channel() models.Channel { return models.ChannelMail }

func (t *MailTransport) Send(ctx context.Context, dest Destination, notification any) error {
	if err := t.validate.Var(dest.Address, "required,email"); err != nil {
		return validationError(t.Channel(), dest.Address, fmt.Errorf("%w: not a mail address", ErrInvalidDestination))
	}

	r, ok := notification.(MailRenderer)
	if !ok {
		return validationError(t.Channel(), dest.Address, fmt.Errorf("%w: %T", ErrUnsupportedNotification, notification))
	}
	msg := r.RenderMail()
	if msg == nil {
		return nil
	}

	if err := t.mailer.Send(ctx, dest.Address, msg); err != nil {
		return &DeliveryError{
			Channel:     t.Channel(),
			Destination: SanitizeDestination(dest.Address),
			Attempts:    1,
			Retryable:   true,
			Err:         err,
		}
	}
	t.logger.Debug("Mail delivered", "destination", SanitizeDestination(dest.Address), "subject", msg.Subject)
	return nil
}
