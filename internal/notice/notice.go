package notice

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"boekuwzending-connect/internal/models"
	"boekuwzending-connect/internal/repository"
)

// Mailer sends plain-text mail.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth
}

// Send implements Mailer.
func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, []byte(msg))
}

// Notifier records admin-visible notices and optionally mails the admin
// about carrier failures. Both paths are best-effort: a failure to notify
// never fails the operation being reported on.
type Notifier struct {
	notices repository.NoticeRepository
	mailer  Mailer
	log     *logrus.Entry
}

// NewNotifier creates a notifier. mailer may be nil to disable mail.
func NewNotifier(notices repository.NoticeRepository, mailer Mailer, log *logrus.Entry) *Notifier {
	return &Notifier{notices: notices, mailer: mailer, log: log}
}

// Error records a dismissible error notice.
func (n *Notifier) Error(ctx context.Context, message string) {
	n.add(ctx, models.NoticeLevelError, message)
}

// Warning records a dismissible warning notice.
func (n *Notifier) Warning(ctx context.Context, message string) {
	n.add(ctx, models.NoticeLevelWarning, message)
}

func (n *Notifier) add(ctx context.Context, level models.NoticeLevel, message string) {
	err := n.notices.Create(ctx, &models.AdminNotice{
		Level:   level,
		Message: message,
	})
	if err != nil {
		n.log.WithError(err).Warn("Failed to store admin notice")
	}
}

// MailAdminError mails the configured admin about a failed carrier call.
func (n *Notifier) MailAdminError(to, orderNumber string, cause error) {
	if n.mailer == nil || to == "" {
		return
	}
	subject := fmt.Sprintf("Boekuwzending error for order %s", orderNumber)
	body := fmt.Sprintf(
		"An error occurred while communicating with Boekuwzending for order %s:\r\n\r\n%v\r\n\r\n"+
			"Please retry the action from the order screen.",
		orderNumber, cause,
	)
	if err := n.mailer.Send(to, subject, body); err != nil {
		n.log.WithError(err).Warn("Failed to send admin error mail")
	}
}
