package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Service sends operational notices to staff.
type Service interface {
	SendOverdueNotice(ctx context.Context, to, officerName, testCode, testType string, daysOverdue int) error
	SendCustom(ctx context.Context, to, subject, body string) error
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendOverdueNotice(ctx context.Context, to, officerName, testCode, testType string, daysOverdue int) error {
	subject := fmt.Sprintf("Overdue lab test %s", testCode)
	body := fmt.Sprintf(
		"Dear %s,\n\nLab test %s (%s) ordered by you is %d day(s) past its due date and has not been completed.\nPlease follow up with the laboratory.\n",
		officerName, testCode, testType, daysOverdue,
	)
	return s.SendCustom(ctx, to, subject, body)
}

func (s *smtpService) SendCustom(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
