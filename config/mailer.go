package config

import (
	"crypto/tls"

	mail "github.com/go-mail/mail/v2"
	"github.com/pkg/errors"
)

// MailSettings configures outgoing notification emails.
type MailSettings struct {
	Host          string
	Port          int
	User          string
	Pass          string
	From          string // e.g. "NextCompete <no-reply@your.org>"
	SkipTLSVerify bool
}

// LoadMailSettings reads SMTP_* settings.
func LoadMailSettings() MailSettings {
	Conf.SetDefault("smtp_port", 587)
	return MailSettings{
		Host:          Conf.GetString("smtp_host"),
		Port:          Conf.GetInt("smtp_port"),
		User:          Conf.GetString("smtp_user"),
		Pass:          Conf.GetString("smtp_pass"),
		From:          Conf.GetString("smtp_from"),
		SkipTLSVerify: Conf.GetString("smtp_skip_tls_verify") == "1",
	}
}

// Enabled reports whether enough is configured to send mail.
func (m MailSettings) Enabled() bool {
	return m.Host != "" && m.From != ""
}

// SendMail delivers an HTML message through SMTP with mandatory STARTTLS.
func SendMail(m MailSettings, to []string, subject, html string) error {
	if len(to) == 0 {
		return nil
	}
	if !m.Enabled() {
		return errors.New("smtp not configured (SMTP_HOST/SMTP_FROM)")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	d := mail.NewDialer(m.Host, m.Port, m.User, m.Pass)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         m.Host,
		InsecureSkipVerify: m.SkipTLSVerify, // dev only
	}

	return errors.Wrap(d.DialAndSend(msg), "send mail")
}
