package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/studyhall-app/studyhall/internal/pkg/env"
)

// senderConfig is the SMTP side of the notification pipeline. It is loaded
// per send so environment changes take effect without a restart.
type senderConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	FromName    string
	FromAddress string
}

func loadSenderConfig() senderConfig {
	cfg := senderConfig{
		Host:        env.GetEnv("SMTP_HOST", ""),
		Port:        env.GetEnv("SMTP_PORT", "587"),
		Username:    env.GetEnv("SMTP_USERNAME", ""),
		Password:    env.GetEnv("SMTP_PASSWORD", ""),
		FromName:    env.GetEnv("SMTP_FROM_NAME", env.GetEnv("APP_NAME", "Studyhall")),
		FromAddress: env.GetEnv("SMTP_SENDER", ""),
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = "no-reply@localhost"
		log.Printf("SMTP_SENDER not set, using default sender: %s", cfg.FromAddress)
	}
	return cfg
}

func (c senderConfig) addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// from renders the RFC 5322 From header with the display name billing mail
// goes out under.
func (c senderConfig) from() string {
	if c.FromName == "" {
		return c.FromAddress
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromAddress)
}

func (c senderConfig) auth() smtp.Auth {
	if c.Username == "" || c.Password == "" {
		return nil
	}
	return smtp.PlainAuth("", c.Username, c.Password, c.Host)
}

// SendMail delivers one HTML notification email via SMTP.
func SendMail(to string, subject string, body string) error {
	cfg := loadSenderConfig()

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", cfg.from(), to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(cfg.addr(), cfg.auth(), cfg.FromAddress, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, cfg.addr())
	}
	return err
}
