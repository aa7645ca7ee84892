package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig configures the SMTP channel. The channel is only built when
// Username and Password are both set.
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	FromName string        `yaml:"from_name"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether credentials are present.
func (c SMTPConfig) Enabled() bool { return c.Username != "" && c.Password != "" }

func (c *SMTPConfig) defaults() {
	if c.Host == "" {
		c.Host = "smtp.gmail.com"
	}
	if c.Port == 0 {
		c.Port = 587
	}
	if c.From == "" {
		c.From = c.Username
	}
	if c.FromName == "" {
		c.FromName = "pagewatch"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// SMTP submits HTML mail over STARTTLS with PLAIN auth.
type SMTP struct {
	cfg SMTPConfig
}

// NewSMTP returns the channel. It does not dial; connection errors surface
// on Send.
func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("notify: smtp username and password are required")
	}
	cfg.defaults()
	return &SMTP{cfg: cfg}, nil
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, msg *Message) error {
	m, err := s.buildMsg(msg)
	if err != nil {
		return &SendError{Channel: s.Name(), Cause: err}
	}
	client, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
		mail.WithTimeout(s.cfg.Timeout),
	)
	if err != nil {
		return &SendError{Channel: s.Name(), Cause: err}
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &SendError{Channel: s.Name(), Cause: err}
	}
	return nil
}

func (s *SMTP) buildMsg(msg *Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(msg.Recipient); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}
