package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"ipwatch/internal/config"
	"ipwatch/internal/types"
	"ipwatch/internal/utils"
)

const emailTemplate = `The IP address of {{.Machine}} ({{.Hostname}}) has changed:
{{range .Changes}}
  {{.}}
{{- end}}
{{if .Server}}
The server queried was {{.Server}}.
{{end}}
Detected at {{.Timestamp.Format "2006-01-02 15:04:05 MST"}}.
`

// emailData represents email template data
type emailData struct {
	Machine   string
	Hostname  string
	Changes   []string
	Server    string
	Timestamp time.Time
}

// EmailNotifier delivers notifications either over SMTP or through a
// sendmail-compatible local mail command
type EmailNotifier struct {
	config *config.EmailConfig
	tmpl   *template.Template
	logger *zap.Logger
}

// NewEmailNotifier creates an email notifier
func NewEmailNotifier(cfg *config.EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	tmpl, err := template.New("email").Parse(emailTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}

	return &EmailNotifier{
		config: cfg,
		tmpl:   tmpl,
		logger: logger,
	}, nil
}

// Name returns the channel name
func (n *EmailNotifier) Name() string {
	return "email"
}

// NotifyIPChange sends an IP change notification
func (n *EmailNotifier) NotifyIPChange(event *types.ChangeEvent) error {
	subject, body, err := n.buildMessage(event)
	if err != nil {
		return err
	}

	return utils.Retry(3, time.Second, func() error {
		if n.config.Mode == "command" {
			return n.sendCommand(subject, body)
		}
		return n.sendSMTP(subject, body)
	})
}

// buildMessage renders the subject line and plain-text body for an event
func (n *EmailNotifier) buildMessage(event *types.ChangeEvent) (string, string, error) {
	data := emailData{
		Machine:   event.Machine,
		Hostname:  event.Hostname,
		Changes:   event.Changes.Summaries(),
		Server:    event.Server,
		Timestamp: event.Timestamp,
	}

	var body bytes.Buffer
	if err := n.tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("failed to render email template: %w", err)
	}

	newIP := ""
	if event.Changes.External != nil {
		newIP = event.Changes.External.New
	} else if event.Changes.Local != nil {
		newIP = event.Changes.Local.New
	}

	subject := fmt.Sprintf("[ipwatch] %s: new IP %s", event.Machine, newIP)
	return subject, body.String(), nil
}

// sendCommand pipes the message through a sendmail-compatible local mail
// command, e.g. /usr/bin/mail
func (n *EmailNotifier) sendCommand(subject, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := append([]string{"-s", subject}, n.config.To...)
	cmd := exec.CommandContext(ctx, n.config.Command, args...)
	cmd.Stdin = strings.NewReader(body)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("mail command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return nil
}

// sendSMTP delivers the message directly over SMTP
func (n *EmailNotifier) sendSMTP(subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n%s",
		n.config.From,
		strings.Join(n.config.To, ","),
		subject,
		body)

	addr := fmt.Sprintf("%s:%d", n.config.SMTPServer, n.config.SMTPPort)

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.SMTPServer)
	}

	if !n.config.UseTLS {
		if err := smtp.SendMail(addr, auth, n.config.From, n.config.To, []byte(msg)); err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	}

	// Implicit TLS (typically port 465).
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: n.config.SMTPServer})
	if err != nil {
		return fmt.Errorf("failed to establish TLS connection: %w", err)
	}

	client, err := smtp.NewClient(conn, n.config.SMTPServer)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(n.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range n.config.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}
