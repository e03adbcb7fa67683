package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"os"
	"path/filepath"
)

type EmailService struct {
	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	fromName     string
	templates    map[string]*template.Template
}

type EmailData struct {
	To          string
	Subject     string
	TemplateKey string
	Data        interface{}
}

func NewEmailService() (*EmailService, error) {
	service := &EmailService{
		smtpHost:     os.Getenv("SMTP_HOST"),
		smtpPort:     os.Getenv("SMTP_PORT"),
		smtpUsername: os.Getenv("SMTP_USERNAME"),
		smtpPassword: os.Getenv("SMTP_PASSWORD"),
		fromEmail:    os.Getenv("FROM_EMAIL"),
		fromName:     os.Getenv("FROM_NAME"),
		templates:    make(map[string]*template.Template),
	}

	if err := service.loadTemplates(); err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return service, nil
}

// Configured reports whether SMTP delivery is set up. Receipts are skipped
// when it isn't.
func (s *EmailService) Configured() bool {
	return s.smtpHost != ""
}

func (s *EmailService) loadTemplates() error {
	templateDir := "internal/email/templates"

	templates := map[string]string{
		"payment_success": "payment_success.html",
		"payment_failed":  "payment_failed.html",
	}

	for key, filename := range templates {
		path := filepath.Join(templateDir, filename)
		tmpl, err := template.ParseFiles(path)
		if err != nil {
			tmpl = template.Must(template.New(key).Parse(defaultTemplate))
		}
		s.templates[key] = tmpl
	}

	return nil
}

func (s *EmailService) SendEmail(data EmailData) error {
	tmpl, ok := s.templates[data.TemplateKey]
	if !ok {
		return fmt.Errorf("template %s not found", data.TemplateKey)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data.Data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	message := fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s", s.fromName, s.fromEmail, data.To, data.Subject, body.String())

	auth := smtp.PlainAuth("", s.smtpUsername, s.smtpPassword, s.smtpHost)
	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)

	err := smtp.SendMail(addr, auth, s.fromEmail, []string{data.To}, []byte(message))
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

type PaymentSuccessData struct {
	StudentName string
	Amount      string
	Currency    string
	Reference   string
	ReceiptURL  string
}

func (s *EmailService) SendPaymentSuccess(to string, data PaymentSuccessData) error {
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     "Payment received - Thank you!",
		TemplateKey: "payment_success",
		Data:        data,
	})
}

type PaymentFailedData struct {
	StudentName string
	Amount      string
	Currency    string
	Reason      string
	RetryURL    string
}

func (s *EmailService) SendPaymentFailed(to string, data PaymentFailedData) error {
	return s.SendEmail(EmailData{
		To:          to,
		Subject:     "Your payment could not be completed",
		TemplateKey: "payment_failed",
		Data:        data,
	})
}

const defaultTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Email</title>
</head>
<body>
    <p>{{.}}</p>
</body>
</html>
`
