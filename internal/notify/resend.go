package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

const defaultFrom = "AJ STUDIOZ <noreply@ajstudioz.co.in>"

type emailService interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend sends alerts through the Resend email API.
type Resend struct {
	emails emailService
	from   string
	to     []string
	logger *slog.Logger
	now    func() time.Time
}

var _ Notifier = (*Resend)(nil)

// NewResend creates a Resend notifier. to is a comma-separated recipient list.
func NewResend(apiKey, from, to string, logger *slog.Logger) *Resend {
	return newResend(resend.NewClient(apiKey).Emails, from, to, logger)
}

func newResend(emails emailService, from, to string, logger *slog.Logger) *Resend {
	if from == "" {
		from = defaultFrom
	}
	if logger == nil {
		logger = slog.Default()
	}
	var recipients []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return &Resend{emails: emails, from: from, to: recipients, logger: logger, now: time.Now}
}

type quotaData struct {
	Provider  string
	Message   string
	Timestamp string
}

type downData struct {
	Timestamp string
}

var quotaTemplate = template.Must(template.New("quota").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #d97706;">API Quota Exhausted</h2>
  <p>The <strong>{{.Provider}}</strong> API reported a quota or billing limit. Requests are failing over to the next provider.</p>
  <p><strong>Error:</strong></p>
  <pre style="background: #f3f4f6; padding: 12px; border-radius: 6px; white-space: pre-wrap;">{{.Message}}</pre>
  <p><strong>Time:</strong> {{.Timestamp}}</p>
  <p>Top up credits or raise the limit for {{.Provider}} to restore primary capacity.</p>
</div>`))

var downTemplate = template.Must(template.New("down").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #dc2626;">All AI Providers Are Down</h2>
  <p>Every configured provider (v0, Claude, Grok, DeepSeek) failed for the same request. Users are receiving 503 errors.</p>
  <p><strong>Time:</strong> {{.Timestamp}}</p>
  <p>Check vendor status pages, API keys and billing immediately.</p>
</div>`))

func (r *Resend) SendQuotaExhausted(ctx context.Context, provider domain.ProviderID, message string) Result {
	subject := fmt.Sprintf("⚠️ %s API Quota Exhausted", strings.ToUpper(provider.String()))
	return r.send(ctx, subject, quotaTemplate, quotaData{
		Provider:  provider.DisplayName(),
		Message:   message,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	})
}

func (r *Resend) SendAllProvidersDown(ctx context.Context) Result {
	return r.send(ctx, "🚨 URGENT: All AI Providers Are Down", downTemplate, downData{
		Timestamp: r.now().UTC().Format(time.RFC3339),
	})
}

func (r *Resend) send(ctx context.Context, subject string, tmpl *template.Template, data any) Result {
	res := Result{Provider: "resend"}
	if len(r.to) == 0 {
		res.Error = "no recipients configured"
		r.logger.Warn("alert not sent", slog.String("subject", subject), slog.String("error", res.Error))
		return res
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		res.Error = fmt.Sprintf("render template: %v", err)
		r.logger.Error("alert not sent", slog.String("subject", subject), slog.String("error", res.Error))
		return res
	}

	sent, err := r.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      r.to,
		Subject: subject,
		Html:    body.String(),
	})
	if err != nil {
		res.Error = err.Error()
		r.logger.Error("failed to send alert",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		return res
	}

	res.Success = true
	res.ID = sent.Id
	r.logger.Info("alert sent", slog.String("subject", subject), slog.String("id", sent.Id))
	return res
}
