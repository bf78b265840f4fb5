package email

import (
	"context"

	"go.uber.org/zap"
)

// Provider delivers donor-facing mail such as thank-you notes.
type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data TemplateData) error
}

// TemplateData feeds one of the embedded templates. Subject overrides the
// template's default subject when set.
type TemplateData struct {
	Subject string
	Fields  map[string]any
}

// DiscardProvider drops every message. It is used when no SMTP host is
// configured; the zero value is silent.
type DiscardProvider struct {
	Log *zap.Logger
}

func (p *DiscardProvider) Send(_ context.Context, to []string, subject string, _ string) error {
	p.note(to, subject)
	return nil
}

func (p *DiscardProvider) SendTemplate(_ context.Context, to []string, templateName string, _ TemplateData) error {
	p.note(to, templateName)
	return nil
}

func (p *DiscardProvider) note(to []string, what string) {
	if p.Log == nil {
		return
	}
	p.Log.Debug("email discarded", zap.Strings("to", to), zap.String("message", what))
}
