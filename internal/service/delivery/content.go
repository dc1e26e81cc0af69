package delivery

import (
	"bytes"
	"context"
	"strings"
	"text/template"

	"github.com/collectwise/outreach-backend/internal/domain/errors"
	"github.com/collectwise/outreach-backend/internal/domain/messaging"
)

// TemplateRenderer builds message content from per-strategy templates. Every
// template ends with the disclosure block, so rendered content passes the
// disclosure check by construction; the evaluator still verifies it.
type TemplateRenderer struct {
	templates   map[string]*messageTemplate
	disclosures []string
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

type templateData struct {
	AmountDue string
	InvoiceID string
}

var defaultBodies = map[string]struct {
	subject string
	body    string
}{
	"friendly_reminder": {
		subject: "A friendly reminder about your account",
		body: "Hello,\n\nThis is a reminder that your invoice {{.InvoiceID}} with a balance of " +
			"${{.AmountDue}} remains open. If you have already made a payment, please disregard this notice.\n",
	},
	"payment_notice": {
		subject: "Payment notice for invoice {{.InvoiceID}}",
		body: "Hello,\n\nOur records show an outstanding balance of ${{.AmountDue}} on invoice " +
			"{{.InvoiceID}}. Please arrange payment at your earliest convenience.\n",
	},
	"urgent_notice": {
		subject: "Urgent: outstanding balance of ${{.AmountDue}}",
		body: "Hello,\n\nYour balance of ${{.AmountDue}} on invoice {{.InvoiceID}} is now " +
			"significantly past due. Please contact us to arrange payment or discuss options.\n",
	},
	"final_demand": {
		subject: "Final demand for payment",
		body: "Hello,\n\nDespite previous notices, invoice {{.InvoiceID}} with a balance of " +
			"${{.AmountDue}} remains unpaid. This is a final demand before the account is escalated.\n",
	},
	"pre_legal": {
		subject: "Notice before further action",
		body: "Hello,\n\nInvoice {{.InvoiceID}} with a balance of ${{.AmountDue}} remains unpaid " +
			"after repeated notices. The account may be referred for further review.\n",
	},
}

// NewTemplateRenderer creates a renderer with the built-in strategy
// templates and the given disclosure lines appended to every body.
func NewTemplateRenderer(disclosures []string) (*TemplateRenderer, error) {
	r := &TemplateRenderer{
		templates:   make(map[string]*messageTemplate, len(defaultBodies)),
		disclosures: disclosures,
	}
	for strategy, def := range defaultBodies {
		tmpl, err := template.New(strategy).Parse(def.body)
		if err != nil {
			return nil, errors.NewInternalError("invalid message template for " + strategy).WithCause(err)
		}
		r.templates[strategy] = &messageTemplate{subject: def.subject, body: tmpl}
	}
	return r, nil
}

// Render produces the subject and body for the message's strategy
func (r *TemplateRenderer) Render(ctx context.Context, msg *messaging.Message) (string, string, error) {
	tmpl, ok := r.templates[msg.Strategy]
	if !ok {
		return "", "", errors.NewValidationError("UNKNOWN_STRATEGY",
			"no template for strategy "+msg.Strategy)
	}

	data := templateData{
		AmountDue: msg.AmountDue.StringFixed(2),
		InvoiceID: msg.InvoiceID.String(),
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", errors.NewInternalError("rendering message body").WithCause(err)
	}
	if len(r.disclosures) > 0 {
		body.WriteString("\n")
		for _, d := range r.disclosures {
			body.WriteString(sentence(d) + " ")
		}
	}

	subject := strings.ReplaceAll(tmpl.subject, "{{.InvoiceID}}", data.InvoiceID)
	subject = strings.ReplaceAll(subject, "{{.AmountDue}}", data.AmountDue)

	return subject, strings.TrimSpace(body.String()), nil
}

// sentence uppercases the first letter and closes with a period
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = strings.ToUpper(s[:1]) + s[1:]
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
