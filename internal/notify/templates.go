package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

func mustTemplate(kind Kind, subject, html, text string) emailTemplate {
	return emailTemplate{
		subject: subject,
		html:    htmltemplate.Must(htmltemplate.New(string(kind)).Parse(html)),
		text:    texttemplate.Must(texttemplate.New(string(kind)).Parse(text)),
	}
}

var templates = map[Kind]emailTemplate{
	KindVerificationCode: mustTemplate(KindVerificationCode,
		"Your verification code - {{.Brand}}",
		`<h2>Welcome to {{.Brand}}{{if .Name}}, {{.Name}}{{end}}!</h2>
<p>Your verification code is:</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>The code expires in {{.TTL}}.</p>`,
		`Welcome to {{.Brand}}{{if .Name}}, {{.Name}}{{end}}!

Your verification code is: {{.Code}}
The code expires in {{.TTL}}.
`),
	KindResetLink: mustTemplate(KindResetLink,
		"Password recovery - {{.Brand}}",
		`<p>Click <a href="{{.Link}}">here</a> to reset your password. This link expires in {{.TTL}}.</p>
<p>If you did not ask for a password reset you can ignore this email.</p>`,
		`Open the link below to reset your password. It expires in {{.TTL}}.

{{.Link}}

If you did not ask for a password reset you can ignore this email.
`),
	KindResetConfirmation: mustTemplate(KindResetConfirmation,
		"Password updated - {{.Brand}}",
		`<p>Your password has been updated. <a href="{{.Link}}">Sign in</a></p>`,
		`Your password has been updated. Sign in at {{.Link}}
`),
	KindWelcome: mustTemplate(KindWelcome,
		"Your {{.Brand}} account is ready",
		`<h2>Thanks for verifying your email{{if .Name}}, {{.Name}}{{end}}!</h2>
<p>Your account is active. <a href="{{.Link}}">Start shopping</a></p>`,
		`Thanks for verifying your email{{if .Name}}, {{.Name}}{{end}}!

Your account is active: {{.Link}}
`),
}

type templateData struct {
	Brand string
	Name  string
	Code  string
	Link  string
	TTL   string
}

// Templates renders the account emails for one storefront.
type Templates struct {
	brand       string
	frontendURL string
}

func NewTemplates(brand, frontendURL string) *Templates {
	return &Templates{brand: brand, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (t *Templates) VerificationCode(to, name, code string, ttl time.Duration) (Message, error) {
	return t.render(KindVerificationCode, to, templateData{Name: name, Code: code, TTL: humanDuration(ttl)})
}

// ResetLink renders the message carrying FRONTEND_URL/reset-password/<token>.
func (t *Templates) ResetLink(to, token string, ttl time.Duration) (Message, error) {
	return t.render(KindResetLink, to, templateData{Link: t.ResetURL(token), TTL: humanDuration(ttl)})
}

func (t *Templates) ResetConfirmation(to string) (Message, error) {
	return t.render(KindResetConfirmation, to, templateData{Link: t.frontendURL + "/login"})
}

func (t *Templates) Welcome(to, name string) (Message, error) {
	return t.render(KindWelcome, to, templateData{Name: name, Link: t.frontendURL + "/"})
}

// ResetURL is the frontend page that accepts a reset token.
func (t *Templates) ResetURL(token string) string {
	return t.frontendURL + "/reset-password/" + url.PathEscape(token)
}

func (t *Templates) render(kind Kind, to string, data templateData) (Message, error) {
	tpl, ok := templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", kind)
	}
	data.Brand = t.brand

	subject, err := texttemplate.New("subject").Parse(tpl.subject)
	if err != nil {
		return Message{}, fmt.Errorf("parse %s subject: %w", kind, err)
	}
	var subj, html, text bytes.Buffer
	if err := subject.Execute(&subj, data); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", kind, err)
	}
	if err := tpl.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", kind, err)
	}
	return Message{Kind: kind, To: to, Subject: subj.String(), HTML: html.String(), Text: text.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if d == time.Hour {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		if d == time.Minute {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
