package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

const (
	verificationSubject  = "Verify your email address"
	passwordResetSubject = "Password Reset Request"
)

var (
	verificationHTML = htmltemplate.Must(htmltemplate.New("verification.html").Parse(
		`<p>Hi {{.Name}},</p>` +
			`<p>Please click the following link to verify your email address:</p>` +
			`<a href="{{.Link}}">{{.Link}}</a>`))
	verificationText = texttemplate.Must(texttemplate.New("verification.txt").Parse(
		"Hi {{.Name}},\n\nPlease open the following link to verify your email address:\n{{.Link}}\n"))

	passwordResetHTML = htmltemplate.Must(htmltemplate.New("password_reset.html").Parse(
		`<p>Hi {{.Name}},</p>` +
			`<p>You requested to reset your password. Click the link below to reset it:</p>` +
			`<a href="{{.Link}}">{{.Link}}</a>` +
			`<p>This link expires at {{.ExpiresAt}}.</p>`))
	passwordResetText = texttemplate.Must(texttemplate.New("password_reset.txt").Parse(
		"Hi {{.Name}},\n\nYou requested to reset your password. Open the link below to reset it:\n{{.Link}}\n\nThis link expires at {{.ExpiresAt}}.\n"))
)

type templateData struct {
	Name      string
	Link      string
	ExpiresAt string
}

func renderBodies(html *htmltemplate.Template, text *texttemplate.Template, data templateData) (string, string, error) {
	var htmlBuf, textBuf bytes.Buffer
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", html.Name(), err)
	}
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", text.Name(), err)
	}
	return htmlBuf.String(), textBuf.String(), nil
}
