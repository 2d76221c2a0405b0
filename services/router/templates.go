package router

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/rostergate/rostergate/services/permission"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	tmplAmbiguous     = "guidance_ambiguous"
	tmplTryAgain      = "guidance_try_again"
	tmplDeniedGeneric = "denied_generic"
)

// fallbackText is used if a template fails to render.
const fallbackText = "Sorry, I can't process that request right now."

type templateData struct {
	DisplayName string
	Action      string
	Required    permission.Level
}

type messages struct {
	tpl *template.Template
}

func loadMessages() (*messages, error) {
	tpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	return &messages{tpl: tpl}, nil
}

func (m *messages) render(name string, data templateData) string {
	var body bytes.Buffer
	if err := m.tpl.ExecuteTemplate(&body, name, data); err != nil || body.Len() == 0 {
		return fallbackText
	}
	return body.String()
}

func (m *messages) guidance(class permission.ConversationClass, data templateData) string {
	return m.render("guidance_"+string(class), data)
}

func (m *messages) denied(class permission.ConversationClass, data templateData) string {
	return m.render("denied_"+string(class), data)
}
