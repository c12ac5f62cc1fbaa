package notify

import (
	"agora/internal/decision/model"
	"bytes"
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// DecisionContext is the data available to the decision email template.
type DecisionContext struct {
	Decision   model.Decision
	OwnerEmail string
	URL        string
}

// RenderDecisionBody renders the HTML body announcing a new decision.
func RenderDecisionBody(ctxt DecisionContext) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "email_decision_body.html", ctxt); err != nil {
		return "", err
	}
	return buf.String(), nil
}
