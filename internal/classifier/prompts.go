package classifier

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Veraticus/ledgerline/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// promptBuilder renders the per-stage prompts.
type promptBuilder struct {
	templates *template.Template
}

func newPromptBuilder() (*promptBuilder, error) {
	funcMap := template.FuncMap{
		"join": strings.Join,
	}

	tmpl, err := template.New("prompts").Funcs(funcMap).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &promptBuilder{templates: tmpl}, nil
}

type familyPromptData struct {
	Document *model.DocumentSnapshot
	Hints    []model.ClassificationCandidate
}

type subfamilyPromptData struct {
	Document    *model.DocumentSnapshot
	RuleVersion string
	Family      model.CatalogEntry
	Hints       []model.RuleHint
}

type finalPromptData struct {
	Document   *model.DocumentSnapshot
	FamilyCode string
	Scope      []string
	Broadened  bool
}

func (pb *promptBuilder) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pb.templates.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
