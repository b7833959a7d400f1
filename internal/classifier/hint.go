package classifier

import (
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerline/internal/textnorm"
)

// typeHintPrefixes maps document type labels to the leading digit of the
// families they imply.
var typeHintPrefixes = map[string]string{
	"activo":  "1",
	"asset":   "1",
	"ingreso": "4",
	"income":  "4",
	"costo":   "5",
	"cost":    "5",
	"gasto":   "6",
	"expense": "6",
}

// checkTypeHint compares the document type label with the chosen account.
// The content always wins; a disagreement is logged and noted.
func (c *Classifier) checkTypeHint(r *run, code string, logger *slog.Logger) {
	hint := textnorm.Normalize(r.doc.DocumentTypeHint)
	if hint == "" {
		return
	}
	prefix, ok := typeHintPrefixes[strings.Fields(hint)[0]]
	if !ok || strings.HasPrefix(code, prefix) {
		return
	}

	logger.Info("Document type hint overridden by content",
		"hint", r.doc.DocumentTypeHint,
		"code", code)
	r.notes = append(r.notes, "Document labelled \""+r.doc.DocumentTypeHint+
		"\" but its content indicates account "+code+"; classified by content.")
}
