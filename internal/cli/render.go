package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/ledgerline/internal/model"
)

// RenderTable lays out rows under a styled header. Rows shorter than the
// header are padded with empty cells.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(headers) && i < len(row); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	renderRow := func(cells []string, style lipgloss.Style) string {
		rendered := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			rendered[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, renderRow(headers, TableHeaderStyle))
	for _, row := range rows {
		lines = append(lines, renderRow(row, lipgloss.NewStyle()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// FormatConfidence renders a confidence score as a percentage, colored by
// how much review it needs.
func FormatConfidence(c float64) string {
	text := fmt.Sprintf("%.0f%%", c*100)
	switch {
	case c >= 0.85:
		return SuccessStyle.Render(text)
	case c >= 0.6:
		return WarningStyle.Render(text)
	default:
		return ErrorStyle.Render(text)
	}
}

// FormatStatus colors a record status.
func FormatStatus(status model.RecordStatus) string {
	switch status {
	case model.StatusConfirmed, model.StatusCorrected:
		return SuccessStyle.Render(string(status))
	case model.StatusPendingConfirmation:
		return WarningStyle.Render(string(status))
	case model.StatusNotClassified:
		return ErrorStyle.Render(string(status))
	default:
		return SubtleStyle.Render(string(status))
	}
}

// RenderRecord shows one classification record for review.
func RenderRecord(r *model.ClassificationRecord) string {
	var b strings.Builder

	if r.Snapshot != nil {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Description:"), r.Snapshot.Description)
		if r.Snapshot.CounterpartyName != "" {
			fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Counterparty:"), r.Snapshot.CounterpartyName)
		}
		fmt.Fprintf(&b, "%s %s %s\n", BoldStyle.Render("Amount:"), r.Snapshot.Amount.StringFixed(2), r.Snapshot.Currency)
	}
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Status:"), FormatStatus(r.Status))

	if r.Status == model.StatusNotClassified {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Reason:"), ErrorStyle.Render(string(r.FailureReason)))
	} else if r.SelectedCode != "" {
		fmt.Fprintf(&b, "%s %s (family %s %s, account %s)\n",
			BoldStyle.Render("Suggested:"),
			r.SelectedCode,
			r.FamilyCode,
			FormatConfidence(r.ConfidenceFamily),
			FormatConfidence(r.ConfidenceCode))
		if r.Source == model.SourceMemory {
			b.WriteString(SubtleStyle.Render("from learning memory") + "\n")
		} else if r.ModelVersion != "" {
			b.WriteString(SubtleStyle.Render(fmt.Sprintf("%s tier, model %s", r.ModelTier, r.ModelVersion)) + "\n")
		}
	}
	if r.CorrectedCode != "" {
		fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render("Corrected to:"), r.CorrectedCode)
	}
	if r.ReviewRequired {
		b.WriteString(FormatWarning("Low confidence: review required") + "\n")
	}
	if r.Explanation != "" {
		b.WriteString("\n" + r.Explanation + "\n")
	}
	if len(r.AlternativeCandidates) > 0 {
		b.WriteString("\n" + BoldStyle.Render("Alternatives:") + "\n")
		for _, alt := range r.AlternativeCandidates {
			line := fmt.Sprintf("  %s %s %s", alt.Code, alt.Name, SubtleStyle.Render(fmt.Sprintf("similarity %.2f", alt.Similarity)))
			if alt.Confidence > 0 {
				line += " " + FormatConfidence(alt.Confidence)
			}
			b.WriteString(line + "\n")
		}
	}

	return RenderBox(ReviewIcon+" "+r.DocumentID, strings.TrimRight(b.String(), "\n"))
}

// RenderBatchStatus summarizes a batch's progress.
func RenderBatchStatus(s *model.BatchStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d/%d", BoldStyle.Render("Completed:"), s.Completed(), s.Total)
	if s.Duplicates > 0 {
		fmt.Fprintf(&b, "  %s", SubtleStyle.Render(fmt.Sprintf("(%d duplicates skipped)", s.Duplicates)))
	}
	b.WriteString("\n")

	for _, status := range []model.RecordStatus{
		model.StatusQueued,
		model.StatusRunning,
		model.StatusPendingConfirmation,
		model.StatusConfirmed,
		model.StatusCorrected,
		model.StatusNotClassified,
	} {
		if n := s.Counts[status]; n > 0 {
			fmt.Fprintf(&b, "  %-22s %d\n", FormatStatus(status), n)
		}
	}

	if len(s.FailureReasons) > 0 {
		reasons := make([]string, 0, len(s.FailureReasons))
		for reason := range s.FailureReasons {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		b.WriteString(BoldStyle.Render("Failures:") + "\n")
		for _, reason := range reasons {
			fmt.Fprintf(&b, "  %-22s %d\n", reason, s.FailureReasons[model.FailureReason(reason)])
		}
	}

	title := ChartIcon + " Batch " + s.BatchID
	switch {
	case s.Canceled:
		title += " (canceled)"
	case s.Done():
		title += " (done)"
	}
	return RenderBox(title, strings.TrimRight(b.String(), "\n"))
}
