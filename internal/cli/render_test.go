package cli

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/ledgerline/internal/model"
)

func TestRenderTable(t *testing.T) {
	out := RenderTable(
		[]string{"Code", "Name"},
		[][]string{
			{"602.84", "Otros gastos de venta"},
			{"603.45"},
		},
	)

	assert.Contains(t, out, "Code")
	assert.Contains(t, out, "Otros gastos de venta")
	assert.Contains(t, out, "603.45")
	assert.GreaterOrEqual(t, len(strings.Split(out, "\n")), 3)
}

func TestRenderRecord(t *testing.T) {
	snapshot := &model.DocumentSnapshot{
		Description:      "Tarifas de almacenamiento de Logística de Amazon",
		CounterpartyName: "AMAZON MEXICO",
		Amount:           decimal.RequireFromString("612.7"),
		Currency:         "MXN",
	}

	tests := []struct {
		name        string
		record      model.ClassificationRecord
		contains    []string
		notContains []string
	}{
		{
			name: "pending suggestion",
			record: model.ClassificationRecord{
				DocumentID:       "doc-1",
				Snapshot:         snapshot,
				Status:           model.StatusPendingConfirmation,
				SelectedCode:     "602.84",
				FamilyCode:       "600",
				ConfidenceFamily: 0.91,
				ConfidenceCode:   0.55,
				ModelTier:        model.TierAccurate,
				ModelVersion:     "claude-sonnet-4-5",
				ReviewRequired:   true,
				Explanation:      "Almacenamiento en centro de distribución de Amazon.",
				AlternativeCandidates: []model.AlternativeCandidate{
					{Code: "601.84", Name: "Otros gastos generales", Similarity: 0.64},
				},
			},
			contains: []string{"doc-1", "612.70 MXN", "602.84", "91%", "55%", "review required", "accurate tier", "601.84", "similarity 0.64"},
		},
		{
			name: "memory suggestion",
			record: model.ClassificationRecord{
				DocumentID:     "doc-2",
				Status:         model.StatusPendingConfirmation,
				SelectedCode:   "602.37",
				Source:         model.SourceMemory,
				ConfidenceCode: 1,
			},
			contains:    []string{"from learning memory"},
			notContains: []string{"review required", "Alternatives"},
		},
		{
			name: "failed run",
			record: model.ClassificationRecord{
				DocumentID:    "doc-3",
				Status:        model.StatusNotClassified,
				FailureReason: model.FailureTimeout,
			},
			contains:    []string{"not_classified", "timeout"},
			notContains: []string{"Suggested"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderRecord(&tt.record)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestRenderBatchStatus(t *testing.T) {
	status := &model.BatchStatus{
		BatchID:    "01HZX",
		Total:      5,
		Duplicates: 2,
		Counts: map[model.RecordStatus]int{
			model.StatusPendingConfirmation: 3,
			model.StatusNotClassified:       2,
		},
		FailureReasons: map[model.FailureReason]int{
			model.FailureTimeout:  1,
			model.FailureCanceled: 1,
		},
	}

	out := RenderBatchStatus(status)
	assert.Contains(t, out, "Batch 01HZX (done)")
	assert.Contains(t, out, "5/5")
	assert.Contains(t, out, "2 duplicates skipped")
	assert.Less(t, strings.Index(out, "canceled"), strings.Index(out, "timeout"), "reasons are sorted")

	status.Counts[model.StatusRunning] = 1
	status.Counts[model.StatusNotClassified] = 1
	assert.NotContains(t, RenderBatchStatus(status), "(done)")
}

func TestFormatConfidence(t *testing.T) {
	assert.Contains(t, FormatConfidence(0.873), "87%")
	assert.Contains(t, FormatConfidence(0), "0%")
}
