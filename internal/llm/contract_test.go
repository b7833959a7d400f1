package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
)

var testOptions = []Option{
	{Code: "601.84", Name: "Otros gastos de venta"},
	{Code: "602.84", Name: "Otros gastos de administración"},
	{Code: "603.84", Name: "Otros gastos financieros"},
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		allowNoneFit bool
		wantCode     string
		wantRanking  []string
		wantNoneFit  bool
		wantErr      error
	}{
		{
			name:        "valid choice with ranking",
			raw:         `{"choice":"602.84","confidence":0.9,"rationale":"storage fee","none_fit":false,"ranking":[{"code":"601.84","confidence":0.05},{"code":"603.84","confidence":0.2}]}`,
			wantCode:    "602.84",
			wantRanking: []string{"603.84", "601.84"},
		},
		{
			name:     "markdown wrapper is stripped",
			raw:      "```json\n{\"choice\":\"601.84\",\"confidence\":0.7,\"rationale\":\"x\",\"none_fit\":false}\n```",
			wantCode: "601.84",
		},
		{
			name:        "ranking outside set and duplicates dropped",
			raw:         `{"choice":"602.84","confidence":0.9,"rationale":"x","none_fit":false,"ranking":[{"code":"999.99","confidence":0.5},{"code":"602.84","confidence":0.4},{"code":"601.84","confidence":0.1}]}`,
			wantCode:    "602.84",
			wantRanking: []string{"601.84"},
		},
		{
			name:    "choice outside set",
			raw:     `{"choice":"701.01","confidence":0.9,"rationale":"x","none_fit":false}`,
			wantErr: common.ErrInvalidChoice,
		},
		{
			name:    "missing required field",
			raw:     `{"choice":"602.84","rationale":"x","none_fit":false}`,
			wantErr: ErrInvalidResponse,
		},
		{
			name:    "confidence out of range",
			raw:     `{"choice":"602.84","confidence":1.5,"rationale":"x","none_fit":false}`,
			wantErr: ErrInvalidResponse,
		},
		{
			name:    "not json",
			raw:     `I think it is 602.84`,
			wantErr: ErrInvalidResponse,
		},
		{
			name:         "none fit allowed",
			raw:          `{"choice":"","confidence":0.2,"rationale":"nothing matches","none_fit":true}`,
			allowNoneFit: true,
			wantNoneFit:  true,
		},
		{
			name:    "none fit not allowed",
			raw:     `{"choice":"","confidence":0.2,"rationale":"nothing matches","none_fit":true}`,
			wantErr: common.ErrInvalidChoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			choice, err := ParseChoice(tt.raw, testOptions, tt.allowNoneFit)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, choice.Code)
			assert.Equal(t, tt.wantNoneFit, choice.NoneFit)

			var codes []string
			for _, r := range choice.Ranking {
				codes = append(codes, r.Code)
			}
			assert.Equal(t, tt.wantRanking, codes)
		})
	}
}

func TestCleanMarkdownWrapper(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "plain", cleanMarkdownWrapper("  plain  "))
}
