package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutribot/internal/models"
)

func TestDecodeReply_Accepted(t *testing.T) {
	legacy := DecodeOptions{AllowLegacyArity: true}

	tests := []struct {
		name string
		raw  string
		want models.NutrientEstimate
	}{
		{
			name: "json four values",
			raw:  `{"recognized": true, "values": [1.2, 27.0, 0.4, 210]}`,
			want: models.NutrientEstimate{ProteinG: 1.2, CarbsG: 27.0, FatG: 0.4, CaloriesKcal: 210},
		},
		{
			name: "json in code fence",
			raw:  "```json\n{\"recognized\": true, \"values\": [10, 0, 5, 85]}\n```",
			want: models.NutrientEstimate{ProteinG: 10, CarbsG: 0, FatG: 5, CaloriesKcal: 85},
		},
		{
			name: "plain tuple",
			raw:  "1.2 27 0.4 210",
			want: models.NutrientEstimate{ProteinG: 1.2, CarbsG: 27, FatG: 0.4, CaloriesKcal: 210},
		},
		{
			name: "legacy three values derive calories",
			raw:  `{"recognized": true, "values": [10, 20, 5]}`,
			want: models.NutrientEstimate{ProteinG: 10, CarbsG: 20, FatG: 5, CaloriesKcal: 165},
		},
		{
			name: "zeros are valid values",
			raw:  "0 0 0 0",
			want: models.NutrientEstimate{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DecodeReply(tt.raw, legacy)
			require.NoError(t, err)
			assert.Equal(t, Recognized, res.Outcome)
			assert.InDelta(t, tt.want.ProteinG, res.Estimate.ProteinG, 1e-9)
			assert.InDelta(t, tt.want.CarbsG, res.Estimate.CarbsG, 1e-9)
			assert.InDelta(t, tt.want.FatG, res.Estimate.FatG, 1e-9)
			assert.InDelta(t, tt.want.CaloriesKcal, res.Estimate.CaloriesKcal, 1e-9)
		})
	}
}

func TestDecodeReply_Unrecognized(t *testing.T) {
	for _, raw := range []string{`{"recognized": false}`, "NAO_RECONHECIDO", "  nao_reconhecido\n"} {
		res, err := DecodeReply(raw, DecodeOptions{})
		require.NoError(t, err, raw)
		assert.Equal(t, Unrecognized, res.Outcome, raw)
	}
}

func TestDecodeReply_MalformedIsTransportError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"prose", "Bananas are great!"},
		{"negative", `{"recognized": true, "values": [1, -2, 3, 4]}`},
		{"string value", `{"recognized": true, "values": [1, "2", 3, 4]}`},
		{"null value", `{"recognized": true, "values": [1.2, null, 0.4, 210]}`},
		{"all null", `{"recognized": true, "values": [null, null, null, null]}`},
		{"null calories", `{"recognized": true, "values": [1, 2, 3, null]}`},
		{"too many", "1 2 3 4 5"},
		{"too few", "1 2"},
		{"nan", "NaN 1 2 3"},
		{"inf", "1 +Inf 2 3"},
		{"missing recognized", `{"values": [1, 2, 3, 4]}`},
		{"broken json", `{"recognized": true, "values": [1, 2`},
		{"legacy arity disabled", "1 2 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeReply(tt.raw, DecodeOptions{AllowLegacyArity: false})
			require.ErrorIs(t, err, models.ErrTransport)
		})
	}
}

func TestAtwaterCalories(t *testing.T) {
	assert.InDelta(t, 4*1.2+4*27+9*0.4, AtwaterCalories(1.2, 27, 0.4), 1e-9)
}
