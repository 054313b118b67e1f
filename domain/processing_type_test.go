package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredCredits_Ceiling(t *testing.T) {
	cases := []struct {
		name     string
		pt       ProcessingType
		duration float64
		want     int64
	}{
		{"basic partial second", ProcessingTypeBasic, 10.1, 11},
		{"upscaling partial second", ProcessingTypeAIUpscaling, 10.3, 31},
		{"upscaling scenario", ProcessingTypeAIUpscaling, 120.5, 362},
		{"whole seconds", ProcessingTypeAIUpscaling, 10, 30},
		{"float noise", ProcessingTypeAIUpscaling, 0.1, 1},
		{"tiny clip", ProcessingTypeBasic, 0.001, 1},
		{"subtitle", ProcessingTypeAISubtitle, 60.25, 121},
		{"sub-microsecond clip", ProcessingTypeBasic, 1e-7, 1},
		{"smallest positive duration", ProcessingTypeBasic, math.SmallestNonzeroFloat64, 1},
		{"just over ten seconds", ProcessingTypeBasic, 10.0000001, 11},
		{"just over two minutes", ProcessingTypeBasic, 120.0000004, 121},
		{"just over whole upscale", ProcessingTypeAIUpscaling, 10.0000001, 31},
		{"exact product", ProcessingTypeAIEnhancement, 0.5, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RequiredCredits(tc.pt, tc.duration)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRequiredCredits_Invalid(t *testing.T) {
	_, err := RequiredCredits(ProcessingTypeBasic, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = RequiredCredits(ProcessingTypeBasic, -3)
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = RequiredCredits("UNKNOWN", 10)
	assert.ErrorIs(t, err, ErrInvalidProcessingType)
}

func TestParseProcessingType(t *testing.T) {
	pt, err := ParseProcessingType(" ai_upscaling ")
	require.NoError(t, err)
	assert.Equal(t, ProcessingTypeAIUpscaling, pt)

	_, err = ParseProcessingType("teleport")
	assert.ErrorIs(t, err, ErrInvalidProcessingType)
}

func TestQuoteCost(t *testing.T) {
	q, err := QuoteCost(ProcessingTypeAIUpscaling, 120.5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), q.CostPerSecond)
	assert.Equal(t, int64(362), q.RequiredCredits)
	assert.Equal(t, "ceil(3 * 120.5) = 362", q.Formula)
}
