package domain

import (
	"fmt"
	"math"
	"strings"
)

type ProcessingType string

const (
	ProcessingTypeBasic         ProcessingType = "BASIC"
	ProcessingTypeAISubtitle    ProcessingType = "AI_SUBTITLE"
	ProcessingTypeAIEnhancement ProcessingType = "AI_ENHANCEMENT"
	ProcessingTypeAIUpscaling   ProcessingType = "AI_UPSCALING"
)

// costPerSecond is the credit price of one second of source video.
var costPerSecond = map[ProcessingType]int64{
	ProcessingTypeBasic:         1,
	ProcessingTypeAISubtitle:    2,
	ProcessingTypeAIEnhancement: 2,
	ProcessingTypeAIUpscaling:   3,
}

func ParseProcessingType(raw string) (ProcessingType, error) {
	t := ProcessingType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProcessingType, raw)
	}
	return t, nil
}

func (t ProcessingType) IsValid() bool {
	_, ok := costPerSecond[t]
	return ok
}

func (t ProcessingType) CostPerSecond() int64 {
	return costPerSecond[t]
}

// ProcessingTypes lists every billable type, cheapest first.
func ProcessingTypes() []ProcessingType {
	return []ProcessingType{
		ProcessingTypeBasic,
		ProcessingTypeAISubtitle,
		ProcessingTypeAIEnhancement,
		ProcessingTypeAIUpscaling,
	}
}

// RequiredCredits returns ceil(costPerSecond * durationSeconds), and at least
// one credit for any positive duration. Only a product within a few ulps of a
// whole number is snapped to it, so 3 * 10.0 never bills 31 while 10.0000001
// seconds still bills 11.
func RequiredCredits(t ProcessingType, durationSeconds float64) (int64, error) {
	if !t.IsValid() {
		return 0, ErrInvalidProcessingType
	}
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0, ErrInvalidDuration
	}
	raw := float64(t.CostPerSecond()) * durationSeconds
	if nearest := math.Round(raw); nearest > 0 && math.Abs(raw-nearest) <= nearest*floatSnapTolerance {
		raw = nearest
	}
	credits := int64(math.Ceil(raw))
	if credits < 1 {
		credits = 1
	}
	return credits, nil
}

const floatSnapTolerance = 1e-12

// CostQuote is the side-effect free answer to a credit cost query.
type CostQuote struct {
	ProcessingType  ProcessingType `json:"processingType"`
	CostPerSecond   int64          `json:"costPerSecond"`
	DurationSeconds float64        `json:"durationSeconds"`
	RequiredCredits int64          `json:"requiredCredits"`
	Formula         string         `json:"formula"`
}

func QuoteCost(t ProcessingType, durationSeconds float64) (CostQuote, error) {
	required, err := RequiredCredits(t, durationSeconds)
	if err != nil {
		return CostQuote{}, err
	}
	return CostQuote{
		ProcessingType:  t,
		CostPerSecond:   t.CostPerSecond(),
		DurationSeconds: durationSeconds,
		RequiredCredits: required,
		Formula:         fmt.Sprintf("ceil(%d * %g) = %d", t.CostPerSecond(), durationSeconds, required),
	}, nil
}
