package validation

import (
	"math"
	"regexp"
	"strings"
)

// Number is any value InRange can compare
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// IsRatioSumValid checks an externally supplied ratio before normalisation
func IsRatioSumValid(carb, protein, fat, tolerance float64) bool {
	return math.Abs(carb+protein+fat-100) <= tolerance
}

// CaloriesFromMacros is the energy implied by the macro grams
func CaloriesFromMacros(carbG, proteinG, fatG float64) int {
	return int(math.Round((carbG+proteinG)*4 + fatG*9))
}

// CalorieDiscrepancyPercent compares reported calories with those implied by
// the macros. It returns 100 when the macros imply no energy at all.
func CalorieDiscrepancyPercent(reportedKcal, carbG, proteinG, fatG float64) float64 {
	computed := float64(CaloriesFromMacros(carbG, proteinG, fatG))
	if computed == 0 {
		return 100
	}
	return math.Abs(reportedKcal-computed) / computed * 100
}

// InRange reports whether min <= value <= max
func InRange[T Number](value, min, max T) bool {
	return value >= min && value <= max
}

// MeetsConfidenceThreshold is false for a missing score
func MeetsConfidenceThreshold(confidence *float64, threshold float64) bool {
	return confidence != nil && *confidence >= threshold
}

// HasCalorieAnomaly reports a discrepancy above threshold percent
func HasCalorieAnomaly(discrepancyPercent, threshold float64) bool {
	return discrepancyPercent > threshold
}

// IsMultipleOf5 is true for whole multiples of five, zero included
func IsMultipleOf5(v float64) bool {
	return math.Mod(v, 5) == 0
}

var servingSizeRe = regexp.MustCompile(
	`^(\d+(?:[.,]\d+)?)\s*(g|mg|kg|ml|mL|L|l|個|枚|本|袋|杯|切れ|粒|食|人前|pieces?|pcs?|servings?|slices?)$`)

// IsValidServingSize checks the "<number><unit>" form, e.g. "100g" or "2枚"
func IsValidServingSize(s string) bool {
	return servingSizeRe.MatchString(strings.TrimSpace(s))
}
